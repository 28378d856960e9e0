package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "hostsmaster/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("0.0.0.0 ads.example"))
	}))
	defer srv.Close()

	got, err := NewFetcher(time.Second).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0 ads.example", got)
}

func TestFetchNon2xxIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewFetcher(time.Second).Fetch(context.Background(), srv.URL)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestFetchEnforcesSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	_, err := NewFetcher(time.Second, WithMaxBytes(32)).Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrTooLarge)

	got, err := NewFetcher(time.Second, WithMaxBytes(64)).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, got, 64, "a body exactly at the limit is accepted")
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewFetcher(50 * time.Millisecond).Fetch(context.Background(), srv.URL)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Zero(t, fe.StatusCode)
}

func TestFetchInvalidURL(t *testing.T) {
	_, err := NewFetcher(0).Fetch(context.Background(), "://nope")
	var fe *FetchError
	assert.True(t, errors.As(err, &fe))
}

// Package remote downloads remote scheme content and keeps remote schemes
// fresh with a periodic sweep.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultMaxBytes = 5 << 20
)

// ErrTooLarge reports a response body above the configured limit.
var ErrTooLarge = errors.New("response body too large")

// FetchError describes a failed download. StatusCode is zero when no
// response was received.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher performs plain GETs with a timeout and a body size limit.
type Fetcher struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithClient replaces the HTTP client. Its Timeout is left untouched.
func WithClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// WithMaxBytes caps the accepted body size.
func WithMaxBytes(n int64) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// NewFetcher builds a Fetcher. A non-positive timeout uses DefaultTimeout.
func NewFetcher(timeout time.Duration, opts ...FetcherOption) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	f := &Fetcher{
		client:    &http.Client{Timeout: timeout},
		maxBytes:  DefaultMaxBytes,
		userAgent: "hostsmaster/1.0",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the body of url as text. Any non-2xx status is an error.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/plain, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &FetchError{URL: url, StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", &FetchError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > f.maxBytes {
		return "", &FetchError{URL: url, Err: fmt.Errorf("limit %d bytes: %w", f.maxBytes, ErrTooLarge)}
	}
	return string(body), nil
}

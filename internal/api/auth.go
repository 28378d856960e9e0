package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/zeebo/blake3"
)

var (
	errNoCredentials    = errors.New("missing Authorization header")
	errNotBearer        = errors.New("authorization scheme must be Bearer")
	errEmptyToken       = errors.New("missing API key")
	errTokenMismatch    = errors.New("invalid API key")
	errAuthUnconfigured = errors.New("API key not configured")
)

// bearerToken pulls the token out of "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errNoCredentials
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", errNotBearer
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errEmptyToken
	}
	return token, nil
}

// checkToken compares digests so neither the length nor the content of the
// configured key leaks through timing.
func checkToken(token, configured string) error {
	if configured == "" {
		return errAuthUnconfigured
	}
	got := blake3.Sum256([]byte(token))
	want := blake3.Sum256([]byte(configured))
	if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
		return errTokenMismatch
	}
	return nil
}

// authMiddleware guards every route except /healthz. An empty configured
// key locks the API rather than opening it.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err == nil {
			err = checkToken(token, s.config.APIKey)
		}
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="hostsmaster"`)
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

package api

import (
	"errors"
	"net/http"

	"github.com/mattjoyce/hostsmaster/internal/hosts"
	"github.com/mattjoyce/hostsmaster/internal/hostsfile"
	"github.com/mattjoyce/hostsmaster/internal/remote"
	"github.com/mattjoyce/hostsmaster/internal/scheduler"
	"github.com/mattjoyce/hostsmaster/internal/transfer"
	"github.com/mattjoyce/hostsmaster/internal/tree"
	"github.com/mattjoyce/hostsmaster/internal/version"
	"github.com/mattjoyce/hostsmaster/internal/workspace"
)

// statusFor maps a domain error to an HTTP status.
func statusFor(err error) int {
	var fetchErr *remote.FetchError
	switch {
	case errors.Is(err, tree.ErrNotFound),
		errors.Is(err, workspace.ErrNotFound),
		errors.Is(err, version.ErrNotFound),
		errors.Is(err, scheduler.ErrRuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, tree.ErrInvalidMove),
		errors.Is(err, tree.ErrWrongType),
		errors.Is(err, tree.ErrProtected),
		errors.Is(err, hosts.ErrInvalidInput),
		errors.Is(err, workspace.ErrInvalidName),
		errors.Is(err, transfer.ErrInvalidImport),
		errors.Is(err, transfer.ErrUnknownFormat),
		scheduler.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, workspace.ErrLastWorkspace):
		return http.StatusConflict
	case errors.Is(err, hostsfile.ErrPermissionDenied),
		errors.Is(err, hostsfile.ErrUserCancelled):
		return http.StatusForbidden
	case errors.Is(err, hostsfile.ErrIOFailure),
		errors.As(err, &fetchErr):
		return http.StatusBadGateway
	case errors.Is(err, hostsfile.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError maps err and writes it. A rejected move also carries
// its reason.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	resp := ErrorResponse{Error: err.Error()}
	var moveErr *tree.MoveError
	if errors.As(err, &moveErr) {
		resp.Reason = moveErr.Reason
	}
	respondJSON(w, status, resp)
}

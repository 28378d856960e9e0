package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/hostsmaster/internal/scheduler"
	"github.com/mattjoyce/hostsmaster/internal/transfer"
)

func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	list, err := s.hosts.ListWorkspaces(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, WorkspacesResponse{Workspaces: list})
}

func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req NameRequest
	if !s.decode(w, r, &req) {
		return
	}
	ws, err := s.hosts.CreateWorkspace(r.Context(), req.Name)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, ws)
}

func (s *Server) handleSwitchWorkspace(w http.ResponseWriter, r *http.Request) {
	snap, err := s.hosts.SwitchWorkspace(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRenameWorkspace(w http.ResponseWriter, r *http.Request) {
	var req NameRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.hosts.RenameWorkspace(r.Context(), chi.URLParam(r, "id"), req.Name); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := s.hosts.DeleteWorkspace(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) requireSchedules(w http.ResponseWriter) bool {
	if s.schedules == nil {
		s.writeError(w, http.StatusServiceUnavailable, "scheduler is disabled")
		return false
	}
	return true
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	if !s.requireSchedules(w) {
		return
	}
	respondJSON(w, http.StatusOK, SchedulesResponse{Rules: nonNil(s.schedules.List())})
}

func (s *Server) handleActiveSchedules(w http.ResponseWriter, r *http.Request) {
	if !s.requireSchedules(w) {
		return
	}
	respondJSON(w, http.StatusOK, SchedulesResponse{Rules: nonNil(s.schedules.Active(time.Now()))})
}

func (s *Server) handleAddSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.requireSchedules(w) {
		return
	}
	var req ScheduleRequest
	if !s.decode(w, r, &req) {
		return
	}
	spec, err := req.spec()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule, err := s.schedules.Add(r.Context(), spec)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleRemoveSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.requireSchedules(w) {
		return
	}
	if err := s.schedules.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (req ScheduleRequest) spec() (scheduler.RuleSpec, error) {
	spec := scheduler.RuleSpec{
		ItemID:   req.ItemID,
		Mode:     scheduler.Mode(req.Mode),
		Duration: time.Duration(req.Duration) * time.Millisecond,
		Repeat:   scheduler.Repeat(req.Repeat),
		Action:   scheduler.Action(req.Action),
	}
	if req.ExecuteTime != "" {
		t, err := time.Parse(time.RFC3339, req.ExecuteTime)
		if err != nil {
			return spec, fmt.Errorf("executeTime must be RFC 3339: %w", err)
		}
		spec.ExecuteTime = t
	}
	return spec, nil
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	list, err := s.hosts.Versions(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, VersionsResponse{Versions: list})
}

func (s *Server) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	var req VersionRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	v, err := s.hosts.CreateVersion(r.Context(), req.Content, req.Description)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, v)
}

func (s *Server) handleRollbackVersion(w http.ResponseWriter, r *http.Request) {
	v, err := s.hosts.RollbackVersion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, v)
}

func (s *Server) handleApplyVersion(w http.ResponseWriter, r *http.Request) {
	v, err := s.hosts.ApplyVersion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

// handleExport handles GET /export?format=json|csv&ids=a,b. The export
// holds the children of the root group.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = transfer.FormatJSON
	}
	var ids []string
	if raw := r.URL.Query().Get("ids"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}

	items := transfer.Filter(s.hosts.Snapshot().Root.Children, ids)
	body, err := transfer.Export(items, format)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	contentType := "application/json"
	if format == transfer.FormatCSV {
		contentType = "text/csv; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="hosts-schemes.%s"`, format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// handleImport handles POST /import?parent=<groupId> with an exported JSON
// array as the body.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}
	items, err := transfer.ImportJSON(data)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	idMap, err := s.hosts.Graft(r.Context(), parentOrRoot(r.URL.Query().Get("parent")), items)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, ImportResponse{IDMap: idMap})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

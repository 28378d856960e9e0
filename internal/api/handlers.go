package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/hostsmaster/internal/tree"
)

// maxBodyBytes bounds JSON request bodies. Imports get the same limit.
const maxBodyBytes = 8 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.hosts.Snapshot()
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Workspace:     snap.WorkspaceID,
		ActiveSchemes: len(snap.Active),
	}
	if s.stats != nil {
		st := s.stats.Stats()
		resp.Writes = st.Writes
		resp.WriteFailures = st.Failures
		resp.WritePending = st.Pending
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetTree(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.hosts.Snapshot())
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if !s.decode(w, r, &req) {
		return
	}
	item, err := s.hosts.CreateGroup(r.Context(), parentOrRoot(req.ParentID), req.Name)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, ItemResponse{Item: item})
}

func (s *Server) handleCreateScheme(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if !s.decode(w, r, &req) {
		return
	}
	item, err := s.hosts.CreateScheme(r.Context(), parentOrRoot(req.ParentID), req.Name, req.Content)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, ItemResponse{Item: item})
}

func (s *Server) handleCreateRemoteScheme(w http.ResponseWriter, r *http.Request) {
	var req CreateRemoteRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.SyncInterval < 0 {
		s.writeError(w, http.StatusBadRequest, "syncInterval must not be negative")
		return
	}
	interval := time.Duration(req.SyncInterval) * time.Millisecond
	item, err := s.hosts.CreateRemoteScheme(r.Context(), parentOrRoot(req.ParentID), req.Name, req.URL, interval)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, ItemResponse{Item: item})
}

func (s *Server) handleUpdateContent(w http.ResponseWriter, r *http.Request) {
	var req ContentRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.hosts.UpdateContent(r.Context(), id, req.Content); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.respondItem(w, r, id)
}

func (s *Server) handleSyncRemote(w http.ResponseWriter, r *http.Request) {
	item, err := s.hosts.SyncRemote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ItemResponse{Item: item})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	s.respondItem(w, r, chi.URLParam(r, "id"))
}

func (s *Server) handleRenameItem(w http.ResponseWriter, r *http.Request) {
	var req NameRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.hosts.Rename(r.Context(), id, req.Name); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.respondItem(w, r, id)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := s.hosts.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMoveCheck(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	if target == "" {
		s.writeError(w, http.StatusBadRequest, "target query parameter is required")
		return
	}
	respondJSON(w, http.StatusOK, s.hosts.ValidateMove(chi.URLParam(r, "id"), target))
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.hosts.Move(r.Context(), id, req.Target); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.respondItem(w, r, id)
}

func (s *Server) handleGetActive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ActiveResponse{ActiveSchemes: s.hosts.Snapshot().Active})
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req ActiveRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ActiveSchemes == nil {
		s.writeError(w, http.StatusBadRequest, "activeSchemes is required")
		return
	}
	if err := s.hosts.SetActive(r.Context(), req.ActiveSchemes); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ActiveResponse{ActiveSchemes: s.hosts.Snapshot().Active})
}

func (s *Server) handleGetHosts(w http.ResponseWriter, r *http.Request) {
	content, err := s.hosts.ReadSystem()
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	merged := s.hosts.Merged()
	respondJSON(w, http.StatusOK, HostsResponse{
		Content: content,
		Merged:  merged,
		InSync:  content == merged,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.hosts.Reset(r.Context()); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s.hosts.Snapshot())
}

func (s *Server) respondItem(w http.ResponseWriter, r *http.Request, id string) {
	item, err := s.hosts.Find(id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ItemResponse{Item: item})
}

// decode reads a JSON body into v, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			s.writeError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func parentOrRoot(id string) string {
	if id == "" {
		return tree.RootID
	}
	return id
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

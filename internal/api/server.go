package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/hostsmaster/internal/events"
	"github.com/mattjoyce/hostsmaster/internal/hosts"
	"github.com/mattjoyce/hostsmaster/internal/hostsfile"
	"github.com/mattjoyce/hostsmaster/internal/scheduler"
	"github.com/mattjoyce/hostsmaster/internal/tree"
	"github.com/mattjoyce/hostsmaster/internal/version"
	"github.com/mattjoyce/hostsmaster/internal/workspace"
)

// HostsService is the command surface the API drives. *hosts.Service
// satisfies it.
type HostsService interface {
	Snapshot() hosts.Snapshot
	Find(id string) (*tree.Item, error)
	Merged() string
	ReadSystem() (string, error)

	CreateGroup(ctx context.Context, parentID, name string) (*tree.Item, error)
	CreateScheme(ctx context.Context, parentID, name, content string) (*tree.Item, error)
	CreateRemoteScheme(ctx context.Context, parentID, name, url string, interval time.Duration) (*tree.Item, error)
	SyncRemote(ctx context.Context, id string) (*tree.Item, error)
	Rename(ctx context.Context, id, name string) error
	UpdateContent(ctx context.Context, id, content string) error
	Delete(ctx context.Context, id string) error
	ValidateMove(id, target string) tree.MoveCheck
	Move(ctx context.Context, id, target string) error
	SetActive(ctx context.Context, ids []string) error
	Graft(ctx context.Context, parentID string, items []*tree.Item) (map[string]string, error)
	Reset(ctx context.Context) error

	ListWorkspaces(ctx context.Context) ([]workspace.Summary, error)
	CreateWorkspace(ctx context.Context, name string) (*workspace.Workspace, error)
	RenameWorkspace(ctx context.Context, id, name string) error
	SwitchWorkspace(ctx context.Context, id string) (hosts.Snapshot, error)
	DeleteWorkspace(ctx context.Context, id string) error

	Versions(ctx context.Context) ([]version.Version, error)
	CreateVersion(ctx context.Context, content, description string) (version.Version, error)
	RollbackVersion(ctx context.Context, id string) (version.Version, error)
	ApplyVersion(ctx context.Context, id string) (version.Version, error)
}

// Schedules is the rule surface. *scheduler.Scheduler satisfies it.
type Schedules interface {
	Add(ctx context.Context, spec scheduler.RuleSpec) (scheduler.Rule, error)
	Remove(ctx context.Context, id string) error
	List() []scheduler.Rule
	Active(now time.Time) []scheduler.Rule
}

// EventSource feeds the SSE stream. *events.Hub satisfies it.
type EventSource interface {
	Subscribe(topics ...string) (<-chan events.Event, func())
	SnapshotSince(lastID int64) []events.Event
}

// WriterStats reports write coordinator counters for /healthz.
type WriterStats interface {
	Stats() hostsfile.Stats
}

// Config holds API server configuration
type Config struct {
	Listen string
	APIKey string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	hosts     HostsService
	schedules Schedules
	events    EventSource
	stats     WriterStats
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. schedules and stats may be nil;
// schedule routes then answer 503.
func New(config Config, svc HostsService, schedules Schedules, hub EventSource, stats WriterStats, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		hosts:     svc,
		schedules: schedules,
		events:    hub,
		stats:     stats,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// route is one protected endpoint. The table drives both the chi router and
// the OpenAPI document.
type route struct {
	method  string
	pattern string
	summary string
	handler http.HandlerFunc
}

func (s *Server) routes() []route {
	return []route{
		{http.MethodGet, "/tree", "Current workspace forest and active list", s.handleGetTree},
		{http.MethodPost, "/groups", "Create a group", s.handleCreateGroup},
		{http.MethodPost, "/schemes", "Create a local scheme", s.handleCreateScheme},
		{http.MethodPost, "/schemes/remote", "Create a scheme from a URL", s.handleCreateRemoteScheme},
		{http.MethodPut, "/schemes/{id}/content", "Replace scheme content", s.handleUpdateContent},
		{http.MethodPost, "/schemes/{id}/sync", "Re-download a remote scheme", s.handleSyncRemote},
		{http.MethodGet, "/items/{id}", "Get one item", s.handleGetItem},
		{http.MethodPatch, "/items/{id}", "Rename an item", s.handleRenameItem},
		{http.MethodDelete, "/items/{id}", "Delete an item and its descendants", s.handleDeleteItem},
		{http.MethodGet, "/items/{id}/move-check", "Check whether a move is allowed", s.handleMoveCheck},
		{http.MethodPost, "/items/{id}/move", "Move an item into a group", s.handleMove},
		{http.MethodGet, "/active", "List active scheme ids", s.handleGetActive},
		{http.MethodPut, "/active", "Replace the active list and write the hosts file", s.handleSetActive},
		{http.MethodGet, "/hosts", "Read the system hosts file", s.handleGetHosts},
		{http.MethodPost, "/reset", "Empty the workspace and reset the hosts file", s.handleReset},
		{http.MethodGet, "/workspaces", "List workspaces", s.handleListWorkspaces},
		{http.MethodPost, "/workspaces", "Create a workspace", s.handleCreateWorkspace},
		{http.MethodPost, "/workspaces/{id}/switch", "Switch the live workspace", s.handleSwitchWorkspace},
		{http.MethodPatch, "/workspaces/{id}", "Rename a workspace", s.handleRenameWorkspace},
		{http.MethodDelete, "/workspaces/{id}", "Delete a workspace", s.handleDeleteWorkspace},
		{http.MethodGet, "/schedules", "List schedule rules", s.handleListSchedules},
		{http.MethodPost, "/schedules", "Add a schedule rule", s.handleAddSchedule},
		{http.MethodGet, "/schedules/active", "List rules that will still fire", s.handleActiveSchedules},
		{http.MethodDelete, "/schedules/{id}", "Remove a schedule rule", s.handleRemoveSchedule},
		{http.MethodGet, "/versions", "List versions of the live workspace", s.handleListVersions},
		{http.MethodPost, "/versions", "Snapshot content as a new version", s.handleCreateVersion},
		{http.MethodPost, "/versions/{id}/rollback", "Record an earlier version as the newest", s.handleRollbackVersion},
		{http.MethodPost, "/versions/{id}/apply", "Write a version to the hosts file", s.handleApplyVersion},
		{http.MethodGet, "/export", "Export the forest as JSON or CSV", s.handleExport},
		{http.MethodPost, "/import", "Import an exported JSON forest", s.handleImport},
		{http.MethodGet, "/events", "Server-sent event stream", s.handleEvents},
	}
}

// Handler builds the HTTP router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/openapi.json", s.handleOpenAPI)
		for _, rt := range s.routes() {
			r.Method(rt.method, rt.pattern, rt.handler)
		}
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

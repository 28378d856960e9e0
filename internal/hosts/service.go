// Package hosts is the command surface of the application. One Service owns
// the live workspace tree; every mutation is serialised by its mutex, is
// persisted, and recomputes and commits the system hosts file when it changes
// what is active.
package hosts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mattjoyce/hostsmaster/internal/events"
	"github.com/mattjoyce/hostsmaster/internal/merge"
	"github.com/mattjoyce/hostsmaster/internal/tree"
	"github.com/mattjoyce/hostsmaster/internal/version"
	"github.com/mattjoyce/hostsmaster/internal/workspace"
)

// ResetContent is written to the system file by Reset.
const ResetContent = "127.0.0.1 localhost\n::1 localhost"

var (
	// ErrInvalidInput rejects empty names and malformed arguments.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotPersisted means the workspace could not be saved; the live tree
	// was rolled back to its state before the call.
	ErrNotPersisted = errors.New("workspace not persisted")
)

// Writer commits content to the system hosts file. *hostsfile.Coordinator
// satisfies it.
type Writer interface {
	Commit(ctx context.Context, content string) error
	Read() (string, error)
}

// Fetcher downloads remote scheme content. *remote.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Versions is the per-workspace snapshot log. *version.Log satisfies it.
type Versions interface {
	List(ctx context.Context, workspaceID string) ([]version.Version, error)
	Get(ctx context.Context, workspaceID, id string) (version.Version, error)
	Create(ctx context.Context, workspaceID, content, description string) (version.Version, error)
	Rollback(ctx context.Context, workspaceID, id string) (version.Version, error)
	Drop(ctx context.Context, workspaceID string) error
}

// Options wires a Service.
type Options struct {
	Workspaces workspace.Manager
	Versions   Versions
	Writer     Writer
	Fetcher    Fetcher
	Events     events.Publisher
	Logger     *slog.Logger
	Now        func() time.Time
	NewID      func() string

	// RemoteInterval is used for remote schemes created without a sync
	// interval. Zero falls back to tree.DefaultRemoteSyncInterval.
	RemoteInterval time.Duration
}

// Snapshot is a consistent copy of the live workspace.
type Snapshot struct {
	WorkspaceID   string     `json:"workspaceId"`
	WorkspaceName string     `json:"workspaceName"`
	Root          *tree.Item `json:"root"`
	Active        []string   `json:"activeSchemes"`
}

type Service struct {
	workspaces workspace.Manager
	versions   Versions
	writer     Writer
	fetcher    Fetcher
	events     events.Publisher
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
	remoteInt  time.Duration

	// mu is the single logical thread for mutations. It is never held while
	// waiting on a commit or a fetch.
	mu   sync.Mutex
	ws   *workspace.Workspace
	tree *tree.Store

	syncs singleflight.Group
}

// New loads the current workspace and returns a ready Service.
func New(ctx context.Context, opts Options) (*Service, error) {
	if opts.Workspaces == nil || opts.Writer == nil {
		return nil, fmt.Errorf("hosts service needs a workspace manager and a writer")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Service{
		workspaces: opts.Workspaces,
		versions:   opts.Versions,
		writer:     opts.Writer,
		fetcher:    opts.Fetcher,
		events:     opts.Events,
		logger:     opts.Logger.With("component", "hosts"),
		now:        opts.Now,
		newID:      opts.NewID,
		remoteInt:  opts.RemoteInterval,
	}

	ws, err := s.workspaces.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("load current workspace: %w", err)
	}
	s.loadLocked(ws)
	s.logger.Info("Loaded workspace", "workspace_id", ws.ID, "active", len(ws.ActiveSchemes))
	return s, nil
}

func (s *Service) loadLocked(ws *workspace.Workspace) {
	s.ws = ws
	s.tree = tree.New(ws.Root().Clone(), ws.ActiveSchemes, s.treeOpts()...)
}

// Snapshot returns the live forest and active list.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Service) snapshotLocked() Snapshot {
	return Snapshot{
		WorkspaceID:   s.ws.ID,
		WorkspaceName: s.ws.Name,
		Root:          s.tree.Root(),
		Active:        s.tree.ActiveIDs(),
	}
}

// Find returns a copy of one item.
func (s *Service) Find(id string) (*tree.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Find(id)
}

// ActiveIDs returns the active list in merge order.
func (s *Service) ActiveIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.ActiveIDs()
}

// Merged returns the content the system file should hold.
func (s *Service) Merged() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return merge.Merge(s.tree.ActiveIDs(), s.tree)
}

// ReadSystem returns the current system file.
func (s *Service) ReadSystem() (string, error) {
	return s.writer.Read()
}

// CreateGroup appends a group under parentID.
func (s *Service) CreateGroup(ctx context.Context, parentID, name string) (*tree.Item, error) {
	if err := requireName(name); err != nil {
		return nil, err
	}
	var created *tree.Item
	err := s.mutate(ctx, "create_group", func() (bool, error) {
		var err error
		created, err = s.tree.CreateGroup(parentID, name)
		return false, err
	})
	if errors.Is(err, ErrNotPersisted) {
		return nil, err
	}
	return created, err
}

// CreateScheme appends a local scheme under parentID.
func (s *Service) CreateScheme(ctx context.Context, parentID, name, content string) (*tree.Item, error) {
	if err := requireName(name); err != nil {
		return nil, err
	}
	var created *tree.Item
	err := s.mutate(ctx, "create_scheme", func() (bool, error) {
		var err error
		created, err = s.tree.CreateScheme(parentID, name, content)
		return false, err
	})
	if errors.Is(err, ErrNotPersisted) {
		return nil, err
	}
	return created, err
}

// Rename changes an item's display name.
func (s *Service) Rename(ctx context.Context, id, name string) error {
	if err := requireName(name); err != nil {
		return err
	}
	return s.mutate(ctx, "rename", func() (bool, error) {
		return false, s.tree.Rename(id, name)
	})
}

// UpdateContent replaces a scheme's content, committing if it is active.
func (s *Service) UpdateContent(ctx context.Context, id, content string) error {
	return s.mutate(ctx, "update_content", func() (bool, error) {
		if err := s.tree.UpdateContent(id, content); err != nil {
			return false, err
		}
		return s.tree.IsActive(id), nil
	})
}

// Delete removes an item and its descendants.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.mutate(ctx, "delete", func() (bool, error) {
		pruned, err := s.tree.Delete(id)
		return len(pruned) > 0, err
	})
}

// ValidateMove is the read-only form of Move.
func (s *Service) ValidateMove(id, target string) tree.MoveCheck {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.ValidateMove(id, target)
}

// Move re-parents an item.
func (s *Service) Move(ctx context.Context, id, target string) error {
	return s.mutate(ctx, "move", func() (bool, error) {
		return false, s.tree.Move(id, target)
	})
}

// SetActive replaces the active list and commits the merged content.
func (s *Service) SetActive(ctx context.Context, ids []string) error {
	return s.mutate(ctx, "set_active", func() (bool, error) {
		s.tree.SetActive(ids)
		return true, nil
	})
}

// Activate appends id to the active list if absent.
func (s *Service) Activate(ctx context.Context, id string) error {
	return s.mutate(ctx, "activate", func() (bool, error) {
		return s.tree.Activate(id), nil
	})
}

// Deactivate removes id from the active list.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	return s.mutate(ctx, "deactivate", func() (bool, error) {
		return s.tree.Deactivate(id), nil
	})
}

// Graft appends imported items under parentID with fresh ids.
func (s *Service) Graft(ctx context.Context, parentID string, items []*tree.Item) (map[string]string, error) {
	var idMap map[string]string
	err := s.mutate(ctx, "import", func() (bool, error) {
		var err error
		idMap, err = s.tree.Graft(parentID, items)
		return false, err
	})
	if errors.Is(err, ErrNotPersisted) {
		return nil, err
	}
	return idMap, err
}

// Reset empties the live workspace and writes ResetContent.
func (s *Service) Reset(ctx context.Context) error {
	s.mu.Lock()
	prev := s.tree
	s.tree = tree.New(nil, nil, s.treeOpts()...)
	if err := s.persistLocked(ctx); err != nil {
		s.tree = prev
		s.mu.Unlock()
		return err
	}
	wsID := s.ws.ID
	s.mu.Unlock()

	s.logger.Warn("Workspace reset", "workspace_id", wsID)
	s.publish(events.HostsChanged, map[string]any{"workspace_id": wsID, "reason": "reset"})
	return s.writer.Commit(ctx, ResetContent)
}

// Recommit writes the merged content of the live workspace.
func (s *Service) Recommit(ctx context.Context) error {
	return s.writer.Commit(ctx, s.Merged())
}

// mutate runs fn under the mutex, persists the workspace, and commits the
// merged content when fn reports the active content changed. A failed save
// restores the tree as it was before fn; a failed commit is returned but the
// mutation stays.
func (s *Service) mutate(ctx context.Context, op string, fn func() (bool, error)) error {
	s.mu.Lock()
	root, active := s.tree.Root(), s.tree.ActiveIDs()
	commit, err := fn()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.persistLocked(ctx); err != nil {
		s.tree = tree.New(root, active, s.treeOpts()...)
		s.mu.Unlock()
		s.logger.Error("Workspace save failed, mutation rolled back", "op", op, "error", err)
		return err
	}
	wsID := s.ws.ID
	var content string
	if commit {
		content = merge.Merge(s.tree.ActiveIDs(), s.tree)
	}
	s.mu.Unlock()

	s.logger.Debug("Workspace mutated", "op", op, "workspace_id", wsID, "commit", commit)
	s.publish(events.HostsChanged, map[string]any{"workspace_id": wsID, "reason": op})
	if !commit {
		return nil
	}
	return s.writer.Commit(ctx, content)
}

// persistLocked saves the live tree. s.ws only takes the new forest once the
// save succeeded.
func (s *Service) persistLocked(ctx context.Context) error {
	next := *s.ws
	next.Groups = []*tree.Item{s.tree.Root()}
	next.ActiveSchemes = s.tree.ActiveIDs()
	if err := s.workspaces.Save(ctx, &next); err != nil {
		return fmt.Errorf("persist workspace %q: %w: %w", s.ws.ID, ErrNotPersisted, err)
	}
	s.ws = &next
	return nil
}

func (s *Service) treeOpts() []tree.Option {
	if s.newID == nil {
		return nil
	}
	return []tree.Option{tree.WithIDGenerator(s.newID)}
}

func (s *Service) publish(topic string, data any) {
	if s.events != nil {
		s.events.Publish(topic, data)
	}
}

func requireName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name is empty: %w", ErrInvalidInput)
	}
	return nil
}

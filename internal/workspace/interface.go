package workspace

import (
	"context"
	"errors"
	"time"

	"github.com/mattjoyce/hostsmaster/internal/tree"
)

var (
	ErrNotFound      = errors.New("workspace not found")
	ErrLastWorkspace = errors.New("cannot delete the last workspace")
	ErrInvalidName   = errors.New("workspace name is empty")
)

// DefaultID names the workspace seeded on first start.
const (
	DefaultID         = "default"
	DefaultName       = "Default"
	DefaultSchemeID   = "default"
	DefaultSchemeName = "Default"
	DefaultContent    = "127.0.0.1 localhost"
)

// Workspace is an independent forest plus its active-scheme list.
type Workspace struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Groups        []*tree.Item `json:"groups"`
	ActiveSchemes []string     `json:"activeSchemes"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// Root returns the workspace root group, creating one if the stored forest
// is empty.
func (w *Workspace) Root() *tree.Item {
	if len(w.Groups) == 0 || w.Groups[0] == nil {
		w.Groups = []*tree.Item{tree.NewRoot()}
	}
	return w.Groups[0]
}

// Summary is the listing view of a workspace.
type Summary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Current bool   `json:"current"`
}

// Manager owns the set of workspaces and which one is current.
type Manager interface {
	// List returns workspaces in creation order.
	List(ctx context.Context) ([]Summary, error)

	// Current returns the current workspace.
	Current(ctx context.Context) (*Workspace, error)

	// Get returns a workspace by id.
	Get(ctx context.Context, id string) (*Workspace, error)

	// Create adds a workspace with an empty root. It does not switch to it.
	Create(ctx context.Context, name string) (*Workspace, error)

	// Switch makes id current and returns it.
	Switch(ctx context.Context, id string) (*Workspace, error)

	// Rename changes a workspace's display name.
	Rename(ctx context.Context, id, name string) error

	// Delete removes id. Deleting the current workspace makes the first
	// remaining one current; switched reports whether that happened.
	Delete(ctx context.Context, id string) (current *Workspace, switched bool, err error)

	// Save persists ws (forest and active list).
	Save(ctx context.Context, ws *Workspace) error
}

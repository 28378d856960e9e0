package workspace

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/hostsmaster/internal/log"
	"github.com/mattjoyce/hostsmaster/internal/tree"
)

const (
	indexKey        = "workspaces"
	workspacePrefix = "workspace/"
)

// DocumentStore is the persistence the manager needs; *state.Store
// satisfies it.
type DocumentStore interface {
	Get(ctx context.Context, key string, v any) (bool, error)
	Put(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
}

type index struct {
	Order   []string `json:"order"`
	Current string   `json:"current"`
}

// storeManager keeps one document per workspace and an index document with
// the ordered ids and the current id.
type storeManager struct {
	docs  DocumentStore
	now   func() time.Time
	newID func() string

	mu  sync.Mutex
	idx index
}

var _ Manager = (*storeManager)(nil)

// Open loads the workspace index, seeding the default workspace on first use.
func Open(ctx context.Context, docs DocumentStore) (*storeManager, error) {
	m := &storeManager{
		docs:  docs,
		now:   time.Now,
		newID: uuid.NewString,
	}

	ok, err := docs.Get(ctx, indexKey, &m.idx)
	if err != nil {
		return nil, fmt.Errorf("load workspace index: %w", err)
	}
	if ok && len(m.idx.Order) > 0 {
		if !slices.Contains(m.idx.Order, m.idx.Current) {
			m.idx.Current = m.idx.Order[0]
			if err := m.saveIndex(ctx); err != nil {
				return nil, err
			}
		}
		return m, nil
	}

	ws := Seed(m.now())
	if err := m.put(ctx, ws); err != nil {
		return nil, err
	}
	m.idx = index{Order: []string{ws.ID}, Current: ws.ID}
	if err := m.saveIndex(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Seed builds the first-run workspace: one active localhost scheme.
func Seed(now time.Time) *Workspace {
	root := tree.NewRoot()
	root.Children = append(root.Children, &tree.Item{
		ID:      DefaultSchemeID,
		Name:    DefaultSchemeName,
		Type:    tree.TypeScheme,
		Content: DefaultContent,
	})
	return &Workspace{
		ID:            DefaultID,
		Name:          DefaultName,
		Groups:        []*tree.Item{root},
		ActiveSchemes: []string{DefaultSchemeID},
		CreatedAt:     now,
	}
}

func (m *storeManager) List(ctx context.Context) ([]Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Summary, 0, len(m.idx.Order))
	for _, id := range m.idx.Order {
		ws, err := m.load(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, Summary{ID: ws.ID, Name: ws.Name, Current: id == m.idx.Current})
	}
	return out, nil
}

func (m *storeManager) Current(ctx context.Context) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(ctx, m.idx.Current)
}

func (m *storeManager) Get(ctx context.Context, id string) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(m.idx.Order, id) {
		return nil, fmt.Errorf("get %q: %w", id, ErrNotFound)
	}
	return m.load(ctx, id)
}

func (m *storeManager) Create(ctx context.Context, name string) (*Workspace, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ws := &Workspace{
		ID:            m.newID(),
		Name:          name,
		Groups:        []*tree.Item{tree.NewRoot()},
		ActiveSchemes: []string{},
		CreatedAt:     m.now(),
	}
	if err := m.put(ctx, ws); err != nil {
		return nil, err
	}
	m.idx.Order = append(m.idx.Order, ws.ID)
	if err := m.saveIndex(ctx); err != nil {
		m.idx.Order = m.idx.Order[:len(m.idx.Order)-1]
		_ = m.docs.Delete(ctx, workspacePrefix+ws.ID)
		return nil, err
	}
	return ws, nil
}

func (m *storeManager) Switch(ctx context.Context, id string) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(m.idx.Order, id) {
		return nil, fmt.Errorf("switch to %q: %w", id, ErrNotFound)
	}
	ws, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := m.idx.Current
	m.idx.Current = id
	if err := m.saveIndex(ctx); err != nil {
		m.idx.Current = prev
		return nil, err
	}
	return ws, nil
}

func (m *storeManager) Rename(ctx context.Context, id, name string) error {
	name, err := validateName(name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(m.idx.Order, id) {
		return fmt.Errorf("rename %q: %w", id, ErrNotFound)
	}
	ws, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	ws.Name = name
	return m.put(ctx, ws)
}

func (m *storeManager) Delete(ctx context.Context, id string) (*Workspace, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos := slices.Index(m.idx.Order, id)
	if pos < 0 {
		return nil, false, fmt.Errorf("delete %q: %w", id, ErrNotFound)
	}
	if len(m.idx.Order) == 1 {
		return nil, false, fmt.Errorf("delete %q: %w", id, ErrLastWorkspace)
	}

	order := slices.Delete(slices.Clone(m.idx.Order), pos, pos+1)
	current := m.idx.Current
	switched := current == id
	if switched {
		current = order[0]
	}
	// Load before touching the index so a failure leaves everything as is.
	cur, err := m.load(ctx, current)
	if err != nil {
		return nil, false, err
	}

	prev := m.idx
	m.idx = index{Order: order, Current: current}
	if err := m.saveIndex(ctx); err != nil {
		m.idx = prev
		return nil, false, err
	}
	// The index no longer references id, so a leftover document is only
	// unreachable data.
	if err := m.docs.Delete(ctx, workspacePrefix+id); err != nil {
		log.WithComponent("workspace").Warn("Orphaned workspace document left behind",
			"workspace_id", id, "error", err)
	}
	return cur, switched, nil
}

func (m *storeManager) Save(ctx context.Context, ws *Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(m.idx.Order, ws.ID) {
		return fmt.Errorf("save %q: %w", ws.ID, ErrNotFound)
	}
	return m.put(ctx, ws)
}

func (m *storeManager) load(ctx context.Context, id string) (*Workspace, error) {
	var ws Workspace
	ok, err := m.docs.Get(ctx, workspacePrefix+id, &ws)
	if err != nil {
		return nil, fmt.Errorf("load workspace %q: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("load %q: %w", id, ErrNotFound)
	}
	ws.Root()
	if ws.ActiveSchemes == nil {
		ws.ActiveSchemes = []string{}
	}
	return &ws, nil
}

func (m *storeManager) put(ctx context.Context, ws *Workspace) error {
	if err := m.docs.Put(ctx, workspacePrefix+ws.ID, ws); err != nil {
		return fmt.Errorf("save workspace %q: %w", ws.ID, err)
	}
	return nil
}

func (m *storeManager) saveIndex(ctx context.Context) error {
	if err := m.docs.Put(ctx, indexKey, m.idx); err != nil {
		return fmt.Errorf("save workspace index: %w", err)
	}
	return nil
}

func validateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", ErrInvalidName
	}
	return trimmed, nil
}

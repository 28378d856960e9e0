package tree

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store owns one forest and its active-id list. Every mutator validates
// before touching the forest, so a failed call leaves it unchanged.
//
// Store is not safe for concurrent use; callers serialise access.
type Store struct {
	root   *Item
	active []string
	newID  func() string
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides the id generator (uuid by default).
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// New creates a Store over root (an empty root group when nil) with the given
// active ids. The root is used as-is; pass a clone to keep the original.
func New(root *Item, active []string, opts ...Option) *Store {
	if root == nil {
		root = NewRoot()
	}
	if root.Children == nil {
		root.Children = []*Item{}
	}
	s := &Store{
		root:   root,
		active: slices.Clone(active),
		newID:  uuid.NewString,
	}
	if s.active == nil {
		s.active = []string{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns a deep copy of the forest.
func (s *Store) Root() *Item { return s.root.Clone() }

// ActiveIDs returns a copy of the active-id list in merge order.
func (s *Store) ActiveIDs() []string { return slices.Clone(s.active) }

// IsActive reports whether id is in the active list.
func (s *Store) IsActive(id string) bool { return slices.Contains(s.active, id) }

// Find returns a copy of the item with id.
func (s *Store) Find(id string) (*Item, error) {
	loc, ok := locate(s.root, id)
	if !ok {
		return nil, fmt.Errorf("find %q: %w", id, ErrNotFound)
	}
	return loc.item.Clone(), nil
}

// Lookup resolves id to the live item. It satisfies merge.Resolver; the
// returned item must not be modified.
func (s *Store) Lookup(id string) (*Item, bool) {
	loc, ok := locate(s.root, id)
	if !ok {
		return nil, false
	}
	return loc.item, true
}

// ParentID returns the id of the group that holds id ("" for the root).
func (s *Store) ParentID(id string) (string, error) {
	loc, ok := locate(s.root, id)
	if !ok {
		return "", fmt.Errorf("parent of %q: %w", id, ErrNotFound)
	}
	if loc.parent == nil {
		return "", nil
	}
	return loc.parent.ID, nil
}

// Schemes returns copies of every scheme in traversal order.
func (s *Store) Schemes() []*Item {
	var out []*Item
	_ = Walk(s.root, func(item, _ *Item, _ int) error {
		if item.IsScheme() {
			out = append(out, item.Clone())
		}
		return nil
	})
	return out
}

// Groups returns the ids and names of every group in traversal order.
func (s *Store) Groups() []*Item {
	var out []*Item
	_ = Walk(s.root, func(item, _ *Item, _ int) error {
		if item.IsGroup() {
			out = append(out, &Item{ID: item.ID, Name: item.Name, Type: TypeGroup})
		}
		return nil
	})
	return out
}

func (s *Store) group(id string) (*Item, error) {
	loc, ok := locate(s.root, id)
	if !ok || !loc.item.IsGroup() {
		return nil, fmt.Errorf("group %q: %w", id, ErrNotFound)
	}
	return loc.item, nil
}

// CreateGroup appends a new empty group to parentID.
func (s *Store) CreateGroup(parentID, name string) (*Item, error) {
	parent, err := s.group(parentID)
	if err != nil {
		return nil, err
	}
	g := &Item{ID: s.newID(), Name: name, Type: TypeGroup, Children: []*Item{}}
	parent.Children = append(parent.Children, g)
	return g.Clone(), nil
}

// CreateScheme appends a new local scheme to parentID.
func (s *Store) CreateScheme(parentID, name, content string) (*Item, error) {
	parent, err := s.group(parentID)
	if err != nil {
		return nil, err
	}
	sc := &Item{ID: s.newID(), Name: name, Type: TypeScheme, Content: content}
	parent.Children = append(parent.Children, sc)
	return sc.Clone(), nil
}

// CreateRemoteScheme appends a scheme whose content was fetched from url.
func (s *Store) CreateRemoteScheme(parentID, name, url, content string, interval time.Duration, now time.Time) (*Item, error) {
	parent, err := s.group(parentID)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = DefaultRemoteSyncInterval
	}
	synced := now
	sc := &Item{
		ID:           s.newID(),
		Name:         name,
		Type:         TypeScheme,
		Content:      content,
		IsRemote:     true,
		RemoteURL:    url,
		SyncInterval: interval,
		LastSync:     &synced,
	}
	parent.Children = append(parent.Children, sc)
	return sc.Clone(), nil
}

// Rename sets the display name of id.
func (s *Store) Rename(id, name string) error {
	loc, ok := locate(s.root, id)
	if !ok {
		return fmt.Errorf("rename %q: %w", id, ErrNotFound)
	}
	loc.item.Name = name
	return nil
}

// UpdateContent replaces a scheme's content. It is a no-op on groups.
func (s *Store) UpdateContent(id, content string) error {
	loc, ok := locate(s.root, id)
	if !ok {
		return fmt.Errorf("update content of %q: %w", id, ErrNotFound)
	}
	if loc.item.IsGroup() {
		return nil
	}
	loc.item.Content = content
	return nil
}

// ApplySync stores freshly fetched content on a remote scheme.
func (s *Store) ApplySync(id, content string, now time.Time) error {
	loc, ok := locate(s.root, id)
	if !ok {
		return fmt.Errorf("sync %q: %w", id, ErrNotFound)
	}
	if !loc.item.IsScheme() || !loc.item.IsRemote {
		return fmt.Errorf("sync %q: remote scheme required: %w", id, ErrWrongType)
	}
	synced := now
	loc.item.Content = content
	loc.item.LastSync = &synced
	return nil
}

// Delete removes id and all of its descendants, and prunes their ids from
// the active list. It returns the removed ids that were active.
func (s *Store) Delete(id string) ([]string, error) {
	if id == RootID {
		return nil, fmt.Errorf("delete %q: %w", id, ErrProtected)
	}
	loc, ok := locate(s.root, id)
	if !ok {
		return nil, fmt.Errorf("delete %q: %w", id, ErrNotFound)
	}
	if loc.parent == nil {
		return nil, fmt.Errorf("delete %q: %w", id, ErrProtected)
	}

	removed := collectIDs(loc.item)
	loc.parent.Children = slices.Delete(loc.parent.Children, loc.index, loc.index+1)

	var pruned []string
	kept := s.active[:0:0]
	for _, aid := range s.active {
		if _, gone := removed[aid]; gone {
			pruned = append(pruned, aid)
			continue
		}
		kept = append(kept, aid)
	}
	s.active = kept
	return pruned, nil
}

// MoveCheck is the result of ValidateMove.
type MoveCheck struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// ValidateMove reports whether itemID may be moved into targetID. It never
// mutates the forest.
func (s *Store) ValidateMove(itemID, targetID string) MoveCheck {
	src, ok := locate(s.root, itemID)
	if !ok {
		return MoveCheck{Reason: ReasonItemNotFound}
	}
	if src.parent == nil {
		return MoveCheck{Reason: ReasonRoot}
	}
	if itemID == targetID {
		return MoveCheck{Reason: ReasonSelf}
	}
	dst, ok := locate(s.root, targetID)
	if !ok {
		return MoveCheck{Reason: ReasonTargetNotFound}
	}
	if src.parent.ID == targetID {
		return MoveCheck{Reason: ReasonSameParent}
	}
	if src.item.IsGroup() && contains(src.item, targetID) {
		return MoveCheck{Reason: ReasonDescendant}
	}
	if !dst.item.IsGroup() {
		return MoveCheck{Reason: ReasonTargetNotGroup}
	}
	return MoveCheck{Valid: true}
}

// Move detaches itemID from its parent and appends it to targetID's children.
func (s *Store) Move(itemID, targetID string) error {
	if check := s.ValidateMove(itemID, targetID); !check.Valid {
		return &MoveError{ItemID: itemID, TargetID: targetID, Reason: check.Reason}
	}
	src, _ := locate(s.root, itemID)
	dst, _ := locate(s.root, targetID)
	src.parent.Children = slices.Delete(src.parent.Children, src.index, src.index+1)
	dst.item.Children = append(dst.item.Children, src.item)
	return nil
}

// SetActive replaces the active list verbatim; order is the merge order.
func (s *Store) SetActive(ids []string) {
	s.active = slices.Clone(ids)
	if s.active == nil {
		s.active = []string{}
	}
}

// Activate appends id to the active list if it is not already present.
func (s *Store) Activate(id string) bool {
	if slices.Contains(s.active, id) {
		return false
	}
	s.active = append(s.active, id)
	return true
}

// Deactivate removes id from the active list.
func (s *Store) Deactivate(id string) bool {
	idx := slices.Index(s.active, id)
	if idx < 0 {
		return false
	}
	s.active = slices.Delete(s.active, idx, idx+1)
	return true
}

// Graft appends copies of items to parentID, regenerating every id. It
// returns a map from the old ids to the new ones.
func (s *Store) Graft(parentID string, items []*Item) (map[string]string, error) {
	parent, err := s.group(parentID)
	if err != nil {
		return nil, err
	}
	for i, it := range items {
		if err := validateImported(it); err != nil {
			return nil, fmt.Errorf("graft item %d: %w", i, err)
		}
	}

	idMap := make(map[string]string)
	grafted := make([]*Item, 0, len(items))
	for _, it := range items {
		cp := it.Clone()
		_ = Walk(cp, func(node, _ *Item, _ int) error {
			fresh := s.newID()
			idMap[node.ID] = fresh
			node.ID = fresh
			if node.IsGroup() && node.Children == nil {
				node.Children = []*Item{}
			}
			return nil
		})
		grafted = append(grafted, cp)
	}
	parent.Children = append(parent.Children, grafted...)
	return idMap, nil
}

func validateImported(root *Item) error {
	return Walk(root, func(item, _ *Item, _ int) error {
		if item == nil {
			return fmt.Errorf("nil item: %w", ErrWrongType)
		}
		if strings.TrimSpace(item.ID) == "" || strings.TrimSpace(item.Name) == "" {
			return fmt.Errorf("item without id or name: %w", ErrWrongType)
		}
		if item.Type != TypeGroup && item.Type != TypeScheme {
			return fmt.Errorf("item %q has unknown type %q: %w", item.ID, item.Type, ErrWrongType)
		}
		return nil
	})
}

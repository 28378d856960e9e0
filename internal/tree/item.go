// Package tree holds the group/scheme forest of a workspace and the ordered
// set of active scheme ids.
package tree

import "time"

// Type tags an Item as a group or a scheme.
type Type string

const (
	TypeGroup  Type = "group"
	TypeScheme Type = "scheme"
)

// RootID is the id of the root group present in every forest.
const RootID = "root"

// DefaultRemoteSyncInterval is used when a remote scheme is created without one.
const DefaultRemoteSyncInterval = time.Hour

// Item is a node of the forest. Groups use Children; schemes use the content
// and remote fields.
//
// The JSON form stores syncInterval in milliseconds and lastSync as unix
// milliseconds; see codec.go.
type Item struct {
	ID       string
	Name     string
	Type     Type
	Children []*Item

	Content      string
	IsRemote     bool
	RemoteURL    string
	SyncInterval time.Duration
	LastSync     *time.Time
}

// IsGroup reports whether the item is a group.
func (it *Item) IsGroup() bool { return it != nil && it.Type == TypeGroup }

// IsScheme reports whether the item is a scheme.
func (it *Item) IsScheme() bool { return it != nil && it.Type == TypeScheme }

// Clone returns a deep copy of the item and its descendants.
func (it *Item) Clone() *Item {
	if it == nil {
		return nil
	}
	cp := *it
	if it.LastSync != nil {
		t := *it.LastSync
		cp.LastSync = &t
	}
	if it.Children != nil {
		cp.Children = make([]*Item, len(it.Children))
		for i, c := range it.Children {
			cp.Children[i] = c.Clone()
		}
	}
	return &cp
}

// SyncDue reports whether a remote scheme should be refreshed at now.
func (it *Item) SyncDue(now time.Time) bool {
	if !it.IsScheme() || !it.IsRemote || it.RemoteURL == "" {
		return false
	}
	if it.LastSync == nil {
		return true
	}
	interval := it.SyncInterval
	if interval <= 0 {
		interval = DefaultRemoteSyncInterval
	}
	return !now.Before(it.LastSync.Add(interval))
}

// NewRoot returns an empty root group.
func NewRoot() *Item {
	return &Item{ID: RootID, Name: "Root", Type: TypeGroup, Children: []*Item{}}
}

// Package version keeps a newest-first list of merged-content snapshots per
// workspace.
package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("version not found")

const keyPrefix = "versions/"

// Version is one snapshot of merged hosts content.
type Version struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
}

// DocumentStore is the persistence the log needs; *state.Store satisfies it.
type DocumentStore interface {
	Get(ctx context.Context, key string, v any) (bool, error)
	Update(ctx context.Context, key string, fn func(cur json.RawMessage) (any, error)) error
	Delete(ctx context.Context, key string) error
}

type Log struct {
	docs  DocumentStore
	now   func() time.Time
	newID func() string
}

func NewLog(docs DocumentStore) *Log {
	return &Log{docs: docs, now: time.Now, newID: uuid.NewString}
}

// List returns the snapshots of workspaceID, newest first.
func (l *Log) List(ctx context.Context, workspaceID string) ([]Version, error) {
	var out []Version
	if _, err := l.docs.Get(ctx, keyPrefix+workspaceID, &out); err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	if out == nil {
		out = []Version{}
	}
	return out, nil
}

// Get returns one snapshot.
func (l *Log) Get(ctx context.Context, workspaceID, id string) (Version, error) {
	list, err := l.List(ctx, workspaceID)
	if err != nil {
		return Version{}, err
	}
	i := slices.IndexFunc(list, func(v Version) bool { return v.ID == id })
	if i < 0 {
		return Version{}, fmt.Errorf("version %q: %w", id, ErrNotFound)
	}
	return list[i], nil
}

// Create prepends a snapshot. An empty description becomes "version N"
// where N is the new length of the log.
func (l *Log) Create(ctx context.Context, workspaceID, content, description string) (Version, error) {
	var created Version
	err := l.update(ctx, workspaceID, func(list []Version) ([]Version, error) {
		if description == "" {
			description = fmt.Sprintf("version %d", len(list)+1)
		}
		created = l.snapshot(content, description)
		return append([]Version{created}, list...), nil
	})
	if err != nil {
		return Version{}, err
	}
	return created, nil
}

// Rollback prepends a copy of an earlier snapshot and returns the copy.
func (l *Log) Rollback(ctx context.Context, workspaceID, id string) (Version, error) {
	var created Version
	err := l.update(ctx, workspaceID, func(list []Version) ([]Version, error) {
		i := slices.IndexFunc(list, func(v Version) bool { return v.ID == id })
		if i < 0 {
			return nil, fmt.Errorf("rollback to %q: %w", id, ErrNotFound)
		}
		created = l.snapshot(list[i].Content, "rollback to "+list[i].Description)
		return append([]Version{created}, list...), nil
	})
	if err != nil {
		return Version{}, err
	}
	return created, nil
}

// Drop removes the whole log of a deleted workspace.
func (l *Log) Drop(ctx context.Context, workspaceID string) error {
	return l.docs.Delete(ctx, keyPrefix+workspaceID)
}

func (l *Log) snapshot(content, description string) Version {
	return Version{
		ID:          l.newID(),
		Content:     content,
		Timestamp:   l.now().UTC(),
		Description: description,
	}
}

func (l *Log) update(ctx context.Context, workspaceID string, fn func([]Version) ([]Version, error)) error {
	return l.docs.Update(ctx, keyPrefix+workspaceID, func(cur json.RawMessage) (any, error) {
		var list []Version
		if cur != nil {
			if err := json.Unmarshal(cur, &list); err != nil {
				return nil, fmt.Errorf("decode versions: %w", err)
			}
		}
		return fn(list)
	})
}

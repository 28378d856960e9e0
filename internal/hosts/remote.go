package hosts

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/mattjoyce/hostsmaster/internal/events"
	"github.com/mattjoyce/hostsmaster/internal/tree"
)

// RemoteRef names a remote scheme that is due for a refresh.
type RemoteRef struct {
	ID  string
	URL string
}

// CreateRemoteScheme downloads rawURL and stores the result as a remote
// scheme under parentID. Nothing is created if the download fails.
func (s *Service) CreateRemoteScheme(ctx context.Context, parentID, name, rawURL string, interval time.Duration) (*tree.Item, error) {
	if err := requireName(name); err != nil {
		return nil, err
	}
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	if s.fetcher == nil {
		return nil, fmt.Errorf("remote fetch is not configured: %w", ErrInvalidInput)
	}
	if interval <= 0 {
		interval = s.remoteInt
	}
	content, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	var created *tree.Item
	err = s.mutate(ctx, "create_remote_scheme", func() (bool, error) {
		var err error
		created, err = s.tree.CreateRemoteScheme(parentID, name, rawURL, content, interval, s.now())
		return false, err
	})
	if errors.Is(err, ErrNotPersisted) {
		return nil, err
	}
	return created, err
}

// SyncRemote re-downloads a remote scheme and commits if it is active.
// Concurrent syncs of the same scheme share one download.
func (s *Service) SyncRemote(ctx context.Context, id string) (*tree.Item, error) {
	s.mu.Lock()
	item, err := s.tree.Find(id)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !item.IsScheme() || !item.IsRemote {
		return nil, fmt.Errorf("sync %q: remote scheme required: %w", id, tree.ErrWrongType)
	}
	if s.fetcher == nil {
		return nil, fmt.Errorf("remote fetch is not configured: %w", ErrInvalidInput)
	}

	v, err, shared := s.syncs.Do(id+"\x00"+item.RemoteURL, func() (any, error) {
		return s.fetcher.Fetch(ctx, item.RemoteURL)
	})
	if err != nil {
		s.publish(events.RemoteSyncFailed, map[string]any{"scheme_id": id, "url": item.RemoteURL, "error": err.Error()})
		return nil, err
	}
	content := v.(string)

	var updated *tree.Item
	err = s.mutate(ctx, "sync_remote", func() (bool, error) {
		if err := s.tree.ApplySync(id, content, s.now()); err != nil {
			return false, err
		}
		updated, _ = s.tree.Find(id)
		return s.tree.IsActive(id), nil
	})
	if errors.Is(err, ErrNotPersisted) {
		s.publish(events.RemoteSyncFailed, map[string]any{"scheme_id": id, "url": item.RemoteURL, "error": err.Error()})
		return nil, err
	}
	if updated != nil {
		s.publish(events.RemoteSynced, map[string]any{"scheme_id": id, "bytes": len(content), "shared": shared})
	}
	return updated, err
}

// DueRemotes lists remote schemes whose sync interval has elapsed at now.
func (s *Service) DueRemotes(now time.Time) []RemoteRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RemoteRef
	for _, sc := range s.tree.Schemes() {
		if sc.SyncDue(now) {
			out = append(out, RemoteRef{ID: sc.ID, URL: sc.RemoteURL})
		}
	}
	return out
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("remote url %q must be an absolute http(s) url: %w", raw, ErrInvalidInput)
	}
	return nil
}

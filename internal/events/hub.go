package events

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// Topics published by the hosts service and its collaborators.
const (
	HostsChanged     = "hosts.changed"
	HostsWritten     = "hosts.written"
	HostsUnchanged   = "hosts.unchanged"
	HostsWriteFailed = "hosts.write_failed"

	WorkspaceSwitched = "workspace.switched"

	ScheduleAdded   = "schedule.added"
	ScheduleFired   = "schedule.fired"
	ScheduleRemoved = "schedule.removed"

	RemoteSynced     = "remote.synced"
	RemoteSyncFailed = "remote.sync_failed"
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Publisher is the write side of a Hub.
type Publisher interface {
	Publish(eventType string, data any)
}

// Match reports whether eventType is selected by pattern. An empty pattern
// or "*" selects everything; "hosts.*" selects every hosts topic.
func Match(pattern, eventType string) bool {
	switch {
	case pattern == "" || pattern == "*":
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(eventType, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == eventType
	}
}

func matchAny(patterns []string, eventType string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if Match(p, eventType) {
			return true
		}
	}
	return false
}

type subscriber struct {
	ch     chan Event
	topics []string
}

// Hub fans events out to subscribers and keeps the most recent ones so a
// reconnecting client can replay from its last seen id.
type Hub struct {
	mu      sync.Mutex
	lastID  int64
	history []Event // ascending by ID, at most keep entries
	keep    int

	subs  map[*subscriber]struct{}
	depth int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		keep:  capacity,
		subs:  make(map[*subscriber]struct{}),
		depth: 128,
	}
}

// Publish is safe on a nil Hub, which drops the event.
func (h *Hub) Publish(eventType string, data any) {
	if h == nil {
		return
	}
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: time.Now().UTC(), Data: payload}

	if len(h.history) == h.keep {
		copy(h.history, h.history[1:])
		h.history[len(h.history)-1] = ev
	} else {
		h.history = append(h.history, ev)
	}

	for sub := range h.subs {
		if !matchAny(sub.topics, eventType) {
			continue
		}
		// A full subscriber misses the event rather than stalling the publisher.
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Subscribe registers a listener for the given topic patterns (all topics
// when none are given). The returned cancel func closes the channel and may
// be called more than once.
func (h *Hub) Subscribe(topics ...string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, h.depth), topics: topics}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			close(sub.ch)
			h.mu.Unlock()
		})
	}
}

// SnapshotSince returns retained events with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := sort.Search(len(h.history), func(i int) bool { return h.history[i].ID > lastID })
	out := make([]Event, len(h.history)-i)
	copy(out, h.history[i:])
	return out
}

// LastID returns the id of the most recently published event.
func (h *Hub) LastID() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastID
}

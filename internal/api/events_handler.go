package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/hostsmaster/internal/events"
)

// keepAliveInterval spaces SSE comment lines on an idle stream.
var keepAliveInterval = 15 * time.Second

// handleEvents streams hub events as SSE. ?topic=hosts.*,schedule.fired
// narrows the stream; Last-Event-ID (header or ?last_event_id) replays the
// retained backlog first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	topics := splitTopics(r.URL.Query().Get("topic"))
	cursor := lastEventID(r)

	// Subscribe before the replay so nothing published in between is lost;
	// duplicates are dropped by the cursor.
	live, cancel := s.events.Subscribe(topics...)
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(ev events.Event) bool {
		if ev.ID <= cursor || !selected(topics, ev.Type) {
			return true
		}
		if err := encodeSSE(w, ev); err != nil {
			return false
		}
		cursor = ev.ID
		return true
	}

	for _, ev := range s.events.SnapshotSince(cursor) {
		if !send(ev) {
			return
		}
	}
	flusher.Flush()

	ping := time.NewTicker(keepAliveInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-live:
			if !open || !send(ev) {
				return
			}
			flusher.Flush()
		case <-ping.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func splitTopics(raw string) []string {
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func selected(topics []string, eventType string) bool {
	if len(topics) == 0 {
		return true
	}
	for _, t := range topics {
		if events.Match(t, eventType) {
			return true
		}
	}
	return false
}

func lastEventID(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("last_event_id")
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func encodeSSE(w io.Writer, ev events.Event) error {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %d\n", ev.ID)
	if ev.Type != "" {
		fmt.Fprintf(&b, "event: %s\n", ev.Type)
	}
	// Payloads are compact JSON, so one data line suffices.
	fmt.Fprintf(&b, "data: %s\n\n", ev.Data)
	_, err := io.WriteString(w, b.String())
	return err
}

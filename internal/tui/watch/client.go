package watch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/hostsmaster/internal/api"
	"github.com/mattjoyce/hostsmaster/internal/events"
	"github.com/mattjoyce/hostsmaster/internal/hosts"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg api.HealthzResponse

type treeMsg hosts.Snapshot

type rulesMsg api.SchedulesResponse

type activeMsg api.ActiveResponse

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// Client talks to the daemon's HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	stream  *http.Client
}

// NewClient returns a Client for the API at baseURL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 5 * time.Second},
		stream:  &http.Client{},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (%d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// --- Commands ---

func (c *Client) fetchHealth() tea.Msg {
	var h api.HealthzResponse
	if err := c.do(context.Background(), http.MethodGet, "/healthz", nil, &h); err != nil {
		return errMsg(err)
	}
	return healthMsg(h)
}

func (c *Client) fetchTree() tea.Msg {
	var snap hosts.Snapshot
	if err := c.do(context.Background(), http.MethodGet, "/tree", nil, &snap); err != nil {
		return errMsg(err)
	}
	return treeMsg(snap)
}

func (c *Client) fetchRules() tea.Msg {
	var resp api.SchedulesResponse
	if err := c.do(context.Background(), http.MethodGet, "/schedules/active", nil, &resp); err != nil {
		return errMsg(err)
	}
	return rulesMsg(resp)
}

func (c *Client) setActive(ids []string) tea.Cmd {
	return func() tea.Msg {
		var resp api.ActiveResponse
		if err := c.do(context.Background(), http.MethodPut, "/active", api.ActiveRequest{ActiveSchemes: ids}, &resp); err != nil {
			return errMsg(err)
		}
		return activeMsg(resp)
	}
}

// subscribe connects to the SSE /events endpoint and feeds events into ch,
// resuming after lastID. It returns sseDisconnectedMsg when the stream ends.
func (c *Client) subscribe(lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, c.baseURL+"/events", nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if lastID > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
		}

		resp, err := c.stream.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("event stream: status %d", resp.StatusCode))
		}

		readSSE(resp.Body, func(e events.Event) { ch <- e })
		return sseDisconnectedMsg{}
	}
}

// readSSE parses an event stream, calling emit for each complete event.
func readSSE(r io.Reader, emit func(events.Event)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	var cur events.Event
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data != "" {
				cur.Data = json.RawMessage(data)
				if cur.At.IsZero() {
					cur.At = time.Now()
				}
				emit(cur)
			}
			cur, data = events.Event{}, ""
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				cur.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			cur.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			data = line[6:]
		}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

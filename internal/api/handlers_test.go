package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hostsmaster/internal/events"
	"github.com/mattjoyce/hostsmaster/internal/hosts"
	"github.com/mattjoyce/hostsmaster/internal/hostsfile"
	"github.com/mattjoyce/hostsmaster/internal/scheduler"
	"github.com/mattjoyce/hostsmaster/internal/state"
	"github.com/mattjoyce/hostsmaster/internal/storage"
	"github.com/mattjoyce/hostsmaster/internal/tree"
	"github.com/mattjoyce/hostsmaster/internal/version"
	"github.com/mattjoyce/hostsmaster/internal/workspace"
)

const testAPIKey = "test-key-123"

// memWriter stands in for the write coordinator.
type memWriter struct {
	mu      sync.Mutex
	content string
	writes  int
	err     error
}

func (w *memWriter) Commit(_ context.Context, content string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.content = content
	w.writes++
	return nil
}

func (w *memWriter) Read() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.content, nil
}

func (w *memWriter) Stats() hostsfile.Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return hostsfile.Stats{Writes: int64(w.writes)}
}

func (w *memWriter) fail(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}

type stubFetcher map[string]string

func (f stubFetcher) Fetch(_ context.Context, url string) (string, error) {
	if c, ok := f[url]; ok {
		return c, nil
	}
	return "", errors.New("not found")
}

type testEnv struct {
	server *Server
	svc    *hosts.Service
	writer *memWriter
	hub    *events.Hub
	sched  *scheduler.Scheduler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	docs := state.NewStore(db)

	mgr, err := workspace.Open(ctx, docs)
	require.NoError(t, err)

	env := &testEnv{
		writer: &memWriter{content: workspace.DefaultContent},
		hub:    events.NewHub(64),
	}
	env.svc, err = hosts.New(ctx, hosts.Options{
		Workspaces: mgr,
		Versions:   version.NewLog(docs),
		Writer:     env.writer,
		Fetcher:    stubFetcher{"https://lists.example/ads": "0.0.0.0 ads.example"},
		Events:     env.hub,
	})
	require.NoError(t, err)

	env.sched = scheduler.New(scheduler.NewDocumentRuleStore(docs), env.svc, env.hub, slog.Default())
	require.NoError(t, env.sched.Start(ctx))
	t.Cleanup(env.sched.Stop)

	env.server = New(Config{Listen: "127.0.0.1:0", APIKey: testAPIKey}, env.svc, env.sched, env.hub, env.writer, slog.Default())
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) createScheme(t *testing.T, parent, name, content string) *tree.Item {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/schemes", CreateItemRequest{ParentID: parent, Name: name, Content: content})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[ItemResponse](t, rec).Item
}

func (e *testEnv) createGroup(t *testing.T, parent, name string) *tree.Item {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/groups", CreateItemRequest{ParentID: parent, Name: name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[ItemResponse](t, rec).Item
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[HealthzResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, workspace.DefaultID, resp.Workspace)
	assert.Equal(t, 1, resp.ActiveSchemes)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)
	handler := env.server.Handler()

	for _, header := range []string{"", "Bearer wrong-key", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/tree", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
}

func TestTreeLifecycleAndActivation(t *testing.T) {
	env := newTestEnv(t)

	group := env.createGroup(t, "", "GroupA")
	x := env.createScheme(t, group.ID, "SchemeX", "1.2.3.4 a.com")
	y := env.createScheme(t, "", "SchemeY", "5.6.7.8 b.com")

	rec := env.do(t, http.MethodPut, "/active", ActiveRequest{ActiveSchemes: []string{x.ID, y.ID}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{x.ID, y.ID}, decodeBody[ActiveResponse](t, rec).ActiveSchemes)

	rec = env.do(t, http.MethodGet, "/hosts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	h := decodeBody[HostsResponse](t, rec)
	assert.Equal(t, "1.2.3.4 a.com\n\n5.6.7.8 b.com", h.Content)
	assert.True(t, h.InSync)

	rec = env.do(t, http.MethodPut, "/schemes/"+x.ID+"/content", ContentRequest{Content: "9.9.9.9 x.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	got, _ := env.writer.Read()
	assert.Equal(t, "9.9.9.9 x.com\n\n5.6.7.8 b.com", got)

	rec = env.do(t, http.MethodPatch, "/items/"+group.ID, NameRequest{Name: "Renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Renamed", decodeBody[ItemResponse](t, rec).Item.Name)

	rec = env.do(t, http.MethodDelete, "/items/"+group.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	got, _ = env.writer.Read()
	assert.Equal(t, "5.6.7.8 b.com", got)

	rec = env.do(t, http.MethodGet, "/items/"+x.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/items/"+tree.RootID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMoveCheckAndMove(t *testing.T) {
	env := newTestEnv(t)
	a := env.createGroup(t, "", "GroupA")
	x := env.createScheme(t, a.ID, "SchemeX", "")

	rec := env.do(t, http.MethodGet, "/items/"+a.ID+"/move-check?target="+x.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	check := decodeBody[tree.MoveCheck](t, rec)
	assert.False(t, check.Valid)
	assert.Equal(t, tree.ReasonDescendant, check.Reason)

	rec = env.do(t, http.MethodPost, "/items/"+a.ID+"/move", MoveRequest{Target: x.ID})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, tree.ReasonDescendant, decodeBody[ErrorResponse](t, rec).Reason)

	rec = env.do(t, http.MethodPost, "/items/"+x.ID+"/move", MoveRequest{Target: tree.RootID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/items/"+a.ID+"/move-check", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"empty body", http.MethodPost, "/groups", nil, http.StatusBadRequest},
		{"malformed json", http.MethodPost, "/groups", `{"name":`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/groups", `{"title":"x"}`, http.StatusBadRequest},
		{"blank name", http.MethodPost, "/groups", CreateItemRequest{Name: " "}, http.StatusBadRequest},
		{"missing parent", http.MethodPost, "/schemes", CreateItemRequest{ParentID: "nope", Name: "s"}, http.StatusNotFound},
		{"active without list", http.MethodPut, "/active", `{}`, http.StatusBadRequest},
		{"remote bad url", http.MethodPost, "/schemes/remote", CreateRemoteRequest{Name: "r", URL: "ftp://x"}, http.StatusBadRequest},
		{"sync local scheme", http.MethodPost, "/schemes/" + workspace.DefaultSchemeID + "/sync", nil, http.StatusBadRequest},
		{"unknown workspace", http.MethodPost, "/workspaces/nope/switch", nil, http.StatusNotFound},
		{"unknown version", http.MethodPost, "/versions/nope/apply", nil, http.StatusNotFound},
		{"bad export format", http.MethodGet, "/export?format=xlsx", nil, http.StatusBadRequest},
		{"bad import", http.MethodPost, "/import", `{"id":"x"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestWriteFailuresMapToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"cancelled", hostsfile.ErrUserCancelled, http.StatusForbidden},
		{"denied", hostsfile.ErrPermissionDenied, http.StatusForbidden},
		{"io", &hostsfile.IOError{Op: "copy", Path: "/etc/hosts", Err: errors.New("disk full")}, http.StatusBadGateway},
		{"closed", hostsfile.ErrClosed, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			y := env.createScheme(t, "", "Y", "5.6.7.8 b.com")
			env.writer.fail(tt.err)

			rec := env.do(t, http.MethodPut, "/active", ActiveRequest{ActiveSchemes: []string{y.ID}})
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, []string{y.ID}, env.svc.ActiveIDs(), "the mutation stays")
		})
	}
}

func TestRemoteSchemeRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/schemes/remote", CreateRemoteRequest{Name: "ads", URL: "https://lists.example/ads", SyncInterval: 60000})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	item := decodeBody[ItemResponse](t, rec).Item
	assert.True(t, item.IsRemote)
	assert.Equal(t, time.Minute, item.SyncInterval)
	assert.Equal(t, "0.0.0.0 ads.example", item.Content)

	rec = env.do(t, http.MethodPost, "/schemes/"+item.ID+"/sync", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/schemes/remote", CreateRemoteRequest{Name: "gone", URL: "https://lists.example/404"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWorkspaceRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/workspaces", NameRequest{Name: "Work"})
	require.Equal(t, http.StatusCreated, rec.Code)
	ws := decodeBody[workspace.Workspace](t, rec)

	rec = env.do(t, http.MethodPost, "/workspaces/"+ws.ID+"/switch", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ws.ID, decodeBody[hosts.Snapshot](t, rec).WorkspaceID)

	rec = env.do(t, http.MethodPatch, "/workspaces/"+ws.ID, NameRequest{Name: "Office"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/workspaces", nil)
	list := decodeBody[WorkspacesResponse](t, rec).Workspaces
	require.Len(t, list, 2)
	assert.Equal(t, "Office", list[1].Name)
	assert.True(t, list[1].Current)

	rec = env.do(t, http.MethodDelete, "/workspaces/"+ws.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	got, _ := env.writer.Read()
	assert.Equal(t, workspace.DefaultContent, got)

	rec = env.do(t, http.MethodDelete, "/workspaces/"+workspace.DefaultID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestScheduleRoutes(t *testing.T) {
	env := newTestEnv(t)
	y := env.createScheme(t, "", "Y", "5.6.7.8 b.com")

	rec := env.do(t, http.MethodPost, "/schedules", ScheduleRequest{ItemID: y.ID, Mode: "temporary"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "temporary needs a duration")

	rec = env.do(t, http.MethodPost, "/schedules", ScheduleRequest{ItemID: y.ID, Mode: "timed", ExecuteTime: "tomorrow"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	exec := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	rec = env.do(t, http.MethodPost, "/schedules", ScheduleRequest{ItemID: y.ID, Mode: "timed", ExecuteTime: exec, Repeat: "daily", Action: "activate"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rule := decodeBody[scheduler.Rule](t, rec)

	rec = env.do(t, http.MethodGet, "/schedules/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[SchedulesResponse](t, rec).Rules, 1)

	rec = env.do(t, http.MethodDelete, "/schedules/"+rule.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/schedules", nil)
	assert.JSONEq(t, `{"rules":[]}`, rec.Body.String())
}

func TestSchedulesDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.server.schedules = nil

	rec := env.do(t, http.MethodGet, "/schedules", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestVersionRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/versions", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	v1 := decodeBody[version.Version](t, rec)
	assert.Equal(t, "version 1", v1.Description)

	rec = env.do(t, http.MethodPost, "/versions", VersionRequest{Content: "8.8.8.8 dns", Description: "manual"})
	require.Equal(t, http.StatusCreated, rec.Code)
	v2 := decodeBody[version.Version](t, rec)

	rec = env.do(t, http.MethodPost, "/versions/"+v2.ID+"/apply", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got, _ := env.writer.Read()
	assert.Equal(t, "8.8.8.8 dns", got)

	rec = env.do(t, http.MethodPost, "/versions/"+v1.ID+"/rollback", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "rollback to version 1", decodeBody[version.Version](t, rec).Description)

	rec = env.do(t, http.MethodGet, "/versions", nil)
	assert.Len(t, decodeBody[VersionsResponse](t, rec).Versions, 3)
}

func TestExportImportRoutes(t *testing.T) {
	env := newTestEnv(t)
	g := env.createGroup(t, "", "Work")
	env.createScheme(t, g.ID, "VPN", "10.0.0.1 vpn")

	rec := env.do(t, http.MethodGet, "/export?format=csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Work > VPN,scheme,10.0.0.1 vpn")

	rec = env.do(t, http.MethodGet, "/export?ids="+g.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	exported := rec.Body.String()

	rec = env.do(t, http.MethodPost, "/import?parent="+g.ID, exported)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	idMap := decodeBody[ImportResponse](t, rec).IDMap
	assert.Len(t, idMap, 2)
	assert.NotEqual(t, g.ID, idMap[g.ID])

	root := env.svc.Snapshot().Root
	require.Len(t, root.Children, 2)
	assert.Len(t, root.Children[1].Children, 2, "imported copy is appended under the group")
}

func TestResetRoute(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeBody[hosts.Snapshot](t, rec)
	assert.Empty(t, snap.Root.Children)
	got, _ := env.writer.Read()
	assert.Equal(t, hosts.ResetContent, got)
}

func TestStatusForUnknownErrorIs500(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
	assert.Equal(t, http.StatusNotFound, statusFor(scheduler.ErrRuleNotFound))
}

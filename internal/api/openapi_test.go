package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBuildOpenAPIDoc_Empty(t *testing.T) {
	doc := buildOpenAPIDoc(nil)

	if doc["openapi"] != "3.1.0" {
		t.Errorf("expected openapi 3.1.0, got %v", doc["openapi"])
	}
	paths := doc["paths"].(map[string]any)
	if len(paths) != 0 {
		t.Errorf("expected empty paths, got %d", len(paths))
	}
}

func TestBuildOpenAPIDoc_SharedPattern(t *testing.T) {
	noop := func(http.ResponseWriter, *http.Request) {}
	doc := buildOpenAPIDoc([]route{
		{http.MethodGet, "/items/{id}", "Get one item", noop},
		{http.MethodPatch, "/items/{id}", "Rename an item", noop},
		{http.MethodGet, "/tree", "Forest", noop},
	})

	paths := doc["paths"].(map[string]any)
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %d", len(paths))
	}

	item, ok := paths["/items/{id}"].(map[string]any)
	if !ok {
		t.Fatal("expected /items/{id} path")
	}
	get := item["get"].(map[string]any)
	if get["operationId"] != "get_items_id" {
		t.Errorf("expected operationId get_items_id, got %v", get["operationId"])
	}
	if get["summary"] != "Get one item" {
		t.Errorf("unexpected summary %v", get["summary"])
	}
	if _, ok := get["requestBody"]; ok {
		t.Error("GET must not declare a request body")
	}
	params := get["parameters"].([]any)
	if len(params) != 1 || params[0].(map[string]any)["name"] != "id" {
		t.Errorf("expected one id path parameter, got %v", params)
	}

	patch := item["patch"].(map[string]any)
	if _, ok := patch["requestBody"]; !ok {
		t.Error("PATCH must declare a request body")
	}
	if tags := patch["tags"].([]string); len(tags) != 1 || tags[0] != "items" {
		t.Errorf("expected tag items, got %v", tags)
	}

	tree := paths["/tree"].(map[string]any)["get"].(map[string]any)
	if _, ok := tree["parameters"]; ok {
		t.Error("/tree has no path parameters")
	}
}

func TestOperationID(t *testing.T) {
	tests := []struct {
		method, pattern, want string
	}{
		{http.MethodPost, "/items/{id}/move", "post_items_id_move"},
		{http.MethodGet, "/items/{id}/move-check", "get_items_id_move_check"},
		{http.MethodGet, "/schedules/active", "get_schedules_active"},
		{http.MethodDelete, "/workspaces/{id}", "delete_workspaces_id"},
	}
	for _, tt := range tests {
		if got := operationID(tt.method, tt.pattern); got != tt.want {
			t.Errorf("operationID(%s %s) = %q, want %q", tt.method, tt.pattern, got, tt.want)
		}
	}
}

func TestOpenAPIRouteCoversRouteTable(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/openapi.json", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	paths := doc["paths"].(map[string]any)
	for _, rt := range env.server.routes() {
		ops, ok := paths[rt.pattern].(map[string]any)
		if !ok {
			t.Errorf("missing path %s", rt.pattern)
			continue
		}
		if _, ok := ops[httpMethodKey(rt.method)]; !ok {
			t.Errorf("missing %s %s", rt.method, rt.pattern)
		}
	}
}

func TestOpenAPIRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func httpMethodKey(method string) string {
	switch method {
	case http.MethodGet:
		return "get"
	case http.MethodPost:
		return "post"
	case http.MethodPut:
		return "put"
	case http.MethodPatch:
		return "patch"
	case http.MethodDelete:
		return "delete"
	}
	return method
}

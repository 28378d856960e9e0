package api

import (
	"net/http"
	"regexp"
	"strings"
)

var pathParamPattern = regexp.MustCompile(`\{([A-Za-z]+)\}`)

// buildOpenAPIDoc returns an OpenAPI 3.1 document describing rts.
func buildOpenAPIDoc(rts []route) map[string]any {
	paths := map[string]any{}

	for _, rt := range rts {
		item, ok := paths[rt.pattern].(map[string]any)
		if !ok {
			item = map[string]any{}
			paths[rt.pattern] = item
		}

		operation := map[string]any{
			"operationId": operationID(rt.method, rt.pattern),
			"summary":     rt.summary,
			"tags":        []string{tagFor(rt.pattern)},
			"responses": map[string]any{
				"200": map[string]any{"description": "OK"},
				"400": map[string]any{"description": "Bad request"},
				"401": map[string]any{"description": "Missing or invalid token"},
				"404": map[string]any{"description": "Not found"},
			},
			"security": []any{map[string]any{"BearerAuth": []string{}}},
		}

		var params []any
		for _, m := range pathParamPattern.FindAllStringSubmatch(rt.pattern, -1) {
			params = append(params, map[string]any{
				"name":     m[1],
				"in":       "path",
				"required": true,
				"schema":   map[string]any{"type": "string"},
			})
		}
		if params != nil {
			operation["parameters"] = params
		}
		if rt.method == http.MethodPost || rt.method == http.MethodPut || rt.method == http.MethodPatch {
			operation["requestBody"] = map[string]any{
				"required": false,
				"content": map[string]any{
					"application/json": map[string]any{
						"schema": map[string]any{"type": "object"},
					},
				},
			}
		}

		item[strings.ToLower(rt.method)] = operation
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "hostsmaster",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

// operationID turns "POST /items/{id}/move" into "post_items_id_move".
func operationID(method, pattern string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, part := range strings.Split(pattern, "/") {
		part = strings.Trim(part, "{}")
		part = strings.ReplaceAll(part, "-", "_")
		if part == "" {
			continue
		}
		b.WriteByte('_')
		b.WriteString(part)
	}
	return b.String()
}

func tagFor(pattern string) string {
	first := strings.SplitN(strings.TrimPrefix(pattern, "/"), "/", 2)[0]
	return first
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.routes()))
}

package api

import (
	"github.com/mattjoyce/hostsmaster/internal/scheduler"
	"github.com/mattjoyce/hostsmaster/internal/tree"
	"github.com/mattjoyce/hostsmaster/internal/version"
	"github.com/mattjoyce/hostsmaster/internal/workspace"
)

// CreateItemRequest is the body of POST /groups and POST /schemes. An empty
// parentId means the root group.
type CreateItemRequest struct {
	ParentID string `json:"parentId"`
	Name     string `json:"name"`
	Content  string `json:"content,omitempty"`
}

// CreateRemoteRequest is the body of POST /schemes/remote. syncInterval is
// in milliseconds; zero uses the default.
type CreateRemoteRequest struct {
	ParentID     string `json:"parentId"`
	Name         string `json:"name"`
	URL          string `json:"url"`
	SyncInterval int64  `json:"syncInterval,omitempty"`
}

// ContentRequest is the body of PUT /schemes/{id}/content.
type ContentRequest struct {
	Content string `json:"content"`
}

// NameRequest renames an item or a workspace, or names a new workspace.
type NameRequest struct {
	Name string `json:"name"`
}

// MoveRequest is the body of POST /items/{id}/move.
type MoveRequest struct {
	Target string `json:"target"`
}

// ActiveRequest is the body of PUT /active.
type ActiveRequest struct {
	ActiveSchemes []string `json:"activeSchemes"`
}

// ActiveResponse is returned by GET and PUT /active.
type ActiveResponse struct {
	ActiveSchemes []string `json:"activeSchemes"`
}

// HostsResponse is returned by GET /hosts. InSync reports whether the system
// file already holds the merged content of the live workspace.
type HostsResponse struct {
	Content string `json:"content"`
	Merged  string `json:"merged"`
	InSync  bool   `json:"inSync"`
}

// WorkspacesResponse is returned by GET /workspaces.
type WorkspacesResponse struct {
	Workspaces []workspace.Summary `json:"workspaces"`
}

// SchedulesResponse is returned by GET /schedules and /schedules/active.
type SchedulesResponse struct {
	Rules []scheduler.Rule `json:"rules"`
}

// ScheduleRequest is the body of POST /schedules. duration is in
// milliseconds.
type ScheduleRequest struct {
	ItemID      string `json:"itemId"`
	Mode        string `json:"mode"`
	Duration    int64  `json:"duration,omitempty"`
	ExecuteTime string `json:"executeTime,omitempty"`
	Repeat      string `json:"repeat,omitempty"`
	Action      string `json:"action,omitempty"`
}

// VersionsResponse is returned by GET /versions.
type VersionsResponse struct {
	Versions []version.Version `json:"versions"`
}

// VersionRequest is the body of POST /versions. Empty content snapshots the
// current merged content.
type VersionRequest struct {
	Content     string `json:"content,omitempty"`
	Description string `json:"description,omitempty"`
}

// ImportResponse maps imported ids to the ids they were given.
type ImportResponse struct {
	IDMap map[string]string `json:"idMap"`
}

// ItemResponse wraps a single item.
type ItemResponse struct {
	Item *tree.Item `json:"item"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Workspace     string `json:"workspace"`
	ActiveSchemes int    `json:"active_schemes"`
	Writes        int64  `json:"writes"`
	WriteFailures int64  `json:"write_failures"`
	WritePending  bool   `json:"write_pending"`
}

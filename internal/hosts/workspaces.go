package hosts

import (
	"context"
	"fmt"

	"github.com/mattjoyce/hostsmaster/internal/events"
	"github.com/mattjoyce/hostsmaster/internal/merge"
	"github.com/mattjoyce/hostsmaster/internal/workspace"
)

// ListWorkspaces returns every workspace, marking the current one.
func (s *Service) ListWorkspaces(ctx context.Context) ([]workspace.Summary, error) {
	return s.workspaces.List(ctx)
}

// CreateWorkspace adds an empty workspace without switching to it.
func (s *Service) CreateWorkspace(ctx context.Context, name string) (*workspace.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, err := s.workspaces.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Workspace created", "workspace_id", ws.ID, "name", ws.Name)
	return ws, nil
}

// RenameWorkspace changes a workspace's display name.
func (s *Service) RenameWorkspace(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.workspaces.Rename(ctx, id, name); err != nil {
		return err
	}
	if id == s.ws.ID {
		ws, err := s.workspaces.Get(ctx, id)
		if err != nil {
			return err
		}
		s.ws.Name = ws.Name
	}
	s.publish(events.HostsChanged, map[string]any{"workspace_id": id, "reason": "rename_workspace"})
	return nil
}

// SwitchWorkspace makes id the live workspace and commits its merged content.
func (s *Service) SwitchWorkspace(ctx context.Context, id string) (Snapshot, error) {
	s.mu.Lock()
	ws, err := s.workspaces.Switch(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return Snapshot{}, err
	}
	s.loadLocked(ws)
	snap := s.snapshotLocked()
	content := merge.Merge(s.tree.ActiveIDs(), s.tree)
	s.mu.Unlock()

	s.logger.Info("Switched workspace", "workspace_id", id)
	s.publish(events.WorkspaceSwitched, map[string]any{"workspace_id": id})
	s.publish(events.HostsChanged, map[string]any{"workspace_id": id, "reason": "switch_workspace"})
	return snap, s.writer.Commit(ctx, content)
}

// DeleteWorkspace removes a workspace and its version log. Deleting the
// live workspace switches to the first remaining one and commits it.
func (s *Service) DeleteWorkspace(ctx context.Context, id string) error {
	s.mu.Lock()
	cur, switched, err := s.workspaces.Delete(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	var content string
	if switched {
		s.loadLocked(cur)
		content = merge.Merge(s.tree.ActiveIDs(), s.tree)
	}
	s.mu.Unlock()

	if s.versions != nil {
		if err := s.versions.Drop(ctx, id); err != nil {
			s.logger.Warn("Failed to drop version log of deleted workspace", "workspace_id", id, "error", err)
		}
	}

	s.logger.Info("Workspace deleted", "workspace_id", id, "switched", switched)
	if !switched {
		return nil
	}
	s.publish(events.WorkspaceSwitched, map[string]any{"workspace_id": cur.ID})
	s.publish(events.HostsChanged, map[string]any{"workspace_id": cur.ID, "reason": "delete_workspace"})
	if err := s.writer.Commit(ctx, content); err != nil {
		return fmt.Errorf("commit workspace %q: %w", cur.ID, err)
	}
	return nil
}

package hosts

import (
	"context"
	"errors"

	"github.com/mattjoyce/hostsmaster/internal/version"
)

var errNoVersions = errors.New("version log is not configured")

func (s *Service) currentWorkspaceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.ID
}

// Versions lists snapshots of the live workspace, newest first.
func (s *Service) Versions(ctx context.Context) ([]version.Version, error) {
	if s.versions == nil {
		return nil, errNoVersions
	}
	return s.versions.List(ctx, s.currentWorkspaceID())
}

// CreateVersion snapshots content, or the current merged content when empty.
func (s *Service) CreateVersion(ctx context.Context, content, description string) (version.Version, error) {
	if s.versions == nil {
		return version.Version{}, errNoVersions
	}
	if content == "" {
		content = s.Merged()
	}
	v, err := s.versions.Create(ctx, s.currentWorkspaceID(), content, description)
	if err != nil {
		return version.Version{}, err
	}
	s.logger.Info("Version created", "version_id", v.ID, "description", v.Description)
	return v, nil
}

// RollbackVersion records a copy of an earlier snapshot as the newest one.
func (s *Service) RollbackVersion(ctx context.Context, id string) (version.Version, error) {
	if s.versions == nil {
		return version.Version{}, errNoVersions
	}
	v, err := s.versions.Rollback(ctx, s.currentWorkspaceID(), id)
	if err != nil {
		return version.Version{}, err
	}
	s.logger.Info("Version rolled back", "from", id, "version_id", v.ID)
	return v, nil
}

// ApplyVersion commits a snapshot's content straight to the system file.
// The tree is left as is.
func (s *Service) ApplyVersion(ctx context.Context, id string) (version.Version, error) {
	if s.versions == nil {
		return version.Version{}, errNoVersions
	}
	v, err := s.versions.Get(ctx, s.currentWorkspaceID(), id)
	if err != nil {
		return version.Version{}, err
	}
	s.logger.Info("Applying version", "version_id", v.ID)
	return v, s.writer.Commit(ctx, v.Content)
}

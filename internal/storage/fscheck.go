package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ErrNetworkFilesystem marks a path that lives on a network mount.
var ErrNetworkFilesystem = errors.New("path is on a network filesystem")

var networkTypes = []string{"9p", "afpfs", "cifs", "fuse.sshfs", "nfs", "nfs4", "smb2", "smbfs", "webdav"}

// Mount describes the filesystem backing a path.
type Mount struct {
	Path    string // the path asked about
	Probe   string // nearest existing ancestor that was inspected
	Type    string
	Network bool
}

// Inspect reports the filesystem of path, walking up to the nearest
// existing directory when path does not exist yet.
func Inspect(path string) (Mount, error) {
	return inspect(path, filesystemType)
}

// RequireLocal fails with ErrNetworkFilesystem when path is on a network
// mount, where SQLite locking and temp-file handoff are unreliable.
func RequireLocal(path string) error {
	m, err := Inspect(path)
	if err != nil {
		return err
	}
	if m.Network {
		return fmt.Errorf("%s (%s): %w", path, m.Type, ErrNetworkFilesystem)
	}
	return nil
}

func inspect(path string, probe func(string) (string, error)) (Mount, error) {
	if strings.TrimSpace(path) == "" {
		return Mount{}, errors.New("empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Mount{}, fmt.Errorf("resolve %q: %w", path, err)
	}
	existing, err := existingAncestor(abs)
	if err != nil {
		return Mount{}, err
	}
	fsType, err := probe(existing)
	if err != nil {
		return Mount{}, fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	return Mount{
		Path:    path,
		Probe:   existing,
		Type:    fsType,
		Network: slices.Contains(networkTypes, strings.ToLower(strings.TrimSpace(fsType))),
	}, nil
}

func existingAncestor(abs string) (string, error) {
	for dir := abs; ; {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, fs.ErrNotExist):
			return "", fmt.Errorf("stat %q: %w", dir, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing ancestor of %q", abs)
		}
		dir = parent
	}
}

package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFile is the manifest name inside a config directory.
const ChecksumFile = ".checksums"

var (
	// ErrNotLocked means a directory has no checksum manifest.
	ErrNotLocked = errors.New("config directory is not locked")
	// ErrChecksumMismatch means a file changed after it was locked.
	ErrChecksumMismatch = errors.New("hash mismatch")
)

// LockEntry is one file considered by Lock.
type LockEntry struct {
	Name    string
	Path    string
	Hash    string
	Missing bool
}

// LockReport describes the manifest produced for one directory.
type LockReport struct {
	Dir      string
	Manifest string
	Written  bool
	Entries  []LockEntry
}

// HashFile returns the hex BLAKE3-256 digest of a file.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func checkFile(path, want string) error {
	got, err := HashFile(path)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%s: %w (locked %.12s, now %.12s)", filepath.Base(path), ErrChecksumMismatch, want, got)
	}
	return nil
}

// Lock writes a manifest into every directory of configPath's include tree.
// With dryRun the reports are built but nothing is written.
func Lock(configPath string, dryRun bool) ([]*LockReport, error) {
	files, err := DiscoverAllConfigFiles(configPath)
	if err != nil {
		return nil, err
	}

	names := make(map[string][]string)
	for _, f := range files {
		dir := filepath.Dir(f)
		names[dir] = append(names[dir], filepath.Base(f))
	}

	var reports []*LockReport
	for _, dir := range slices.Sorted(maps.Keys(names)) {
		report, err := lockDir(dir, names[dir], dryRun)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func lockDir(dir string, names []string, dryRun bool) (*LockReport, error) {
	report := &LockReport{Dir: dir, Manifest: filepath.Join(dir, ChecksumFile)}
	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      make(map[string]string, len(names)),
	}

	for _, name := range names {
		entry := LockEntry{Name: name, Path: filepath.Join(dir, name)}
		hash, err := HashFile(entry.Path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			entry.Missing = true
		case err != nil:
			return nil, err
		default:
			entry.Hash = hash
			manifest.Hashes[name] = hash
		}
		report.Entries = append(report.Entries, entry)
	}
	if dryRun {
		return report, nil
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", report.Manifest, err)
	}
	if err := os.WriteFile(report.Manifest, data, 0o600); err != nil {
		return nil, fmt.Errorf("write %s: %w", report.Manifest, err)
	}
	report.Written = true
	return report, nil
}

// LoadChecksums reads the manifest of a config directory. A missing
// manifest yields ErrNotLocked.
func LoadChecksums(dir string) (*ChecksumManifest, error) {
	path := filepath.Join(dir, ChecksumFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w (run 'hostsmaster config lock')", dir, ErrNotLocked)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var m ChecksumManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if m.Version != 1 {
		return nil, fmt.Errorf("%s: unsupported version %d", path, m.Version)
	}
	return &m, nil
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLockDirDryRun(t *testing.T) {
	tmpDir := t.TempDir()
	writeTestFile(t, filepath.Join(tmpDir, "config.yaml"), "service:\n  log_level: info\n")

	report, err := lockDir(tmpDir, []string{"config.yaml", "api.yaml"}, true)
	if err != nil {
		t.Fatalf("lockDir() failed: %v", err)
	}
	if report.Written {
		t.Fatal("report.Written = true, want false in dry-run")
	}
	if len(report.Entries) != 2 {
		t.Fatalf("len(report.Entries) = %d, want 2", len(report.Entries))
	}
	if report.Entries[0].Missing || len(report.Entries[0].Hash) != 64 {
		t.Fatalf("config.yaml entry = %+v", report.Entries[0])
	}
	if !report.Entries[1].Missing || report.Entries[1].Hash != "" {
		t.Fatalf("api.yaml entry = %+v", report.Entries[1])
	}
	if _, err := os.Stat(report.Manifest); !os.IsNotExist(err) {
		t.Fatal(".checksums should not be written in dry-run mode")
	}
}

func TestLockThenTamper(t *testing.T) {
	tmpDir := t.TempDir()
	writeTestFile(t, filepath.Join(tmpDir, "config.yaml"), "include: [api.yaml]\n")
	writeTestFile(t, filepath.Join(tmpDir, "api.yaml"), "api:\n  listen: 127.0.0.1:8080\n")

	if _, err := LoadChecksums(tmpDir); !errors.Is(err, ErrNotLocked) {
		t.Fatalf("LoadChecksums() before lock = %v, want ErrNotLocked", err)
	}

	reports, err := Lock(tmpDir, false)
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if len(reports) != 1 || !reports[0].Written {
		t.Fatalf("reports = %+v", reports)
	}

	manifest, err := LoadChecksums(tmpDir)
	if err != nil {
		t.Fatalf("LoadChecksums() failed: %v", err)
	}
	if len(manifest.Hashes) != 2 {
		t.Fatalf("len(manifest.Hashes) = %d, want 2", len(manifest.Hashes))
	}
	if _, err := Load(tmpDir); err != nil {
		t.Fatalf("Load() after lock failed: %v", err)
	}

	writeTestFile(t, filepath.Join(tmpDir, "api.yaml"), "api:\n  listen: 0.0.0.0:8080\n")
	_, err = Load(tmpDir)
	if !errors.Is(err, ErrChecksumMismatch) || !strings.Contains(err.Error(), "config lock") {
		t.Fatalf("Load() after tamper error = %v, want a mismatch with a lock hint", err)
	}
}

func TestHashFileStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeTestFile(t, path, "state:\n  path: ./x.db\n")

	a, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if a != b || len(a) != 64 {
		t.Fatalf("hash = %q / %q", a, b)
	}
	if err := checkFile(path, strings.Repeat("0", 64)); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("checkFile() = %v, want ErrChecksumMismatch", err)
	}
}

func TestLoadChecksumsRejectsUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, ChecksumFile), "version: 7\nhashes: {}\n")
	if _, err := LoadChecksums(dir); err == nil || !strings.Contains(err.Error(), "unsupported version") {
		t.Fatalf("LoadChecksums() = %v", err)
	}
}

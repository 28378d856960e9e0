package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/mattjoyce/hostsmaster/internal/state"
	"github.com/mattjoyce/hostsmaster/internal/storage"
	"github.com/mattjoyce/hostsmaster/internal/tree"
	"github.com/mattjoyce/hostsmaster/internal/workspace"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	stdoutCh := make(chan []byte)
	stderrCh := make(chan []byte)
	go func() { b, _ := io.ReadAll(stdoutR); stdoutCh <- b }()
	go func() { b, _ := io.ReadAll(stderrR); stderrCh <- b }()

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes := <-stdoutCh
	stderrBytes := <-stderrCh
	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

type fixture struct {
	dir        string
	configPath string
	statePath  string
	hostsPath  string
}

// writeFixture creates a config pointing at a temp hosts file and state db.
// With seed the database is created and holds the default workspace.
func writeFixture(t *testing.T, hostsContent string, seed bool) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:        dir,
		configPath: filepath.Join(dir, "config.yaml"),
		statePath:  filepath.Join(dir, "data", "state.db"),
		hostsPath:  filepath.Join(dir, "hosts"),
	}

	configYAML := `
service:
  log_level: info
state:
  path: ` + f.statePath + `
hosts:
  path: ` + f.hostsPath + `
  temp_dir: ` + dir + `
  debounce: 10ms
  elevate:
    mode: direct
`
	if err := os.WriteFile(f.configPath, []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(f.hostsPath, []byte(hostsContent), 0o644); err != nil {
		t.Fatal(err)
	}

	if seed {
		ctx := context.Background()
		db, err := storage.OpenSQLite(ctx, f.statePath)
		if err != nil {
			t.Fatalf("OpenSQLite: %v", err)
		}
		defer db.Close()
		if _, err := workspace.Open(ctx, state.NewStore(db)); err != nil {
			t.Fatalf("workspace.Open: %v", err)
		}
	}
	return f
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"frobnicate"})
	})
	if code != 1 {
		t.Fatalf("runCLI() code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown command: frobnicate") {
		t.Fatalf("stderr missing unknown command: %s", stderr)
	}
	if !strings.Contains(stdout, "Usage:") {
		t.Fatalf("usage not printed: %s", stdout)
	}
}

func TestRunCLINounHelp(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"system", "help"}, "Actions: start, status, watch"},
		{[]string{"config", "--help"}, "Actions: lock, check"},
		{[]string{"system", "start", "--help"}, "Usage: hostsmaster system start"},
		{[]string{"config", "lock", "-h"}, "Usage: hostsmaster config lock"},
		{[]string{"export", "--help"}, "Usage: hostsmaster export"},
		{[]string{"watch", "--help"}, "space, enter"},
	}
	for _, tt := range tests {
		code, stdout, _ := captureOutputWithExitCode(t, func() int { return runCLI(tt.args) })
		if code != 0 {
			t.Fatalf("%v: code = %d", tt.args, code)
		}
		if !strings.Contains(stdout, tt.want) {
			t.Fatalf("%v: stdout missing %q: %s", tt.args, tt.want, stdout)
		}
	}

	code, _, stderr := captureOutputWithExitCode(t, func() int { return runCLI([]string{"config", "frob"}) })
	if code != 1 || !strings.Contains(stderr, "Unknown config action: frob") {
		t.Fatalf("unknown config action: code=%d stderr=%s", code, stderr)
	}
}

func TestRunVersionJSONOutputIncludesMetadata(t *testing.T) {
	oldVersion, oldCommit, oldBuild := version, gitCommit, buildDate
	t.Cleanup(func() { version, gitCommit, buildDate = oldVersion, oldCommit, oldBuild })
	version = "1.2.3"
	gitCommit = "0123456789abcdef0123"
	buildDate = "2026-02-03T04:05:06+02:00"

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"version", "--json"})
	})
	if code != 0 {
		t.Fatalf("runVersion() code = %d, stderr: %s", code, stderr)
	}

	var info versionInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, stdout)
	}
	if info.Version != "1.2.3" {
		t.Fatalf("version = %q", info.Version)
	}
	if info.Commit != "0123456789ab" {
		t.Fatalf("commit = %q, want 12-char prefix", info.Commit)
	}
	if info.BuildTime != "2026-02-03T02:05:06Z" {
		t.Fatalf("build_time = %q, want UTC", info.BuildTime)
	}
}

func TestRunConfigLockVerboseDryRun(t *testing.T) {
	f := writeFixture(t, "", false)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigLock([]string{"--config", f.configPath, "-v", "--dry-run"})
	})
	if code != 0 {
		t.Fatalf("runConfigLock() code = %d, stderr: %s", code, stderr)
	}
	if !regexp.MustCompile(`HASH config\.yaml: [a-f0-9]{64}`).MatchString(stdout) {
		t.Fatalf("stdout missing config hash: %s", stdout)
	}
	if !strings.Contains(stdout, "DRY-RUN .checksums:") || !strings.Contains(stdout, "Dry run completed") {
		t.Fatalf("stdout missing dry-run lines: %s", stdout)
	}
	if _, err := os.Stat(filepath.Join(f.dir, ".checksums")); !os.IsNotExist(err) {
		t.Fatal(".checksums should not be written in dry-run mode")
	}
}

func TestRunConfigLockThenCheckHasNoIntegrityWarning(t *testing.T) {
	f := writeFixture(t, "127.0.0.1 localhost", false)

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "lock", "--config", f.configPath})
	})
	if code != 0 {
		t.Fatalf("config lock code = %d, stderr: %s", code, stderr)
	}
	if _, err := os.Stat(filepath.Join(f.dir, ".checksums")); err != nil {
		t.Fatalf(".checksums not written: %v", err)
	}

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"doctor", "--config", f.configPath, "--json"})
	})
	if code != 0 {
		t.Fatalf("doctor code = %d, stdout: %s stderr: %s", code, stdout, stderr)
	}
	var result struct {
		Valid    bool `json:"valid"`
		Warnings []struct {
			Category string `json:"category"`
		} `json:"warnings"`
	}
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, stdout)
	}
	if !result.Valid {
		t.Fatalf("expected valid config: %s", stdout)
	}
	for _, w := range result.Warnings {
		if w.Category == "integrity" {
			t.Fatalf("unexpected integrity warning after lock: %s", stdout)
		}
	}
}

func TestRunConfigCheckLoadFailure(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", configPath})
	})
	if code != 1 || !strings.Contains(stderr, "Config load error") {
		t.Fatalf("code = %d, stderr: %s", code, stderr)
	}
}

func TestRunSystemStatusJSONHealthy(t *testing.T) {
	f := writeFixture(t, workspace.DefaultContent, true)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runSystemStatus([]string{"--config", f.configPath, "--json"})
	})
	if code != 0 {
		t.Fatalf("runSystemStatus() code = %d, stdout: %s stderr: %s", code, stdout, stderr)
	}

	var report statusReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, stdout)
	}
	if !report.Healthy {
		t.Fatalf("expected healthy report: %s", stdout)
	}
	names := make(map[string]statusCheck)
	for _, c := range report.Checks {
		names[c.Name] = c
	}
	for _, want := range []string{"config_load", "daemon", "state_db", "hosts_file", "in_sync"} {
		if _, ok := names[want]; !ok {
			t.Fatalf("missing check %q: %s", want, stdout)
		}
	}
	if names["daemon"].Detail != "not running" {
		t.Fatalf("daemon detail = %q", names["daemon"].Detail)
	}
}

func TestRunSystemStatusDetectsDrift(t *testing.T) {
	f := writeFixture(t, "10.9.9.9 edited-by-hand", true)

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"status", "--config", f.configPath})
	})
	if code != 1 {
		t.Fatalf("status code = %d, want 1; stdout: %s", code, stdout)
	}
	if !strings.Contains(stdout, "in_sync: FAIL") {
		t.Fatalf("expected in_sync failure: %s", stdout)
	}
}

func TestRunSystemStatusWithoutState(t *testing.T) {
	f := writeFixture(t, workspace.DefaultContent, false)

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runSystemStatus([]string{"--config", f.configPath})
	})
	if code != 1 {
		t.Fatalf("status code = %d, want 1", code)
	}
	if !strings.Contains(stdout, "state_db: FAIL") || !strings.Contains(stdout, "in_sync: FAIL (state unavailable)") {
		t.Fatalf("expected state failures: %s", stdout)
	}
	if _, err := os.Stat(f.statePath); !os.IsNotExist(err) {
		t.Fatal("status must not create the state database")
	}
}

func TestRunHosts(t *testing.T) {
	f := writeFixture(t, "10.0.0.1 on-disk\n", true)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runHosts([]string{"--config", f.configPath})
	})
	if code != 0 || stdout != "10.0.0.1 on-disk\n" {
		t.Fatalf("hosts: code=%d stdout=%q stderr=%s", code, stdout, stderr)
	}

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runHosts([]string{"--config", f.configPath, "--merged"})
	})
	if code != 0 || stdout != workspace.DefaultContent+"\n" {
		t.Fatalf("hosts --merged: code=%d stdout=%q stderr=%s", code, stdout, stderr)
	}
}

func TestRunExport(t *testing.T) {
	f := writeFixture(t, "", true)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runExport([]string{"--config", f.configPath, "--format", "csv"})
	})
	if code != 0 {
		t.Fatalf("export csv code = %d, stderr: %s", code, stderr)
	}
	if !strings.HasPrefix(stdout, "path,type,content\n") || !strings.Contains(stdout, "Default,scheme,127.0.0.1 localhost") {
		t.Fatalf("unexpected csv: %q", stdout)
	}

	out := filepath.Join(f.dir, "export.json")
	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runExport([]string{"--config", f.configPath, "--ids", " " + workspace.DefaultSchemeID + " ,", "--out", out})
	})
	if code != 0 {
		t.Fatalf("export json code = %d, stderr: %s", code, stderr)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	var items []*tree.Item
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("invalid export JSON: %v\n%s", err, data)
	}
	if len(items) != 1 || items[0].ID != workspace.DefaultSchemeID {
		t.Fatalf("unexpected export: %s", data)
	}

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runExport([]string{"--config", f.configPath, "--format", "xml"})
	})
	if code != 1 || !strings.Contains(stderr, "Export failed") {
		t.Fatalf("unknown format: code=%d stderr=%s", code, stderr)
	}
}

func TestConfigFingerprint(t *testing.T) {
	f := writeFixture(t, "", false)
	if got := configFingerprint(""); got != "defaults" {
		t.Fatalf("empty path fingerprint = %q", got)
	}
	byFile := configFingerprint(f.configPath)
	byDir := configFingerprint(f.dir)
	if len(byFile) != 16 || byFile != byDir {
		t.Fatalf("fingerprints differ: file=%q dir=%q", byFile, byDir)
	}
}

func TestSplitIDs(t *testing.T) {
	got := splitIDs(" a, ,b,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("splitIDs = %v", got)
	}
	if splitIDs("") != nil {
		t.Fatal("empty input should give nil")
	}
}

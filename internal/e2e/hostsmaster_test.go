package e2e

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattjoyce/hostsmaster/internal/config"
	"github.com/mattjoyce/hostsmaster/internal/events"
	"github.com/mattjoyce/hostsmaster/internal/hosts"
	"github.com/mattjoyce/hostsmaster/internal/hostsfile"
	"github.com/mattjoyce/hostsmaster/internal/log"
	"github.com/mattjoyce/hostsmaster/internal/remote"
	"github.com/mattjoyce/hostsmaster/internal/scheduler"
	"github.com/mattjoyce/hostsmaster/internal/state"
	"github.com/mattjoyce/hostsmaster/internal/storage"
	"github.com/mattjoyce/hostsmaster/internal/tree"
	"github.com/mattjoyce/hostsmaster/internal/version"
	"github.com/mattjoyce/hostsmaster/internal/workspace"
)

// stack is the daemon wiring of `hostsmaster start`, minus signals and HTTP.
type stack struct {
	cfg    *config.Config
	hub    *events.Hub
	writer *hostsfile.Coordinator
	svc    *hosts.Service
	sched  *scheduler.Scheduler
	close  func()
}

func startStack(t *testing.T, ctx context.Context, cfg *config.Config) *stack {
	t.Helper()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	docs := state.NewStore(db)
	hub := events.NewHub(256)

	workspaces, err := workspace.Open(ctx, docs)
	if err != nil {
		t.Fatalf("workspace.Open: %v", err)
	}

	writer := hostsfile.New(hostsfile.Options{
		Path:     cfg.Hosts.Path,
		TempDir:  cfg.Hosts.TempDir,
		Debounce: cfg.Hosts.Debounce,
		Elevator: hostsfile.NewCommandElevator(cfg.Hosts.Elevate.Command),
		Events:   hub,
	})
	writer.Start()

	svc, err := hosts.New(ctx, hosts.Options{
		Workspaces:     workspaces,
		Versions:       version.NewLog(docs),
		Writer:         writer,
		Fetcher:        remote.NewFetcher(cfg.Remote.Timeout, remote.WithMaxBytes(cfg.Remote.MaxBytes)),
		Events:         hub,
		RemoteInterval: cfg.Remote.DefaultSyncInterval,
	})
	if err != nil {
		t.Fatalf("hosts.New: %v", err)
	}

	sched := scheduler.New(scheduler.NewDocumentRuleStore(docs), svc, hub, nil)
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("scheduler start: %v", err)
	}

	var once sync.Once
	s := &stack{cfg: cfg, hub: hub, writer: writer, svc: svc, sched: sched}
	s.close = func() {
		once.Do(func() {
			sched.Stop()
			writer.Stop()
			_ = db.Close()
		})
	}
	t.Cleanup(s.close)
	return s
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}

func TestEndToEndHostsLifecycle(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell as the elevation command")
	}

	// 1. Setup Environment
	tmpDir := t.TempDir()
	hostsPath := filepath.Join(tmpDir, "etc", "hosts")
	if err := os.MkdirAll(filepath.Dir(hostsPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(hostsPath, []byte("# managed elsewhere\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var (
		mu         sync.Mutex
		remoteBody = "10.1.1.1 ads.example"
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_, _ = w.Write([]byte(remoteBody))
	}))
	defer srv.Close()

	// The elevation command is a real shell copy, run once per write.
	configYAML := `
service:
  log_level: error
state:
  path: ` + filepath.Join(tmpDir, "data", "state.db") + `
hosts:
  path: ` + hostsPath + `
  temp_dir: ` + tmpDir + `
  debounce: 20ms
  elevate:
    mode: command
    command: ["sh", "-c", "cp \"$0\" \"$1\"", "{src}", "{dst}"]
remote:
  timeout: 5s
  default_sync_interval: 30m
`
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}

	log.Setup("error")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	s := startStack(t, ctx, cfg)

	// 2. Local schemes in merge order
	dev, err := s.svc.CreateScheme(ctx, tree.RootID, "Dev", "10.0.0.5 dev.local")
	if err != nil {
		t.Fatalf("CreateScheme: %v", err)
	}
	if err := s.svc.SetActive(ctx, []string{workspace.DefaultSchemeID, dev.ID}); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if got, want := readFile(t, hostsPath), "127.0.0.1 localhost\n\n10.0.0.5 dev.local"; got != want {
		t.Fatalf("hosts file = %q, want %q", got, want)
	}

	// 3. Remote scheme picks up the configured sync interval and re-syncs
	ads, err := s.svc.CreateRemoteScheme(ctx, tree.RootID, "Ads", srv.URL, 0)
	if err != nil {
		t.Fatalf("CreateRemoteScheme: %v", err)
	}
	if ads.SyncInterval != 30*time.Minute {
		t.Fatalf("sync interval = %v, want 30m", ads.SyncInterval)
	}
	if err := s.svc.Activate(ctx, ads.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	mu.Lock()
	remoteBody = "10.2.2.2 ads.example"
	mu.Unlock()
	if _, err := s.svc.SyncRemote(ctx, ads.ID); err != nil {
		t.Fatalf("SyncRemote: %v", err)
	}
	if got := readFile(t, hostsPath); !strings.HasSuffix(got, "\n\n10.2.2.2 ads.example") {
		t.Fatalf("remote content not merged last: %q", got)
	}

	// 4. A temporary rule deactivates Dev when it expires
	if _, err := s.sched.Add(ctx, scheduler.RuleSpec{ItemID: dev.ID, Mode: scheduler.ModeTemporary, Duration: 150 * time.Millisecond}); err != nil {
		t.Fatalf("Add rule: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		return !strings.Contains(readFile(t, hostsPath), "dev.local")
	}, "temporary rule never deactivated Dev")
	waitFor(t, time.Second, func() bool {
		for _, e := range s.hub.SnapshotSince(0) {
			if e.Type == events.ScheduleFired {
				return len(s.sched.List()) == 0
			}
		}
		return false
	}, "fired rule was not removed")

	// 5. Event stream saw every stage
	seen := make(map[string]bool)
	for _, e := range s.hub.SnapshotSince(0) {
		seen[e.Type] = true
	}
	for _, want := range []string{events.HostsChanged, events.HostsWritten, events.RemoteSynced, events.ScheduleAdded, events.ScheduleFired} {
		if !seen[want] {
			t.Fatalf("missing %s event; saw %v", want, seen)
		}
	}
	if st := s.writer.Stats(); st.Failures != 0 || st.Writes < 3 {
		t.Fatalf("unexpected writer stats: %+v", st)
	}

	// 6. Restart keeps the workspace and the active list
	if _, err := s.svc.CreateVersion(ctx, "", "before restart"); err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	s.close()

	restarted := startStack(t, ctx, cfg)
	snap := restarted.svc.Snapshot()
	if len(snap.Active) != 2 || snap.Active[0] != workspace.DefaultSchemeID || snap.Active[1] != ads.ID {
		t.Fatalf("active list after restart = %v", snap.Active)
	}
	vs, err := restarted.svc.Versions(ctx)
	if err != nil || len(vs) != 1 || vs[0].Description != "before restart" {
		t.Fatalf("versions after restart = %+v, err=%v", vs, err)
	}
	if got, want := restarted.svc.Merged(), readFile(t, hostsPath); got != want {
		t.Fatalf("merged content %q differs from hosts file %q", got, want)
	}
}

func TestEndToEndElevationDenied(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell as the elevation command")
	}

	tmpDir := t.TempDir()
	cfg := config.Defaults()
	cfg.State.Path = filepath.Join(tmpDir, "state.db")
	cfg.Hosts.Path = filepath.Join(tmpDir, "hosts")
	cfg.Hosts.TempDir = tmpDir
	cfg.Hosts.Debounce = 0
	cfg.Hosts.Elevate.Command = []string{"sh", "-c", "echo 'cp: {dst}: Permission denied' >&2; exit 1"}
	if err := os.WriteFile(cfg.Hosts.Path, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}

	log.Setup("error")
	ctx := context.Background()
	s := startStack(t, ctx, cfg)

	sc, err := s.svc.CreateScheme(ctx, tree.RootID, "Blocked", "10.9.9.9 blocked")
	if err != nil {
		t.Fatalf("CreateScheme: %v", err)
	}
	err = s.svc.Activate(ctx, sc.ID)
	if !errors.Is(err, hostsfile.ErrPermissionDenied) {
		t.Fatalf("Activate err = %v, want ErrPermissionDenied", err)
	}

	// The activation stands; only the physical write failed.
	if active := s.svc.ActiveIDs(); len(active) != 2 || active[1] != sc.ID {
		t.Fatalf("active list = %v", active)
	}
	if got := readFile(t, cfg.Hosts.Path); got != "original" {
		t.Fatalf("hosts file changed on failure: %q", got)
	}
	if st := s.writer.Stats(); st.Failures != 1 {
		t.Fatalf("failures = %d, want 1", st.Failures)
	}
}

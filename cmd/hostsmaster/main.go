package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/hostsmaster/internal/api"
	"github.com/mattjoyce/hostsmaster/internal/config"
	"github.com/mattjoyce/hostsmaster/internal/events"
	"github.com/mattjoyce/hostsmaster/internal/hosts"
	"github.com/mattjoyce/hostsmaster/internal/hostsfile"
	"github.com/mattjoyce/hostsmaster/internal/lock"
	"github.com/mattjoyce/hostsmaster/internal/log"
	"github.com/mattjoyce/hostsmaster/internal/remote"
	"github.com/mattjoyce/hostsmaster/internal/scheduler"
	"github.com/mattjoyce/hostsmaster/internal/state"
	"github.com/mattjoyce/hostsmaster/internal/storage"
	"github.com/mattjoyce/hostsmaster/internal/tui/watch"
	versions "github.com/mattjoyce/hostsmaster/internal/version"
	"github.com/mattjoyce/hostsmaster/internal/workspace"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// EnvAPIKey is read by the watch client when --api-key is not given.
const EnvAPIKey = "HOSTSMASTER_API_KEY"

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		if hasHelpFlag(args) {
			printSystemStartHelp()
			return 0
		}
		return runStart(args)
	case "watch":
		if hasHelpFlag(args) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(args)
	case "status":
		if hasHelpFlag(args) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(args)
	case "doctor":
		if hasHelpFlag(args) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(args)
	case "hosts":
		if hasHelpFlag(args) {
			printHostsHelp()
			return 0
		}
		return runHosts(args)
	case "export":
		if hasHelpFlag(args) {
			printExportHelp()
			return 0
		}
		return runExport(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: hostsmaster version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("hostsmaster %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`hostsmaster - hosts file scheme manager

Usage:
  hostsmaster <noun> <action> [flags]
  hostsmaster <command> [flags]

Core Resources (Nouns):
  system    Daemon lifecycle and health
  config    Configuration and integrity

System Commands:
  system start      Run the daemon in the foreground
  system status     Show config, state database, and hosts file health
  system watch      Live terminal view of a running daemon

Config Commands:
  config lock       Authorize current state (write integrity hashes)
  config check      Validate configuration and environment

Commands:
  start             Alias for 'system start'
  watch             Alias for 'system watch'
  status            Alias for 'system status'
  doctor            Alias for 'config check'
  hosts             Print the system hosts file (or the merged content)
  export            Export the current workspace as JSON or CSV
  version           Show version information
  help              Show this help message

Use 'hostsmaster <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: hostsmaster system <action>")
	fmt.Fprintln(w, "Actions: start, status, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: hostsmaster config <action> [flags]")
	fmt.Fprintln(w, "Actions: lock, check")
}

func printSystemStartHelp() {
	fmt.Println("Usage: hostsmaster system start [--config PATH] [--apply=false]")
	fmt.Println("Run the daemon in the foreground.")
	fmt.Println("")
	fmt.Println("Flags:")
	fmt.Println("  --config PATH    Configuration file or directory (discovered when omitted)")
	fmt.Println("  --apply          Rewrite the hosts file from the active schemes at startup (default true)")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: hostsmaster system status [--config PATH] [--json]")
	fmt.Println("Show config, state database, hosts file, and daemon state.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  All checks passed")
	fmt.Println("  1  One or more checks failed")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: hostsmaster system watch [flags]")
	fmt.Println()
	fmt.Println("Live terminal view of a running daemon.")
	fmt.Println("Shows schemes in merge order, pending schedules, and the event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Daemon API URL (default: http://127.0.0.1:8080)")
	fmt.Printf("  --api-key KEY    API Bearer Token (or %s env var)\n", EnvAPIKey)
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Navigate schemes")
	fmt.Println("  space, enter     Toggle the selected scheme")
	fmt.Println("  r                Refresh")
}

func printConfigLockHelp() {
	fmt.Println("Usage: hostsmaster config lock [--config PATH] [-v|--verbose] [--dry-run]")
	fmt.Println("Authorize the current configuration by writing integrity hashes for every included file.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: hostsmaster config check [--config PATH] [--format human|json] [--strict]")
	fmt.Println("Validate configuration, hosts file access, elevation, and state.")
}

func printHostsHelp() {
	fmt.Println("Usage: hostsmaster hosts [--config PATH] [--merged]")
	fmt.Println("Print the system hosts file, or with --merged the content the active schemes produce.")
}

func printExportHelp() {
	fmt.Println("Usage: hostsmaster export [--config PATH] [--format json|csv] [--ids ID,ID] [--out FILE]")
	fmt.Println("Export the current workspace. --ids restricts the export to the named items.")
}

// loadConfig resolves --config (or discovery) and loads it. With nothing
// found it returns the defaults and an empty path.
func loadConfig(flagValue string) (*config.Config, string, error) {
	path, found := config.ResolveConfigPath(flagValue)
	if !found {
		path = ""
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// configFingerprint returns a short BLAKE3 prefix of the root config file.
func configFingerprint(path string) string {
	if path == "" {
		return "defaults"
	}
	file := path
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		file = filepath.Join(path, "config.yaml")
	}
	hash, err := config.HashFile(file)
	if err != nil {
		return "unknown"
	}
	return hash[:16]
}

func newElevator(cfg config.ElevateConfig) hostsfile.Elevator {
	if cfg.Mode == config.ElevateDirect {
		return hostsfile.DirectCopier{}
	}
	return hostsfile.NewCommandElevator(cfg.Command)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	apply := fs.Bool("apply", true, "Rewrite the hosts file from the active schemes at startup")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, resolved, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.SetupService(cfg.Service.Name, cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	if resolved == "" {
		logger.Warn("no config found, running on defaults")
	}
	logger.Info("hostsmaster starting", "version", version, "config", resolved, "fingerprint", configFingerprint(resolved))

	pidLockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	docs := state.NewStore(db)
	hub := events.NewHub(256)

	workspaces, err := workspace.Open(ctx, docs)
	if err != nil {
		logger.Error("failed to open workspaces", "error", err)
		return 1
	}

	writer := hostsfile.New(hostsfile.Options{
		Path:     cfg.Hosts.Path,
		TempDir:  cfg.Hosts.TempDir,
		Debounce: cfg.Hosts.Debounce,
		Elevator: newElevator(cfg.Hosts.Elevate),
		Events:   hub,
		Logger:   log.Get(),
	})
	writer.Start()
	defer writer.Stop()
	logger.Info("hosts writer ready", "path", cfg.Hosts.Path, "mode", cfg.Hosts.Elevate.Mode, "debounce", cfg.Hosts.Debounce)

	svc, err := hosts.New(ctx, hosts.Options{
		Workspaces:     workspaces,
		Versions:       versions.NewLog(docs),
		Writer:         writer,
		Fetcher:        remote.NewFetcher(cfg.Remote.Timeout, remote.WithMaxBytes(cfg.Remote.MaxBytes)),
		Events:         hub,
		Logger:         log.Get(),
		RemoteInterval: cfg.Remote.DefaultSyncInterval,
	})
	if err != nil {
		logger.Error("failed to load hosts service", "error", err)
		return 1
	}

	if *apply {
		if err := svc.Recommit(ctx); err != nil {
			logger.Warn("initial hosts file write failed", "error", err)
		}
	}

	// schedules stays a nil interface when the scheduler is off so the API
	// reports it as unavailable.
	var schedules api.Schedules
	if cfg.Scheduler.Enabled {
		sched := scheduler.New(scheduler.NewDocumentRuleStore(docs), svc, hub, log.Get())
		if err := sched.Start(ctx); err != nil {
			logger.Error("failed to start scheduler", "error", err)
			return 1
		}
		defer sched.Stop()
		schedules = sched
	}

	syncer := remote.NewSyncer(svc, cfg.Remote.SweepInterval, log.Get())
	if err := syncer.Start(ctx); err != nil {
		logger.Error("failed to start remote syncer", "error", err)
		return 1
	}
	defer syncer.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
		}, svc, schedules, hub, writer, log.Get())
		g.Go(func() error {
			if err := apiServer.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("hostsmaster running (press Ctrl+C to stop)", "workspace", svc.Snapshot().WorkspaceName)

	if err := g.Wait(); err != nil {
		logger.Error("component failed", "error", err)
		return 1
	}

	logger.Info("hostsmaster stopped")
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8080", "Daemon API URL")
	apiKey := fs.String("api-key", os.Getenv(EnvAPIKey), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	m := watch.New(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

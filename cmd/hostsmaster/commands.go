package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mattjoyce/hostsmaster/internal/config"
	"github.com/mattjoyce/hostsmaster/internal/doctor"
	"github.com/mattjoyce/hostsmaster/internal/hostsfile"
	"github.com/mattjoyce/hostsmaster/internal/lock"
	"github.com/mattjoyce/hostsmaster/internal/merge"
	"github.com/mattjoyce/hostsmaster/internal/state"
	"github.com/mattjoyce/hostsmaster/internal/storage"
	"github.com/mattjoyce/hostsmaster/internal/transfer"
	"github.com/mattjoyce/hostsmaster/internal/tree"
	"github.com/mattjoyce/hostsmaster/internal/workspace"
)

var errStateMissing = errors.New("state database not initialised (run 'hostsmaster start' once)")

// openState opens an existing state database. It refuses to create one so
// read-only commands never leave an empty database behind.
func openState(ctx context.Context, cfg *config.Config) (*sql.DB, *state.Store, error) {
	if _, err := os.Stat(cfg.State.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, errStateMissing
		}
		return nil, nil, err
	}
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, nil, err
	}
	return db, state.NewStore(db), nil
}

// currentWorkspace loads the current workspace from docs.
func currentWorkspace(ctx context.Context, docs *state.Store) (*workspace.Workspace, error) {
	mgr, err := workspace.Open(ctx, docs)
	if err != nil {
		return nil, err
	}
	return mgr.Current(ctx)
}

// mergedContent is what the daemon would write for ws.
func mergedContent(ws *workspace.Workspace) string {
	store := tree.New(ws.Root().Clone(), ws.ActiveSchemes)
	return merge.Merge(store.ActiveIDs(), store)
}

func runConfigCheck(args []string) int {
	var configPath string
	var strict, jsonOut bool
	var format string

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	var configPath string
	var verbose, verboseShort, dryRun bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Dry run")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	isVerbose := verbose || verboseShort

	resolved, found := config.ResolveConfigPath(configPath)
	if !found {
		fmt.Fprintln(os.Stderr, "Failed to discover config: nothing to lock")
		return 1
	}

	reports, err := config.Lock(resolved, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	for _, report := range reports {
		if !isVerbose {
			continue
		}
		fmt.Printf("Processing directory: %s\n", report.Dir)
		for _, e := range report.Entries {
			if e.Missing {
				fmt.Printf("  SKIP %s: not found\n", e.Name)
				continue
			}
			fmt.Printf("  HASH %s: %s\n", e.Name, e.Hash)
		}
		if report.Written {
			fmt.Printf("  WROTE .checksums: %s\n", report.Manifest)
		} else {
			fmt.Printf("  DRY-RUN .checksums: %s (not written)\n", report.Manifest)
		}
	}

	if dryRun {
		fmt.Printf("Dry run completed for %d directory/ies (no files written):\n", len(reports))
	} else {
		fmt.Printf("Successfully locked configuration in %d directory/ies:\n", len(reports))
	}
	for _, report := range reports {
		fmt.Printf("  - %s\n", report.Dir)
	}
	return 0
}

type statusCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

type statusReport struct {
	Healthy bool          `json:"healthy"`
	Checks  []statusCheck `json:"checks"`
}

func (r *statusReport) add(name string, ok bool, detail string) {
	r.Checks = append(r.Checks, statusCheck{Name: name, OK: ok, Detail: detail})
	if !ok {
		r.Healthy = false
	}
}

// collectStatus runs every check. Checks that depend on a failed one fail
// with the reason of their dependency.
func collectStatus(ctx context.Context, configPath string) statusReport {
	report := statusReport{Healthy: true}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		report.add("config_load", false, err.Error())
		for _, name := range []string{"state_db", "hosts_file", "in_sync"} {
			report.add(name, false, "config not loaded")
		}
		return report
	}
	if resolved == "" {
		resolved = "defaults"
	}
	report.add("config_load", true, resolved)

	pid, held, err := lock.ReadPID(lock.PathFor(cfg.State.Path))
	switch {
	case errors.Is(err, os.ErrNotExist):
		report.add("daemon", true, "not running")
	case err != nil:
		report.add("daemon", true, "unknown: "+err.Error())
	case held:
		report.add("daemon", true, "running (pid "+strconv.Itoa(pid)+")")
	default:
		report.add("daemon", true, "not running")
	}

	var merged string
	db, docs, err := openState(ctx, cfg)
	if err == nil {
		defer db.Close()
		err = docs.Ping(ctx)
	}
	var ws *workspace.Workspace
	if err == nil {
		ws, err = currentWorkspace(ctx, docs)
	}
	if err != nil {
		report.add("state_db", false, err.Error())
	} else {
		merged = mergedContent(ws)
		report.add("state_db", true, fmt.Sprintf("workspace %q, %d active scheme(s)", ws.Name, len(ws.ActiveSchemes)))
	}

	content, readErr := hostsfile.New(hostsfile.Options{Path: cfg.Hosts.Path}).Read()
	if readErr != nil {
		report.add("hosts_file", false, readErr.Error())
	} else {
		report.add("hosts_file", true, fmt.Sprintf("%s (%d bytes)", cfg.Hosts.Path, len(content)))
	}

	switch {
	case err != nil:
		report.add("in_sync", false, "state unavailable")
	case readErr != nil:
		report.add("in_sync", false, "hosts file unavailable")
	case content != merged:
		report.add("in_sync", false, "hosts file differs from the active schemes")
	default:
		report.add("in_sync", true, "digest "+merge.Digest(content)[:16])
	}
	return report
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report := collectStatus(context.Background(), *configPath)

	if *jsonOut {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render status JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else {
		for _, c := range report.Checks {
			result := "OK"
			if !c.OK {
				result = "FAIL"
			}
			if c.Detail != "" {
				fmt.Printf("%s: %s (%s)\n", c.Name, result, c.Detail)
			} else {
				fmt.Printf("%s: %s\n", c.Name, result)
			}
		}
	}

	if !report.Healthy {
		return 1
	}
	return 0
}

func runHosts(args []string) int {
	fs := flag.NewFlagSet("hosts", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	merged := fs.Bool("merged", false, "Print the content the active schemes produce instead of the system file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	var content string
	if *merged {
		ctx := context.Background()
		db, docs, err := openState(ctx, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open state: %v\n", err)
			return 1
		}
		defer db.Close()
		ws, err := currentWorkspace(ctx, docs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load workspace: %v\n", err)
			return 1
		}
		content = mergedContent(ws)
	} else {
		content, err = hostsfile.New(hostsfile.Options{Path: cfg.Hosts.Path}).Read()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read hosts file: %v\n", err)
			return 1
		}
	}

	fmt.Print(content)
	if !strings.HasSuffix(content, "\n") {
		fmt.Println()
	}
	return 0
}

func runExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	format := fs.String("format", transfer.FormatJSON, "Output format (json, csv)")
	ids := fs.String("ids", "", "Comma-separated item ids to export (default: everything)")
	out := fs.String("out", "", "Write to FILE instead of stdout")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, docs, err := openState(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open state: %v\n", err)
		return 1
	}
	defer db.Close()

	ws, err := currentWorkspace(ctx, docs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load workspace: %v\n", err)
		return 1
	}

	items := ws.Root().Children
	if selected := splitIDs(*ids); len(selected) > 0 {
		items = transfer.Filter(items, selected)
	}
	data, err := transfer.Export(items, *format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		return 1
	}

	if *out == "" {
		fmt.Print(string(data))
		if len(data) > 0 && data[len(data)-1] != '\n' {
			fmt.Println()
		}
		return 0
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", *out, err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "Exported workspace %q to %s\n", ws.Name, *out)
	return 0
}

func splitIDs(in string) []string {
	var out []string
	for _, part := range strings.Split(in, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

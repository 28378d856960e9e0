// Package doctor checks a hostsmaster configuration against the machine it
// will run on.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/hostsmaster/internal/config"
	"github.com/mattjoyce/hostsmaster/internal/hostsfile"
	"github.com/mattjoyce/hostsmaster/internal/lock"
	"github.com/mattjoyce/hostsmaster/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg      *config.Config
	goos     string
	lookPath func(string) (string, error)
	mountOf  func(string) (storage.Mount, error)
}

// New creates a Doctor for cfg on the current platform.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, goos: runtime.GOOS, lookPath: exec.LookPath, mountOf: storage.Inspect}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateHostsFile(r)
	d.validateElevation(r)
	d.validateTempDir(r)
	d.validateState(r)
	d.validateAPIConfig(r)
	d.warnRemoteTiming(r)
	d.warnMissingEnvVars(r)
	d.warnUnlockedConfig(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateHostsFile checks that the managed file exists and can be read,
// and that direct mode can write it.
func (d *Doctor) validateHostsFile(r *Result) {
	path := d.cfg.Hosts.Path
	info, err := os.Stat(path)
	if err != nil {
		d.addError(r, "hosts", "hosts.path", fmt.Sprintf("hosts file %s: %v", path, err))
		return
	}
	if info.IsDir() {
		d.addError(r, "hosts", "hosts.path", fmt.Sprintf("%s is a directory", path))
		return
	}
	f, err := os.Open(path)
	if err != nil {
		d.addError(r, "hosts", "hosts.path", fmt.Sprintf("hosts file is not readable: %v", err))
		return
	}
	_ = f.Close()

	if d.cfg.Hosts.Elevate.Mode != config.ElevateDirect {
		return
	}
	w, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		d.addError(r, "hosts", "hosts.elevate.mode",
			fmt.Sprintf("direct mode needs write access to %s: %v", path, err))
		return
	}
	_ = w.Close()
}

// validateElevation checks that the elevation helper can be found.
func (d *Doctor) validateElevation(r *Result) {
	if d.cfg.Hosts.Elevate.Mode != config.ElevateCommand {
		return
	}
	argv := d.cfg.Hosts.Elevate.Command
	field := "hosts.elevate.command"
	if len(argv) == 0 {
		argv = hostsfile.DefaultCommand(d.goos)
		field = "hosts.elevate"
	}
	if _, err := d.lookPath(argv[0]); err != nil {
		d.addError(r, "elevation", field,
			fmt.Sprintf("elevation helper %q not found in PATH", argv[0]))
	}
}

func (d *Doctor) validateTempDir(r *Result) {
	dir := d.cfg.Hosts.TempDir
	if dir == "" {
		return
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		d.addError(r, "hosts", "hosts.temp_dir", fmt.Sprintf("temp_dir %s is not a directory", dir))
		return
	}
	if m, err := d.mountOf(dir); err == nil && m.Network {
		d.addWarning(r, "hosts", "hosts.temp_dir",
			fmt.Sprintf("temp_dir %s is on %s; the elevation helper may not see the staged file", dir, m.Type))
	}
}

// validateState checks the database directory and reports a running daemon.
func (d *Doctor) validateState(r *Result) {
	dir := filepath.Dir(d.cfg.State.Path)
	if info, err := os.Stat(dir); err != nil {
		d.addWarning(r, "state", "state.path", fmt.Sprintf("directory %s does not exist and will be created", dir))
	} else if !info.IsDir() {
		d.addError(r, "state", "state.path", fmt.Sprintf("%s is not a directory", dir))
		return
	}
	if m, err := d.mountOf(d.cfg.State.Path); err == nil && m.Network {
		d.addError(r, "state", "state.path",
			fmt.Sprintf("%s is on network filesystem %s; SQLite needs local disk", d.cfg.State.Path, m.Type))
	}

	lockPath := lock.PathFor(d.cfg.State.Path)
	if pid, held, err := lock.ReadPID(lockPath); err == nil && held {
		d.addWarning(r, "state", "state.path",
			fmt.Sprintf("a hostsmaster daemon (pid %d) already holds %s", pid, lockPath))
	}
}

// validateAPIConfig flags settings that expose the API.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", err.Error())
		return
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		d.addWarning(r, "api", "api.listen",
			fmt.Sprintf("API listens on %q, which is reachable from other hosts", d.cfg.API.Listen))
	}
	if len(d.cfg.API.Auth.APIKey) < 16 {
		d.addWarning(r, "api", "api.auth.api_key", "api_key is shorter than 16 characters")
	}
}

// warnRemoteTiming warns about intervals that seem too short.
func (d *Doctor) warnRemoteTiming(r *Result) {
	rc := d.cfg.Remote
	if rc.Timeout > rc.SweepInterval {
		d.addWarning(r, "remote", "remote.timeout",
			fmt.Sprintf("timeout %s exceeds sweep_interval %s", rc.Timeout, rc.SweepInterval))
	}
	if rc.DefaultSyncInterval < time.Minute {
		d.addWarning(r, "remote", "remote.default_sync_interval",
			fmt.Sprintf("default_sync_interval %s is very short (< 1m)", rc.DefaultSyncInterval))
	}
	if d.cfg.Hosts.Debounce > 10*time.Second {
		d.addWarning(r, "hosts", "hosts.debounce",
			fmt.Sprintf("debounce %s delays every hosts file write", d.cfg.Hosts.Debounce))
	}
}

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// warnMissingEnvVars warns about ${VAR} references left unresolved in any
// loaded file.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	files := make([]string, 0, len(d.cfg.SourceFiles))
	for f := range d.cfg.SourceFiles {
		files = append(files, f)
	}
	sort.Strings(files)

	for _, f := range files {
		walkScalars(d.cfg.SourceFiles[f], "", func(field, value string) {
			for _, m := range envVarRe.FindAllStringSubmatch(value, -1) {
				d.addWarning(r, "env_vars", field,
					fmt.Sprintf("environment variable ${%s} not set (%s)", m[1], filepath.Base(f)))
			}
		})
	}
}

// warnUnlockedConfig reports config directories without a checksum manifest.
func (d *Doctor) warnUnlockedConfig(r *Result) {
	seen := make(map[string]bool)
	for f := range d.cfg.SourceFiles {
		dir := filepath.Dir(f)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		_, err := config.LoadChecksums(dir)
		switch {
		case errors.Is(err, config.ErrNotLocked):
			d.addWarning(r, "integrity", "",
				fmt.Sprintf("%s is not locked (run 'hostsmaster config lock')", dir))
		case err != nil:
			d.addError(r, "integrity", "", err.Error())
		}
	}
}

func walkScalars(n *yaml.Node, path string, fn func(field, value string)) {
	if n == nil {
		return
	}
	switch n.Kind {
	case yaml.DocumentNode:
		for _, c := range n.Content {
			walkScalars(c, path, fn)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			if path != "" {
				key = path + "." + key
			}
			walkScalars(n.Content[i+1], key, fn)
		}
	case yaml.SequenceNode:
		for i, c := range n.Content {
			walkScalars(c, fmt.Sprintf("%s[%d]", path, i), fn)
		}
	case yaml.ScalarNode:
		fn(path, n.Value)
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

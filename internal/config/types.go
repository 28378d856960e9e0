package config

import (
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete hostsmaster configuration.
type Config struct {
	Include   []string        `yaml:"include,omitempty"`
	Service   ServiceConfig   `yaml:"service"`
	State     StateConfig     `yaml:"state"`
	Hosts     HostsConfig     `yaml:"hosts"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Remote    RemoteConfig    `yaml:"remote"`
	API       APIConfig       `yaml:"api,omitempty"`

	// SourceFiles holds the parsed YAML of every file that was loaded, keyed
	// by absolute path. It is empty for a default config.
	SourceFiles map[string]*yaml.Node `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// HostsConfig defines where and how the system hosts file is written.
type HostsConfig struct {
	Path     string        `yaml:"path"`
	TempDir  string        `yaml:"temp_dir,omitempty"`
	Debounce time.Duration `yaml:"debounce"`
	Elevate  ElevateConfig `yaml:"elevate"`
}

// Elevation modes.
const (
	ElevateCommand = "command"
	ElevateDirect  = "direct"
)

// ElevateConfig selects the privileged copy. Command is an argv template
// with {src} and {dst} placeholders; empty means the platform default.
type ElevateConfig struct {
	Mode    string   `yaml:"mode"`
	Command []string `yaml:"command,omitempty"`
}

// SchedulerConfig toggles timed activation rules.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RemoteConfig tunes downloads of remote schemes.
type RemoteConfig struct {
	SweepInterval       time.Duration `yaml:"sweep_interval"`
	Timeout             time.Duration `yaml:"timeout"`
	MaxBytes            int64         `yaml:"max_bytes"`
	DefaultSyncInterval time.Duration `yaml:"default_sync_interval"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// ChecksumManifest is the .checksums file written by `config lock`.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// DefaultHostsPath returns the system hosts file location for goos.
func DefaultHostsPath(goos string) string {
	if goos == "windows" {
		return `C:\Windows\System32\drivers\etc\hosts`
	}
	return "/etc/hosts"
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "hostsmaster",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		Hosts: HostsConfig{
			Path:     DefaultHostsPath(runtime.GOOS),
			Debounce: time.Second,
			Elevate: ElevateConfig{
				Mode: ElevateCommand,
			},
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
		},
		Remote: RemoteConfig{
			SweepInterval:       time.Minute,
			Timeout:             30 * time.Second,
			MaxBytes:            5 << 20,
			DefaultSyncInterval: time.Hour,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		SourceFiles: make(map[string]*yaml.Node),
	}
}

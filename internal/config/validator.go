package config

import (
	"fmt"
	"net"
	"slices"
	"strings"
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"json", "text"}
)

// validate performs semantic validation on a merged configuration.
func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		return fmt.Errorf("service.name is required")
	}
	if !slices.Contains(validLogLevels, cfg.Service.LogLevel) {
		return fmt.Errorf("service.log_level must be one of: %s (got %q)",
			strings.Join(validLogLevels, ", "), cfg.Service.LogLevel)
	}
	if !slices.Contains(validLogFormats, cfg.Service.LogFormat) {
		return fmt.Errorf("service.log_format must be one of: %s (got %q)",
			strings.Join(validLogFormats, ", "), cfg.Service.LogFormat)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if err := unresolvedEnv("state.path", cfg.State.Path); err != nil {
		return err
	}

	if err := validateHosts(&cfg.Hosts); err != nil {
		return err
	}
	if err := validateRemote(&cfg.Remote); err != nil {
		return err
	}
	return validateAPI(&cfg.API)
}

func validateHosts(h *HostsConfig) error {
	if h.Path == "" {
		return fmt.Errorf("hosts.path is required")
	}
	if err := unresolvedEnv("hosts.path", h.Path); err != nil {
		return err
	}
	if h.Debounce < 0 {
		return fmt.Errorf("hosts.debounce must not be negative")
	}

	switch h.Elevate.Mode {
	case ElevateDirect:
	case ElevateCommand:
		if len(h.Elevate.Command) == 0 {
			return nil
		}
		joined := strings.Join(h.Elevate.Command, " ")
		if !strings.Contains(joined, "{src}") || !strings.Contains(joined, "{dst}") {
			return fmt.Errorf("hosts.elevate.command must reference both {src} and {dst}")
		}
	default:
		return fmt.Errorf("hosts.elevate.mode must be %q or %q (got %q)",
			ElevateCommand, ElevateDirect, h.Elevate.Mode)
	}
	return nil
}

func validateRemote(r *RemoteConfig) error {
	if r.SweepInterval <= 0 {
		return fmt.Errorf("remote.sweep_interval must be positive")
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("remote.timeout must be positive")
	}
	if r.MaxBytes <= 0 {
		return fmt.Errorf("remote.max_bytes must be positive")
	}
	if r.DefaultSyncInterval <= 0 {
		return fmt.Errorf("remote.default_sync_interval must be positive")
	}
	return nil
}

func validateAPI(a *APIConfig) error {
	if !a.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(a.Listen); err != nil {
		return fmt.Errorf("api.listen %q: %w", a.Listen, err)
	}
	if a.Auth.APIKey == "" {
		return fmt.Errorf("api.auth.api_key is required when the API is enabled")
	}
	return unresolvedEnv("api.auth.api_key", a.Auth.APIKey)
}

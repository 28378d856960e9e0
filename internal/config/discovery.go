package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvConfigDir names the environment variable that points at a config
// directory.
const EnvConfigDir = "HOSTSMASTER_CONFIG_DIR"

// DiscoverConfigDir finds the config by checking standard locations.
// Priority order: $HOSTSMASTER_CONFIG_DIR, ~/.config/hostsmaster,
// /etc/hostsmaster, ./config.yaml.
func DiscoverConfigDir() (string, error) {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "hostsmaster")
		if fileExists(filepath.Join(userConfigDir, "config.yaml")) {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/hostsmaster"
	if fileExists(filepath.Join(systemConfigDir, "config.yaml")) {
		return systemConfigDir, nil
	}

	if fileExists("./config.yaml") {
		return "./config.yaml", nil
	}

	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/hostsmaster, /etc/hostsmaster, ./config.yaml)", EnvConfigDir)
}

// ResolveConfigPath returns the explicit flag value when set, otherwise the
// discovered location. found is false when nothing exists and the caller
// should run on defaults.
func ResolveConfigPath(flagValue string) (path string, found bool) {
	if flagValue != "" {
		return flagValue, true
	}
	dir, err := DiscoverConfigDir()
	if err != nil {
		return "", false
	}
	return dir, true
}

// ConfigDir returns the directory that holds path's config.yaml.
func ConfigDir(path string) string {
	if dirExists(path) {
		return path
	}
	return filepath.Dir(path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

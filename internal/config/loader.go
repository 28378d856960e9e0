package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads configPath (a file, or a directory holding config.yaml), merges
// its includes in order over the defaults, verifies checksums when a
// .checksums manifest sits next to a file, and validates the result.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	visited := make(map[string]bool)
	if err := loadInto(cfg, absPath, visited); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(visited))
	for p := range visited {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	if err := verifyAllConfigHashes(paths); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configPath when it is non-empty and returns the
// validated defaults otherwise.
func LoadOrDefault(configPath string) (*Config, error) {
	if configPath == "" {
		cfg := Defaults()
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("invalid default configuration: %w", err)
		}
		return cfg, nil
	}
	return Load(configPath)
}

// DiscoverAllConfigFiles returns absolute paths to every file in the include
// tree of configPath, sorted.
func DiscoverAllConfigFiles(configPath string) ([]string, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	visited := make(map[string]bool)
	if err := loadInto(Defaults(), absPath, visited); err != nil {
		return nil, err
	}
	files := make([]string, 0, len(visited))
	for f := range visited {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

func resolveConfigFile(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// loadInto decodes path over cfg, then each of its includes relative to
// path's directory. visited detects include cycles.
func loadInto(cfg *Config, path string, visited map[string]bool) error {
	if visited[path] {
		return fmt.Errorf("circular include detected: %s", path)
	}
	visited[path] = true

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	interpolated := []byte(interpolateEnv(string(data)))

	var node yaml.Node
	if err := yaml.Unmarshal(interpolated, &node); err != nil {
		return fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	if cfg.SourceFiles == nil {
		cfg.SourceFiles = make(map[string]*yaml.Node)
	}
	cfg.SourceFiles[path] = &node

	// Include is per file; decode resets it to this file's list.
	cfg.Include = nil
	dec := yaml.NewDecoder(bytes.NewReader(interpolated))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	includes := cfg.Include
	cfg.Include = nil

	baseDir := filepath.Dir(path)
	for i, inc := range includes {
		resolved := interpolateEnv(inc)
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(baseDir, resolved)
		}
		absInc, err := filepath.Abs(resolved)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, inc, err)
		}
		if _, err := os.Stat(absInc); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("include[%d]: file not found: %s\n"+
					"Referenced from: %s\n"+
					"Hint: Check the path is correct and the file exists", i, absInc, path)
			}
			return fmt.Errorf("include[%d]: failed to access file %s: %w", i, absInc, err)
		}
		if err := loadInto(cfg, absInc, visited); err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, inc, err)
		}
	}
	return nil
}

// verifyAllConfigHashes checks each file against the .checksums manifest in
// its directory. Directories without a manifest are not verified.
func verifyAllConfigHashes(paths []string) error {
	dirToFiles := make(map[string][]string)
	for _, path := range paths {
		dir := filepath.Dir(path)
		dirToFiles[dir] = append(dirToFiles[dir], path)
	}

	for dir, files := range dirToFiles {
		checksums, err := LoadChecksums(dir)
		if err != nil {
			continue
		}
		for _, path := range files {
			basename := filepath.Base(path)
			expectedHash, ok := checksums.Hashes[basename]
			if !ok {
				return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
					"Run: hostsmaster config lock --config %s", basename, dir, dir)
			}
			if err := checkFile(path, expectedHash); err != nil {
				return fmt.Errorf("config verification failed for %s: %w\n"+
					"If you edited this file intentionally, run: hostsmaster config lock --config %s", path, err, dir)
			}
		}
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and rejected by validation where they
// matter.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func unresolvedEnv(field, value string) error {
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	if strings.Contains(value, "${") {
		return fmt.Errorf("%s: unresolved environment variable", field)
	}
	return nil
}

// Package config loads the tool's YAML configuration and resolves where the
// graph lives on disk.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// BackendSQLite selects the relational engine.
	BackendSQLite = "sqlite"
	// BackendMemory selects the in-memory graph engine with snapshot persistence.
	BackendMemory = "memory"
)

// Config selects a storage engine and where its data file lives.
type Config struct {
	Backend string `yaml:"backend"` // "sqlite" or "memory"
	Path    string `yaml:"path"`    // database or snapshot file; empty = discover
}

// DefaultConfig returns the sqlite engine with path discovery left to Resolve.
func DefaultConfig() Config {
	return Config{Backend: BackendSQLite}
}

// Load reads a YAML config file using strict parsing. An empty path returns
// the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("YAML syntax error in config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects unknown backend names.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendSQLite, BackendMemory:
		return nil
	default:
		return fmt.Errorf("unknown backend %q (want %q or %q)", c.Backend, BackendSQLite, BackendMemory)
	}
}

// dataFileName is the per-directory database file Resolve walks up looking for.
const dataFileName = ".toolgraph.db"

// ResolvePath finds the data file using priority: env > explicit > walk-up >
// XDG fallback. Unlike discovery for reads, createIfMissing permits a path
// that does not exist yet (init creates it).
func (c Config) ResolvePath(flagPath string, createIfMissing bool) (string, error) {
	// 1. Environment variable
	if envPath := os.Getenv("TOOLGRAPH_DB"); envPath != "" {
		if createIfMissing {
			return envPath, nil
		}
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}

	// 2. CLI flag, then config file
	for _, explicit := range []string{flagPath, c.Path} {
		if explicit == "" {
			continue
		}
		if createIfMissing {
			return explicit, nil
		}
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("database not found at %s", explicit)
	}

	// 3. Walk up from CWD
	cwd, err := os.Getwd()
	if err == nil {
		dir := cwd
		for {
			candidate := filepath.Join(dir, dataFileName)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	// 4. XDG fallback
	home, err := os.UserHomeDir()
	if err == nil {
		xdgPath := filepath.Join(home, ".local", "share", "toolgraph", "toolgraph.db")
		if _, statErr := os.Stat(xdgPath); statErr == nil {
			return xdgPath, nil
		}
	}
	if createIfMissing && cwd != "" {
		return filepath.Join(cwd, dataFileName), nil
	}

	return "", fmt.Errorf("no %s found (set TOOLGRAPH_DB, use --db, or run from a directory containing %s)", dataFileName, dataFileName)
}

// DiscoverConfigFile finds the YAML config: env > walk-up. Empty result means
// "use defaults", which is not an error.
func DiscoverConfigFile() string {
	if envPath := os.Getenv("TOOLGRAPH_CONFIG"); envPath != "" {
		return envPath
	}
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".toolgraph.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

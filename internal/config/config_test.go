package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// chdir is t.Chdir for Go toolchains older than 1.24: it changes the
// working directory and restores the old one when the test ends.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir %s: %v", dir, err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatalf("restore chdir %s: %v", old, err)
		}
	})
}

// isolate clears the env overrides and moves into a fresh directory so
// discovery never escapes the test sandbox.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TOOLGRAPH_DB", "")
	t.Setenv("TOOLGRAPH_CONFIG", "")
	t.Setenv("HOME", dir)
	chdir(t, dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != BackendSQLite {
		t.Errorf("backend = %q, want %q", cfg.Backend, BackendSQLite)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".toolgraph.yaml")
	writeFile(t, path, "backend: memory\npath: /data/graph.json\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != BackendMemory || cfg.Path != "/data/graph.json" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".toolgraph.yaml")
	writeFile(t, path, "backend: sqlite\nbakend: oops\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown key")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".toolgraph.yaml")
	writeFile(t, path, "backend: postgres\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "unknown backend") {
		t.Fatalf("got %v, want unknown backend error", err)
	}
}

func TestResolvePathEnvWins(t *testing.T) {
	dir := isolate(t)
	dbPath := filepath.Join(dir, "env.db")
	writeFile(t, dbPath, "")
	t.Setenv("TOOLGRAPH_DB", dbPath)

	cfg := Config{Backend: BackendSQLite, Path: filepath.Join(dir, "other.db")}
	got, err := cfg.ResolvePath(filepath.Join(dir, "flag.db"), false)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != dbPath {
		t.Errorf("resolved %q, want env path %q", got, dbPath)
	}
}

func TestResolvePathEnvCreateIfMissing(t *testing.T) {
	dir := isolate(t)
	dbPath := filepath.Join(dir, "new.db")
	t.Setenv("TOOLGRAPH_DB", dbPath)

	got, err := DefaultConfig().ResolvePath("", true)
	if err != nil || got != dbPath {
		t.Errorf("resolved %q, %v; want %q for createIfMissing", got, err, dbPath)
	}
}

func TestResolvePathExplicit(t *testing.T) {
	dir := isolate(t)
	dbPath := filepath.Join(dir, "flag.db")
	writeFile(t, dbPath, "")

	got, err := DefaultConfig().ResolvePath(dbPath, false)
	if err != nil || got != dbPath {
		t.Errorf("resolved %q, %v; want %q", got, err, dbPath)
	}

	// An explicit path that does not exist is an error, not a fallthrough.
	missing := filepath.Join(dir, "missing.db")
	if _, err := DefaultConfig().ResolvePath(missing, false); err == nil {
		t.Error("expected an error for a missing explicit path")
	}
}

func TestResolvePathWalkUp(t *testing.T) {
	dir := isolate(t)
	dbPath := filepath.Join(dir, dataFileName)
	writeFile(t, dbPath, "")
	nested := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	chdir(t, nested)

	got, err := DefaultConfig().ResolvePath("", false)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if filepath.Base(got) != dataFileName {
		t.Errorf("resolved %q, want a %s found by walking up", got, dataFileName)
	}
}

func TestResolvePathCreateFallback(t *testing.T) {
	isolate(t)

	got, err := DefaultConfig().ResolvePath("", true)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	cwd, _ := os.Getwd()
	if want := filepath.Join(cwd, dataFileName); got != want {
		t.Errorf("resolved %q, want %q", got, want)
	}
}

func TestResolvePathNotFound(t *testing.T) {
	isolate(t)

	if _, err := DefaultConfig().ResolvePath("", false); err == nil {
		t.Error("expected an error when nothing is discoverable")
	}
}

func TestDiscoverConfigFile(t *testing.T) {
	dir := isolate(t)

	if got := DiscoverConfigFile(); got != "" {
		t.Errorf("discovered %q in an empty sandbox", got)
	}

	cfgPath := filepath.Join(dir, ".toolgraph.yaml")
	writeFile(t, cfgPath, "backend: sqlite\n")
	nested := filepath.Join(dir, "sub")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	chdir(t, nested)
	if got := DiscoverConfigFile(); filepath.Base(got) != ".toolgraph.yaml" {
		t.Errorf("walk-up discovered %q", got)
	}

	envPath := filepath.Join(dir, "custom.yaml")
	t.Setenv("TOOLGRAPH_CONFIG", envPath)
	if got := DiscoverConfigFile(); got != envPath {
		t.Errorf("discovered %q, want env path %q", got, envPath)
	}
}

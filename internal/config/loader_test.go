package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"

	"github.com/perchdata/godwit/pkg/adapter"
)

type stubAdapter struct {
	adapter.BaseSQLAdapter
}

func (s *stubAdapter) Connect(ctx context.Context, cfg adapter.Config) error { return nil }
func (s *stubAdapter) CreateSchema(ctx context.Context, name string) error   { return nil }
func (s *stubAdapter) RelationExists(ctx context.Context, name string) (bool, error) {
	return false, nil
}
func (s *stubAdapter) TableMetadata(ctx context.Context, name string) (*adapter.Metadata, error) {
	return nil, nil
}
func (s *stubAdapter) LoadCSV(ctx context.Context, table, path string) error { return nil }

func init() {
	// Config validation checks the registry; the real adapter packages are
	// not imported here.
	adapter.Register("duckdb", func(logger *slog.Logger) adapter.Adapter { return &stubAdapter{} })
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "godwit.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "target:\n  type: duckdb\n")

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ProjectRoot != dir {
		t.Errorf("project root = %q, want %q", cfg.ProjectRoot, dir)
	}
	if cfg.ModelsDir != filepath.Join(dir, "models") {
		t.Errorf("models dir = %q", cfg.ModelsDir)
	}
	if cfg.StatePath != filepath.Join(dir, ".godwit/state.db") {
		t.Errorf("state path = %q", cfg.StatePath)
	}
	if cfg.Environment != "dev" || cfg.OutputFormat != "table" {
		t.Errorf("unexpected defaults: env=%q output=%q", cfg.Environment, cfg.OutputFormat)
	}
	if cfg.SeedSchema != "raw" {
		t.Errorf("seed schema = %q", cfg.SeedSchema)
	}
	if cfg.KeepRuns != DefaultKeepRuns {
		t.Errorf("keep_runs = %d", cfg.KeepRuns)
	}
}

func TestLoad_FileValues(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
models_dir: transforms
environment: prod
sources:
  - raw.observations
  - raw.species
target:
  type: duckdb
  path: warehouse.db
`)

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ModelsDir != filepath.Join(dir, "transforms") {
		t.Errorf("models dir = %q", cfg.ModelsDir)
	}
	if cfg.Environment != "prod" {
		t.Errorf("environment = %q", cfg.Environment)
	}
	if len(cfg.Sources) != 2 || cfg.Sources[0] != "raw.observations" {
		t.Errorf("sources = %v", cfg.Sources)
	}
	if cfg.Target.Path != filepath.Join(dir, "warehouse.db") {
		t.Errorf("target path = %q", cfg.Target.Path)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "environment: prod\ntarget:\n  type: duckdb\n")

	t.Setenv("GODWIT_ENVIRONMENT", "staging")

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Environment != "staging" {
		t.Errorf("environment = %q, want staging", cfg.Environment)
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "target:\n  type: duckdb\n")

	t.Setenv("GODWIT_ENVIRONMENT", "staging")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("environment", "dev", "")
	flags.String("models-dir", "", "")
	flags.String("seeds-dir", "", "")
	flags.String("state", "", "")
	flags.String("database", "", "")
	if err := flags.Parse([]string{"--environment", "ci", "--database", ":memory:"}); err != nil {
		t.Fatalf("flag parse failed: %v", err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Environment != "ci" {
		t.Errorf("environment = %q, want ci", cfg.Environment)
	}
	if cfg.Target.Path != ":memory:" {
		t.Errorf("target path = %q, want :memory:", cfg.Target.Path)
	}
}

func TestLoad_UpwardSearch(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "environment: found\ntarget:\n  type: duckdb\n")
	nested := filepath.Join(root, "models", "staging")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd failed: %v", err)
	}
	if err := os.Chdir(nested); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Environment != "found" {
		t.Errorf("environment = %q; upward search did not find config", cfg.Environment)
	}
}

func TestLoad_UnknownAdapter(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "target:\n  type: snowflake\n")

	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected error for unregistered adapter type")
	}
}

func TestLoad_InvalidOutput(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "output: csv\ntarget:\n  type: duckdb\n")

	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected error for invalid output format")
	}
}

func TestValidateDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{ModelsDir: filepath.Join(dir, "missing")}
	if err := cfg.ValidateDirectories(); err == nil {
		t.Fatal("expected error for missing models directory")
	}

	if err := os.MkdirAll(cfg.ModelsDir, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := cfg.ValidateDirectories(); err != nil {
		t.Errorf("ValidateDirectories failed: %v", err)
	}
}

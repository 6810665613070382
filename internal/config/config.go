// Package config loads project configuration from godwit.yaml, environment
// variables, and CLI flags, with flags taking the highest precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/perchdata/godwit/pkg/adapter"
)

// Default configuration values.
const (
	DefaultModelsDir  = "models"
	DefaultSeedsDir   = "seeds"
	DefaultSeedSchema = "raw"
	DefaultStateFile  = ".godwit/state.db"
	DefaultEnv        = "dev"
	DefaultOutput     = "table"
	DefaultKeepRuns   = 50
)

// Config holds all engine and CLI configuration.
type Config struct {
	ModelsDir    string         `koanf:"models_dir"`
	SeedsDir     string         `koanf:"seeds_dir"`
	SeedSchema   string         `koanf:"seed_schema"`
	StatePath    string         `koanf:"state_path"`
	Environment  string         `koanf:"environment"`
	Verbose      bool           `koanf:"verbose"`
	OutputFormat string         `koanf:"output"` // table or json
	Target       adapter.Config `koanf:"target"`
	// Sources declares external relations models may reference without the
	// engine owning them, e.g. tables loaded by an upstream pipeline.
	Sources []string `koanf:"sources"`
	// KeepRuns bounds retained run history.
	KeepRuns int `koanf:"keep_runs"`

	// ProjectRoot is derived, not declared.
	ProjectRoot string `koanf:"-"`
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if c.ModelsDir == "" {
		return fmt.Errorf("models_dir is required")
	}
	if c.Target.Type == "" {
		return fmt.Errorf("target.type is required")
	}
	if !adapter.IsRegistered(c.Target.Type) {
		return &adapter.UnknownAdapterError{Type: c.Target.Type, Available: adapter.List()}
	}
	switch c.OutputFormat {
	case "table", "json":
	default:
		return fmt.Errorf("output must be table or json, got %q", c.OutputFormat)
	}
	return nil
}

// ValidateDirectories checks that directories a run needs actually exist.
// Separate from Validate so help and version commands work anywhere.
func (c *Config) ValidateDirectories() error {
	if _, err := os.Stat(c.ModelsDir); os.IsNotExist(err) {
		return fmt.Errorf("models directory does not exist: %s (create it or pass --models-dir)", c.ModelsDir)
	}
	return nil
}

// resolvePathRelativeTo resolves path against baseDir unless it is empty,
// absolute, or a special value like ":memory:".
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

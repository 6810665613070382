package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// maxUpwardSearchLevels limits how far up the tree the project root search
// goes.
const maxUpwardSearchLevels = 10

var configFileNames = []string{"godwit.yaml", "godwit.yml"}

// configFileIn returns the config file path in dir, or empty.
func configFileIn(dir string) string {
	for _, name := range configFileNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// findProjectRoot searches upward from startDir for a godwit config file.
// Returns startDir when none is found.
func findProjectRoot(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if configFileIn(dir) != "" {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return startDir
}

// Load builds the effective configuration.
// Precedence, highest first: flags > GODWIT_ env vars > config file > defaults.
// Relative paths from the config file resolve against the project root;
// relative paths given as flags resolve against the working directory.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	var projectRoot string
	switch {
	case cfgFile != "":
		abs, err := filepath.Abs(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path: %w", err)
		}
		cfgFile = abs
		projectRoot = filepath.Dir(abs)
	default:
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		projectRoot = findProjectRoot(cwd)
		cfgFile = configFileIn(projectRoot)
	}

	// Flag paths are relative to where the user ran the command, so pin
	// them before project-root resolution.
	flagPaths := map[string]string{}
	if flags != nil {
		for _, name := range []string{"models-dir", "seeds-dir", "state", "database"} {
			if !flags.Changed(name) {
				continue
			}
			v, _ := flags.GetString(name)
			if v == "" || v == ":memory:" {
				flagPaths[name] = v
				continue
			}
			if abs, err := filepath.Abs(v); err == nil {
				flagPaths[name] = abs
			}
		}
	}

	if err := k.Load(confmap.Provider(map[string]interface{}{
		"models_dir":  DefaultModelsDir,
		"seeds_dir":   DefaultSeedsDir,
		"seed_schema": DefaultSeedSchema,
		"state_path":  DefaultStateFile,
		"environment": DefaultEnv,
		"output":      DefaultOutput,
		"keep_runs":   DefaultKeepRuns,
		"verbose":     false,
		"target.type": "duckdb",
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	// GODWIT_MODELS_DIR -> models_dir, GODWIT_TARGET__PATH -> target.path.
	if err := k.Load(env.Provider("GODWIT_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "GODWIT_"))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			switch key {
			case "state":
				key = "state_path"
			case "database":
				key = "target.path"
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.ProjectRoot = projectRoot
	if v, ok := flagPaths["models-dir"]; ok {
		cfg.ModelsDir = v
	} else {
		cfg.ModelsDir = resolvePathRelativeTo(cfg.ModelsDir, projectRoot)
	}
	if v, ok := flagPaths["seeds-dir"]; ok {
		cfg.SeedsDir = v
	} else {
		cfg.SeedsDir = resolvePathRelativeTo(cfg.SeedsDir, projectRoot)
	}
	if v, ok := flagPaths["state"]; ok {
		cfg.StatePath = v
	} else {
		cfg.StatePath = resolvePathRelativeTo(cfg.StatePath, projectRoot)
	}
	if v, ok := flagPaths["database"]; ok {
		cfg.Target.Path = v
	} else {
		cfg.Target.Path = resolvePathRelativeTo(cfg.Target.Path, projectRoot)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

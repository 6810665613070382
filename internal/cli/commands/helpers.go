// Package commands implements the godwit subcommands.
package commands

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/perchdata/godwit/internal/cli/output"
	"github.com/perchdata/godwit/internal/config"
	"github.com/perchdata/godwit/internal/engine"
)

// ErrRunFailed signals a completed run with model or check failures. The
// report has already been rendered; the caller only needs the non-zero
// exit code.
var ErrRunFailed = errors.New("run finished with failures")

// loadConfig builds the effective configuration from the root flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgFile, _ := cmd.Root().PersistentFlags().GetString("config")
	return config.Load(cfgFile, cmd.Root().PersistentFlags())
}

// newLogger returns a debug text logger on stderr when verbose, otherwise
// a discard logger.
func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.Verbose {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.DiscardHandler)
}

// setup loads config, validates the project layout, and builds the engine
// and renderer for a command.
func setup(cmd *cobra.Command) (*engine.Engine, *config.Config, *output.Renderer, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.ValidateDirectories(); err != nil {
		return nil, nil, nil, err
	}

	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat))

	eng, err := engine.New(cfg, newLogger(cfg))
	if err != nil {
		return nil, nil, nil, err
	}
	return eng, cfg, r, nil
}

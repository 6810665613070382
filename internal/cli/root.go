// Package cli wires the godwit command tree.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/perchdata/godwit/internal/cli/commands"

	_ "github.com/perchdata/godwit/pkg/adapters/duckdb" // register adapter
)

// Version information, set at build time via -ldflags.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "godwit",
		Short: "godwit - incremental SQL model transformation engine",
		Long: `godwit materializes a DAG of SQL models against an embedded analytical
store. Models declare their name, kind, and checks in a header block;
dependencies come from ref() calls in the SQL. Runs are incremental: only
models whose definition or upstream changed are rebuilt.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	rootCmd.PersistentFlags().String("config", "", "Config file (default: godwit.yaml, searched upward)")
	rootCmd.PersistentFlags().String("models-dir", "", "Path to the models directory")
	rootCmd.PersistentFlags().String("seeds-dir", "", "Path to the seeds directory")
	rootCmd.PersistentFlags().String("database", "", "Warehouse path (:memory: for in-memory)")
	rootCmd.PersistentFlags().String("state", "", "Path to the state database")
	rootCmd.PersistentFlags().String("environment", "", "Environment name recorded with each run")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Debug logging to stderr")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output format (table|json)")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"table", "json"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewPlanCommand())
	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewTestCommand())
	rootCmd.AddCommand(commands.NewSeedCommand())
	rootCmd.AddCommand(commands.NewListCommand())
	rootCmd.AddCommand(commands.NewDagCommand())
	rootCmd.AddCommand(commands.NewRunsCommand())
	rootCmd.AddCommand(commands.NewVersionCommand(Version, GitCommit, BuildDate))

	return rootCmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		// Failure reports are already rendered; other errors still need
		// printing.
		if !errors.Is(err, commands.ErrRunFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

package commands

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/perchdata/godwit/internal/cli/output"
	"github.com/perchdata/godwit/internal/state"
)

// runStore is the slice of the state store the detail view needs.
type runStore interface {
	GetRun(id string) (*state.Run, error)
	ListModelRuns(runID string) ([]*state.ModelRun, error)
}

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent run history",
		Long: `List recent runs from the state store, newest first, with their
status and duration. Pass a run ID to see its per-model detail.`,
		Example: `  # Last 10 runs
  godwit runs

  # Per-model detail for one run
  godwit runs 4f6b2c09-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, r, err := setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			if len(args) == 1 {
				return showRunDetail(r, eng.Store(), args[0])
			}

			runs, err := eng.Store().ListRuns(limit)
			if err != nil {
				return err
			}

			if r.JSONMode() {
				return r.JSON(runs)
			}

			rows := make([]table.Row, 0, len(runs))
			for _, run := range runs {
				duration := ""
				if run.CompletedAt != nil {
					duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
				}
				rows = append(rows, table.Row{
					run.ID, run.Environment, output.StatusCell(string(run.Status)),
					run.StartedAt.Format(time.RFC3339), duration, run.Error,
				})
			}
			r.Table("Runs", table.Row{"Run", "Env", "Status", "Started", "Duration", "Error"}, rows)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of runs to show")
	return cmd
}

// showRunDetail prints one run's per-model outcomes.
func showRunDetail(r *output.Renderer, store runStore, id string) error {
	run, err := store.GetRun(id)
	if err != nil {
		return err
	}
	modelRuns, err := store.ListModelRuns(id)
	if err != nil {
		return err
	}

	if r.JSONMode() {
		return r.JSON(map[string]any{"run": run, "models": modelRuns})
	}

	rows := make([]table.Row, 0, len(modelRuns))
	for _, mr := range modelRuns {
		rows = append(rows, table.Row{
			mr.Model, mr.Action, output.StatusCell(string(mr.Status)),
			mr.RowsAffected, mr.ExecutionMS, mr.Error,
		})
	}
	r.Table("Run "+run.ID+" ("+string(run.Status)+")",
		table.Row{"Model", "Action", "Status", "Rows", "Ms", "Error"}, rows)
	return nil
}

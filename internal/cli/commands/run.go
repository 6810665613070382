package commands

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/perchdata/godwit/internal/checks"
	"github.com/perchdata/godwit/internal/cli/output"
	"github.com/perchdata/godwit/internal/engine"
)

// runJSON is the JSON shape of a completed run.
type runJSON struct {
	RunID  string           `json:"run_id"`
	OK     bool             `json:"ok"`
	Models []modelRunJSON   `json:"models"`
	Checks []checkResultJSON `json:"checks,omitempty"`
}

type modelRunJSON struct {
	Model          string `json:"model"`
	Action         string `json:"action"`
	Status         string `json:"status"`
	UpstreamFailed bool   `json:"upstream_failed,omitempty"`
	Rows           int64  `json:"rows"`
	DurationMS     int64  `json:"duration_ms"`
	Error          string `json:"error,omitempty"`
}

type checkResultJSON struct {
	Model    string `json:"model"`
	Check    string `json:"check"`
	Status   string `json:"status"`
	Failures int64  `json:"failures"`
	Error    string `json:"error,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	var (
		selects     []string
		downstream  bool
		fullRefresh bool
		skipChecks  bool
		skipSeeds   bool
		watch       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Plan and apply models, then run their checks",
		Long: `Execute a full cycle: load seeds, diff against recorded state, apply
changed models in dependency order, and run declared data checks.

A model failure skips its downstream dependents but independent models
still run. Any failure yields a non-zero exit code.`,
		Example: `  # Run everything
  godwit run

  # Rebuild from scratch
  godwit run --full-refresh

  # Run one model and its dependents
  godwit run --select staging.stg_observations --downstream

  # Re-run automatically on model file changes
  godwit run --watch`,
		Aliases: []string{"build"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, _, r, err := setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			if !skipSeeds {
				if _, err := eng.LoadSeeds(cmd.Context()); err != nil {
					return fmt.Errorf("failed to load seeds: %w", err)
				}
			}

			opts := engine.RunOptions{
				Select:      selects,
				Downstream:  downstream,
				FullRefresh: fullRefresh,
				SkipChecks:  skipChecks,
			}

			if watch {
				r.Printf("Watching for model changes. Ctrl-C to stop.\n")
				return eng.Watch(cmd.Context(), opts, func(result *engine.RunResult, err error) {
					if err != nil {
						r.Errorf("run error: %v\n", err)
						return
					}
					renderRun(r, result)
				})
			}

			start := time.Now()
			result, err := eng.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if err := renderRun(r, result); err != nil {
				return err
			}
			r.Printf("Finished in %s\n", time.Since(start).Round(time.Millisecond))

			if !result.OK() {
				return ErrRunFailed
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&selects, "select", "s", nil, "Restrict to the named models")
	cmd.Flags().BoolVar(&downstream, "downstream", false, "Extend --select to downstream dependents")
	cmd.Flags().BoolVar(&fullRefresh, "full-refresh", false, "Rebuild every model, incrementals included")
	cmd.Flags().BoolVar(&skipChecks, "skip-checks", false, "Skip the data check phase")
	cmd.Flags().BoolVar(&skipSeeds, "skip-seeds", false, "Do not reload seed CSVs first")
	cmd.Flags().BoolVar(&watch, "watch", false, "Re-run when model files change")
	return cmd
}

// renderRun prints one run's report and check results.
func renderRun(r *output.Renderer, result *engine.RunResult) error {
	if r.JSONMode() {
		out := runJSON{RunID: result.RunID, OK: result.OK()}
		for _, res := range result.Report.Results {
			mr := modelRunJSON{
				Model:          res.Model.Name,
				Action:         string(res.Action),
				Status:         string(res.Status),
				UpstreamFailed: res.UpstreamFailed,
				Rows:           res.Rows,
				DurationMS:     res.Duration.Milliseconds(),
			}
			if res.Err != nil {
				mr.Error = res.Err.Error()
			}
			out.Models = append(out.Models, mr)
		}
		for _, c := range result.Checks {
			cr := checkResultJSON{Model: c.Model, Check: c.Check, Status: string(c.Status), Failures: c.Failures}
			if c.Err != nil {
				cr.Error = c.Err.Error()
			}
			out.Checks = append(out.Checks, cr)
		}
		return r.JSON(out)
	}

	rows := make([]table.Row, 0, len(result.Report.Results))
	for _, res := range result.Report.Results {
		status := string(res.Status)
		if res.UpstreamFailed {
			status = "skipped_upstream"
		}
		detail := ""
		if res.Err != nil {
			detail = res.Err.Error()
		}
		rows = append(rows, table.Row{
			res.Model.Name, res.Action, output.StatusCell(status), res.Rows,
			res.Duration.Round(time.Millisecond), detail,
		})
	}
	r.Table(fmt.Sprintf("Run %s", result.RunID),
		table.Row{"Model", "Action", "Status", "Rows", "Time", "Detail"}, rows)

	created, replaced, skipped, failed := result.Report.Counts()
	r.Printf("Models: %d created, %d replaced, %d skipped, %d failed\n",
		created, replaced, skipped, failed)

	if len(result.Checks) > 0 {
		renderChecks(r, result.Checks)
	}
	return nil
}

// renderChecks prints check results and their tally.
func renderChecks(r *output.Renderer, results []checks.Result) {
	rows := make([]table.Row, 0, len(results))
	for _, c := range results {
		detail := ""
		if c.Err != nil {
			detail = c.Err.Error()
		} else if c.Status == checks.StatusFail {
			detail = fmt.Sprintf("%d violating row(s)", c.Failures)
		}
		rows = append(rows, table.Row{c.Model, c.Check, output.StatusCell(string(c.Status)), detail})
	}
	r.Table("Checks", table.Row{"Model", "Check", "Status", "Detail"}, rows)

	passed, failed, errored := checks.Counts(results)
	r.Printf("Checks: %d passed, %d failed, %d errored\n", passed, failed, errored)
}

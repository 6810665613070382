package commands

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/perchdata/godwit/internal/cli/output"
	"github.com/perchdata/godwit/internal/engine"
)

// planJSON is the JSON shape of one plan step.
type planJSON struct {
	Model       string `json:"model"`
	Kind        string `json:"kind"`
	Action      string `json:"action"`
	Reason      string `json:"reason"`
	Fingerprint string `json:"fingerprint"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand() *cobra.Command {
	var (
		selects     []string
		downstream  bool
		fullRefresh bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a run would do without executing it",
		Long: `Diff the project against recorded state and print the resulting plan.

Each model is marked create, replace, or skip. A change to a model forces
at least replace on everything downstream of it. Nothing is executed.`,
		Example: `  # Plan the whole project
  godwit plan

  # Plan a rebuild of everything
  godwit plan --full-refresh

  # Plan only one model and its dependents
  godwit plan --select staging.stg_observations --downstream`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, _, r, err := setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			p, _, err := eng.Plan(cmd.Context(), engine.RunOptions{
				Select:      selects,
				Downstream:  downstream,
				FullRefresh: fullRefresh,
			})
			if err != nil {
				return err
			}

			if r.JSONMode() {
				out := make([]planJSON, 0, len(p.Steps))
				for _, s := range p.Steps {
					out = append(out, planJSON{
						Model:       s.Model.Name,
						Kind:        string(s.Model.Kind),
						Action:      string(s.Action),
						Reason:      s.Reason,
						Fingerprint: s.Fingerprint,
					})
				}
				return r.JSON(out)
			}

			rows := make([]table.Row, 0, len(p.Steps))
			for _, s := range p.Steps {
				rows = append(rows, table.Row{
					s.Model.Name, s.Model.Kind, output.StatusCell(string(s.Action)), s.Reason,
				})
			}
			r.Table("Plan", table.Row{"Model", "Kind", "Action", "Reason"}, rows)

			create, replace, skip := p.Counts()
			r.Printf("%d to create, %d to replace, %d up to date\n", create, replace, skip)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&selects, "select", "s", nil, "Restrict to the named models")
	cmd.Flags().BoolVar(&downstream, "downstream", false, "Extend --select to downstream dependents")
	cmd.Flags().BoolVar(&fullRefresh, "full-refresh", false, "Plan a rebuild of every model")
	return cmd
}

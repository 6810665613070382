package commands

import (
	"github.com/spf13/cobra"

	"github.com/perchdata/godwit/internal/checks"
)

// NewTestCommand creates the test command.
func NewTestCommand() *cobra.Command {
	var selects []string

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run declared data checks without applying anything",
		Long: `Execute every declared assertion against the already materialized
relations. Checks run to completion regardless of individual failures;
any failed or errored check yields a non-zero exit code.`,
		Example: `  # Test everything
  godwit test

  # Test one model's assertions
  godwit test --select marts.daily_counts`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, _, r, err := setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			results, err := eng.Test(cmd.Context(), selects)
			if err != nil {
				return err
			}

			if r.JSONMode() {
				out := make([]checkResultJSON, 0, len(results))
				for _, c := range results {
					cr := checkResultJSON{Model: c.Model, Check: c.Check, Status: string(c.Status), Failures: c.Failures}
					if c.Err != nil {
						cr.Error = c.Err.Error()
					}
					out = append(out, cr)
				}
				if err := r.JSON(out); err != nil {
					return err
				}
			} else {
				renderChecks(r, results)
			}

			if !checks.OK(results) {
				return ErrRunFailed
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&selects, "select", "s", nil, "Restrict to the named models")
	return cmd
}

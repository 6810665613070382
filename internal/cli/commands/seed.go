package commands

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// NewSeedCommand creates the seed command.
func NewSeedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load seed CSVs into the warehouse",
		Long: `Load every CSV file from the seeds directory into the seed schema,
replacing prior contents. Seeds are reference or fixture data that models
read as external sources.`,
		Example: `  # Load all seeds
  godwit seed

  # Load seeds from another directory
  godwit seed --seeds-dir ./fixtures`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, _, r, err := setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			results, err := eng.LoadSeeds(cmd.Context())
			if err != nil {
				return err
			}

			if r.JSONMode() {
				type seedJSON struct {
					Table string `json:"table"`
					Path  string `json:"path"`
					Rows  int64  `json:"rows"`
				}
				out := make([]seedJSON, 0, len(results))
				for _, s := range results {
					out = append(out, seedJSON{Table: s.Table, Path: s.Path, Rows: s.Rows})
				}
				return r.JSON(out)
			}

			rows := make([]table.Row, 0, len(results))
			for _, s := range results {
				rows = append(rows, table.Row{s.Table, s.Rows, s.Path})
			}
			r.Table("Seeds", table.Row{"Table", "Rows", "File"}, rows)
			r.Printf("Loaded %d seed file(s)\n", len(results))
			return nil
		},
	}
	return cmd
}

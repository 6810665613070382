package commands

import (
	"strings"

	"github.com/spf13/cobra"
)

// NewDagCommand creates the dag command.
func NewDagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dag",
		Short: "Show the dependency graph as execution levels",
		Long: `Print the model graph grouped by execution level: models at level N
depend only on models and sources at earlier levels. Levels run in order;
models within a level are independent of each other.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, _, r, err := setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			_, g, err := eng.LoadProject()
			if err != nil {
				return err
			}

			levels, err := g.ExecutionLevels()
			if err != nil {
				return err
			}

			if r.JSONMode() {
				type levelJSON struct {
					Level  int      `json:"level"`
					Models []string `json:"models"`
				}
				out := make([]levelJSON, 0, len(levels))
				for i, names := range levels {
					out = append(out, levelJSON{Level: i, Models: names})
				}
				return r.JSON(out)
			}

			for i, names := range levels {
				if len(names) == 0 {
					continue
				}
				r.Printf("Level %d:\n", i)
				for _, name := range names {
					parents := g.Parents(name)
					if len(parents) == 0 {
						r.Printf("  %s\n", name)
					} else {
						r.Printf("  %s  <- %s\n", name, strings.Join(parents, ", "))
					}
				}
			}
			return nil
		},
	}
	return cmd
}

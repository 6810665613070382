package commands

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/perchdata/godwit/internal/checks"
	"github.com/perchdata/godwit/internal/cli/output"
	"github.com/perchdata/godwit/internal/parser"
)

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered models",
		Long: `Parse the project and list every model in dependency order with its
kind, dependencies, declared check count, and last recorded run status.`,
		Aliases: []string{"ls"},
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
			order, err := g.TopologicalSort()
			if err != nil {
				return err
			}

			lastStatus := func(m *parser.Model) string {
				mr, err := eng.Store().LatestModelRun(m.Name)
				if err != nil || mr == nil {
					return ""
				}
				return string(mr.Status)
			}

			if r.JSONMode() {
				type modelJSON struct {
					Name        string   `json:"name"`
					Kind        string   `json:"kind"`
					Description string   `json:"description,omitempty"`
					DependsOn   []string `json:"depends_on,omitempty"`
					Checks      int      `json:"checks"`
					LastRun     string   `json:"last_run,omitempty"`
					Path        string   `json:"path"`
				}
				out := make([]modelJSON, 0, len(order))
				for _, node := range order {
					m := node.Model
					out = append(out, modelJSON{
						Name:        m.Name,
						Kind:        string(m.Kind),
						Description: m.Description,
						DependsOn:   g.Parents(m.Name),
						Checks:      len(checks.Expand(m)),
						LastRun:     lastStatus(m),
						Path:        m.FilePath,
					})
				}
				return r.JSON(out)
			}

			rows := make([]table.Row, 0, len(order))
			for _, node := range order {
				m := node.Model
				status := lastStatus(m)
				var cell any = "-"
				if status != "" {
					cell = output.StatusCell(status)
				}
				rows = append(rows, table.Row{
					m.Name, m.Kind, len(g.Parents(m.Name)), len(checks.Expand(m)), cell, m.FilePath,
				})
			}
			r.Table("Models", table.Row{"Model", "Kind", "Deps", "Checks", "Last run", "File"}, rows)
			r.Printf("%d model(s)\n", len(order))
			return nil
		},
	}
	return cmd
}

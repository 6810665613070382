package plan

import (
	"github.com/perchdata/godwit/internal/dag"
	"github.com/perchdata/godwit/internal/parser"
	"github.com/perchdata/godwit/internal/state"
)

// Action is what the applier should do with a model.
type Action string

const (
	// ActionCreate builds a model that has no recorded state.
	ActionCreate Action = "create"
	// ActionReplace rebuilds a model whose fingerprint diverged from state.
	ActionReplace Action = "replace"
	// ActionSkip leaves an up-to-date model untouched.
	ActionSkip Action = "skip"
)

// Step is one planned operation. Steps are ordered so every model's
// dependencies come before it.
type Step struct {
	Model       *parser.Model
	Action      Action
	Reason      string
	Fingerprint string
}

// Plan is the full ordered set of steps for a run, plus the fingerprints
// computed for every model in the graph.
type Plan struct {
	Steps        []Step
	Fingerprints map[string]string
}

// Options controls planning behavior.
type Options struct {
	// FullRefresh rebuilds every model regardless of recorded state.
	FullRefresh bool
}

// Build diffs the graph against the last applied snapshot and produces an
// execution plan. The step order is the graph's deterministic topological
// order, so two plans over the same project and state are identical.
func Build(g *dag.Graph, snapshot state.Snapshot, opts Options) (*Plan, error) {
	fps, err := Fingerprints(g)
	if err != nil {
		return nil, err
	}
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	changed := make(map[string]bool)
	steps := make([]Step, 0, len(order))
	for _, node := range order {
		m := node.Model
		fp := fps[node.Name]
		prev, known := snapshot[node.Name]

		var action Action
		var reason string
		switch {
		case opts.FullRefresh && known:
			action, reason = ActionReplace, "full refresh"
		case !known:
			action, reason = ActionCreate, "not in state"
		case prev.Fingerprint != fp:
			action, reason = ActionReplace, "definition changed"
			if upstreamChanged(g, changed, node.Name) {
				reason = "upstream changed"
			}
		default:
			action, reason = ActionSkip, "up to date"
		}

		if action != ActionSkip {
			changed[node.Name] = true
		}
		steps = append(steps, Step{Model: m, Action: action, Reason: reason, Fingerprint: fp})
	}

	return &Plan{Steps: steps, Fingerprints: fps}, nil
}

// upstreamChanged reports whether any direct dependency of name is already
// planned for rebuild. Steps are visited in topological order, so every
// parent has been decided by the time its children are.
func upstreamChanged(g *dag.Graph, changed map[string]bool, name string) bool {
	for _, parent := range g.Parents(name) {
		if changed[parent] {
			return true
		}
	}
	return false
}

// HasWork reports whether any step creates or replaces a model.
func (p *Plan) HasWork() bool {
	for _, s := range p.Steps {
		if s.Action != ActionSkip {
			return true
		}
	}
	return false
}

// Counts returns the number of steps per action.
func (p *Plan) Counts() (create, replace, skip int) {
	for _, s := range p.Steps {
		switch s.Action {
		case ActionCreate:
			create++
		case ActionReplace:
			replace++
		case ActionSkip:
			skip++
		}
	}
	return
}

// ModelNames returns the planned model names in step order.
func (p *Plan) ModelNames() []string {
	names := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		names[i] = s.Model.Name
	}
	return names
}

// Package apply executes a plan against the warehouse: it materializes each
// planned model in dependency order, persists fingerprints as it goes, and
// isolates failures to the failed model and its downstream dependents.
package apply

import (
	"context"
	"log/slog"
	"time"

	"github.com/perchdata/godwit/internal/dag"
	"github.com/perchdata/godwit/internal/parser"
	"github.com/perchdata/godwit/internal/plan"
	"github.com/perchdata/godwit/internal/state"
	"github.com/perchdata/godwit/pkg/adapter"
)

// Status is the outcome of one model within a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	// StatusSkipped covers both up-to-date models and models skipped
	// because an upstream dependency failed; see Result.UpstreamFailed.
	StatusSkipped Status = "skipped"
)

// Result is the outcome of one plan step.
type Result struct {
	Model          *parser.Model
	Action         plan.Action
	Status         Status
	UpstreamFailed bool
	Rows           int64
	Duration       time.Duration
	Err            error
}

// Report aggregates a run's per-model results in execution order.
type Report struct {
	RunID   string
	Results []Result
}

// OK reports whether no model failed or was skipped for a failed upstream.
func (r *Report) OK() bool {
	for _, res := range r.Results {
		if res.Status == StatusFailed || res.UpstreamFailed {
			return false
		}
	}
	return true
}

// Counts returns the number of results per outcome.
func (r *Report) Counts() (created, replaced, skipped, failed int) {
	for _, res := range r.Results {
		switch {
		case res.Status == StatusFailed:
			failed++
		case res.Status == StatusSkipped:
			skipped++
		case res.Action == plan.ActionCreate:
			created++
		case res.Action == plan.ActionReplace:
			replaced++
		}
	}
	return
}

// Applied returns the names of models successfully created or replaced.
func (r *Report) Applied() []string {
	var out []string
	for _, res := range r.Results {
		if res.Status == StatusSuccess && res.Action != plan.ActionSkip {
			out = append(out, res.Model.Name)
		}
	}
	return out
}

// Testable returns the names of models that finished the run materialized
// and current: everything except failures and their tainted downstream.
func (r *Report) Testable() []string {
	var out []string
	for _, res := range r.Results {
		if res.Status == StatusFailed || res.UpstreamFailed {
			continue
		}
		out = append(out, res.Model.Name)
	}
	return out
}

// Options controls apply behavior.
type Options struct {
	// FullRefresh forces incremental models through a full rebuild.
	FullRefresh bool
}

// Applier executes plans.
type Applier struct {
	adapter adapter.Adapter
	store   state.Store
	logger  *slog.Logger
}

// New creates an applier. A nil logger discards output.
func New(ad adapter.Adapter, store state.Store, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Applier{adapter: ad, store: store, logger: logger}
}

// Apply processes plan steps strictly in order. A failed model taints its
// entire downstream closure: tainted models are not attempted and their
// fingerprints stay untouched, while independent models still run. Each
// successful materialization persists its fingerprint immediately, so a
// crash mid-run leaves recorded state matching exactly what was applied.
// Cancellation is checked between steps: a cancelled context stops the run
// before the next model starts, leaving the remaining steps unattempted.
func (a *Applier) Apply(ctx context.Context, g *dag.Graph, p *plan.Plan, runID string, opts Options) (*Report, error) {
	report := &Report{RunID: runID}
	tainted := make(map[string]bool)

	for i, step := range p.Steps {
		if err := ctx.Err(); err != nil {
			a.logger.Warn("run cancelled, stopping apply", "remaining", len(p.Steps)-i, "error", err)
			for _, rest := range p.Steps[i:] {
				report.Results = append(report.Results, Result{
					Model:  rest.Model,
					Action: rest.Action,
					Status: StatusSkipped,
				})
			}
			return report, err
		}

		name := step.Model.Name

		if step.Action == plan.ActionSkip {
			report.Results = append(report.Results, Result{
				Model:  step.Model,
				Action: step.Action,
				Status: StatusSkipped,
			})
			continue
		}

		if tainted[name] {
			a.logger.Warn("skipping model, upstream failed", "model", name)
			res := Result{
				Model:          step.Model,
				Action:         step.Action,
				Status:         StatusSkipped,
				UpstreamFailed: true,
			}
			report.Results = append(report.Results, res)
			a.record(runID, &res)
			continue
		}

		a.logger.Info("materializing model", "model", name, "kind", step.Model.Kind, "action", step.Action)
		start := time.Now()
		rows, err := a.materialize(ctx, step.Model, opts.FullRefresh)
		res := Result{
			Model:    step.Model,
			Action:   step.Action,
			Rows:     rows,
			Duration: time.Since(start),
			Err:      err,
		}

		if err != nil {
			res.Status = StatusFailed
			a.logger.Error("model failed", "model", name, "error", err)
			for _, d := range g.Downstream([]string{name}) {
				if d != name {
					tainted[d] = true
				}
			}
		} else {
			res.Status = StatusSuccess
			if serr := a.store.SetFingerprint(name, step.Fingerprint); serr != nil {
				// The relation is built but state was not recorded; the
				// next run will plan it again, which is safe.
				a.logger.Error("failed to persist fingerprint", "model", name, "error", serr)
			}
		}

		report.Results = append(report.Results, res)
		a.record(runID, &res)
	}

	return report, nil
}

// record writes one model outcome to run history. History is advisory;
// failures to write it do not affect the run outcome.
func (a *Applier) record(runID string, res *Result) {
	if runID == "" {
		return
	}

	mr := &state.ModelRun{
		RunID:        runID,
		Model:        res.Model.Name,
		Action:       string(res.Action),
		RowsAffected: res.Rows,
		ExecutionMS:  res.Duration.Milliseconds(),
	}
	switch {
	case res.Status == StatusFailed:
		mr.Status = state.ModelRunStatusFailed
		mr.Error = res.Err.Error()
	case res.UpstreamFailed:
		mr.Status = state.ModelRunStatusSkippedUpstream
	default:
		mr.Status = state.ModelRunStatusSuccess
	}

	if err := a.store.RecordModelRun(mr); err != nil {
		a.logger.Warn("failed to record model run", "model", res.Model.Name, "error", err)
	}
}

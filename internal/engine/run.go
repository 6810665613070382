package engine

// run.go - plan/apply/check orchestration

import (
	"context"
	"fmt"

	"github.com/perchdata/godwit/internal/apply"
	"github.com/perchdata/godwit/internal/checks"
	"github.com/perchdata/godwit/internal/dag"
	"github.com/perchdata/godwit/internal/parser"
	"github.com/perchdata/godwit/internal/plan"
	"github.com/perchdata/godwit/internal/state"
)

// RunOptions controls one plan or run invocation.
type RunOptions struct {
	// Select restricts the run to the named models. Empty means all.
	Select []string
	// Downstream extends the selection to every transitive dependent.
	Downstream bool
	// FullRefresh rebuilds everything, incremental models included.
	FullRefresh bool
	// SkipChecks suppresses the data check phase after apply.
	SkipChecks bool
}

// RunResult is the outcome of one full run.
type RunResult struct {
	RunID  string
	Plan   *plan.Plan
	Report *apply.Report
	Checks []checks.Result
}

// OK reports whether every model applied and every check passed.
func (r *RunResult) OK() bool {
	return r.Report.OK() && checks.OK(r.Checks)
}

// Plan loads the project and diffs it against recorded state without
// mutating anything.
func (e *Engine) Plan(ctx context.Context, opts RunOptions) (*plan.Plan, *dag.Graph, error) {
	_, g, err := e.LoadProject()
	if err != nil {
		return nil, nil, err
	}

	snap, err := e.store.GetSnapshot()
	if err != nil {
		return nil, nil, err
	}

	p, err := plan.Build(g, snap, plan.Options{FullRefresh: opts.FullRefresh})
	if err != nil {
		return nil, nil, err
	}

	p, err = selectSteps(p, g, opts.Select, opts.Downstream)
	if err != nil {
		return nil, nil, err
	}
	return p, g, nil
}

// Run executes a full cycle: lock, plan, apply, check. It fails fast with
// state.ErrConcurrentRun when another run holds the lock.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if err := e.ensureConnected(ctx); err != nil {
		return nil, err
	}

	if err := e.store.Lock(lockHolder()); err != nil {
		return nil, err
	}
	defer func() { _ = e.store.Unlock() }()

	models, g, err := e.LoadProject()
	if err != nil {
		return nil, err
	}

	snap, err := e.store.GetSnapshot()
	if err != nil {
		return nil, err
	}
	p, err := plan.Build(g, snap, plan.Options{FullRefresh: opts.FullRefresh})
	if err != nil {
		return nil, err
	}
	p, err = selectSteps(p, g, opts.Select, opts.Downstream)
	if err != nil {
		return nil, err
	}

	run, err := e.store.CreateRun(e.cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	e.logger.Info("starting run", "run_id", run.ID, "environment", e.cfg.Environment, "models", len(p.Steps))

	applier := apply.New(e.db, e.store, e.logger)
	report, err := applier.Apply(ctx, g, p, run.ID, apply.Options{FullRefresh: opts.FullRefresh})
	if err != nil {
		_ = e.store.CompleteRun(run.ID, state.RunStatusFailed, err.Error())
		return nil, err
	}

	result := &RunResult{RunID: run.ID, Plan: p, Report: report}

	if !opts.SkipChecks {
		result.Checks, err = e.runChecks(ctx, models, report.Testable())
		if err != nil {
			_ = e.store.CompleteRun(run.ID, state.RunStatusFailed, err.Error())
			return nil, err
		}
	}

	// Renamed or deleted models lose their snapshot entries; a model never
	// inherits a fingerprint across a rename.
	current := make([]string, 0, len(models))
	for _, m := range models {
		current = append(current, m.Name)
	}
	if err := e.store.PruneSnapshot(current); err != nil {
		e.logger.Warn("failed to prune snapshot", "error", err)
	}
	if e.cfg.KeepRuns > 0 {
		if err := e.store.PruneRuns(e.cfg.KeepRuns); err != nil {
			e.logger.Warn("failed to prune run history", "error", err)
		}
	}

	if result.OK() {
		_ = e.store.CompleteRun(run.ID, state.RunStatusCompleted, "")
		e.logger.Info("run completed", "run_id", run.ID)
	} else {
		created, replaced, skipped, failed := report.Counts()
		_, cFailed, cErrored := checks.Counts(result.Checks)
		msg := fmt.Sprintf("%d model(s) failed, %d check(s) failed, %d check(s) errored",
			failed, cFailed, cErrored)
		_ = e.store.CompleteRun(run.ID, state.RunStatusFailed, msg)
		e.logger.Warn("run finished with failures", "run_id", run.ID,
			"created", created, "replaced", replaced, "skipped", skipped, "failed", failed)
	}

	return result, nil
}

// Test runs declared checks on their own, without planning or applying.
func (e *Engine) Test(ctx context.Context, selects []string) ([]checks.Result, error) {
	if err := e.ensureConnected(ctx); err != nil {
		return nil, err
	}

	models, g, err := e.LoadProject()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	if len(selects) > 0 {
		if err := validateSelection(g, selects); err != nil {
			return nil, err
		}
		names = selects
	}

	return e.runChecks(ctx, models, names)
}

// runChecks executes declared assertions for the named models.
func (e *Engine) runChecks(ctx context.Context, models []*parser.Model, names []string) ([]checks.Result, error) {
	byName := make(map[string]*parser.Model, len(models))
	for _, m := range models {
		byName[m.Name] = m
	}

	var targets []*parser.Model
	for _, name := range names {
		if m, ok := byName[name]; ok {
			targets = append(targets, m)
		}
	}

	runner := checks.NewRunner(e.db, e.logger)
	return runner.Run(ctx, targets)
}

// selectSteps narrows a plan to the selected models, optionally widened to
// their downstream closure. Unselected steps drop out entirely.
func selectSteps(p *plan.Plan, g *dag.Graph, selects []string, downstream bool) (*plan.Plan, error) {
	if len(selects) == 0 {
		return p, nil
	}
	if err := validateSelection(g, selects); err != nil {
		return nil, err
	}

	wanted := selects
	if downstream {
		wanted = g.Downstream(selects)
	}
	keep := make(map[string]bool, len(wanted))
	for _, name := range wanted {
		keep[name] = true
	}

	filtered := &plan.Plan{Fingerprints: p.Fingerprints}
	for _, s := range p.Steps {
		if keep[s.Model.Name] {
			filtered.Steps = append(filtered.Steps, s)
		}
	}
	return filtered, nil
}

func validateSelection(g *dag.Graph, selects []string) error {
	for _, name := range selects {
		node, ok := g.Node(name)
		if !ok || node.External {
			return fmt.Errorf("unknown model in selection: %s", name)
		}
	}
	return nil
}

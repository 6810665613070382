package checks

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/perchdata/godwit/internal/parser"
	"github.com/perchdata/godwit/pkg/adapter"
)

// Status is the outcome of one assertion.
type Status string

const (
	// StatusPass means zero violating rows.
	StatusPass Status = "pass"
	// StatusFail means the assertion found violating rows.
	StatusFail Status = "fail"
	// StatusError means the check itself could not run, e.g. a referenced
	// relation is missing. Distinct from a logical fail.
	StatusError Status = "error"
)

// Result is the outcome of one executed check.
type Result struct {
	Model    string
	Check    string
	Status   Status
	Failures int64
	Duration time.Duration
	Err      error
}

// Counts tallies results per status.
func Counts(results []Result) (passed, failed, errored int) {
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			passed++
		case StatusFail:
			failed++
		case StatusError:
			errored++
		}
	}
	return
}

// OK reports whether every result passed.
func OK(results []Result) bool {
	for _, r := range results {
		if r.Status != StatusPass {
			return false
		}
	}
	return true
}

const defaultConcurrency = 4

// Runner executes checks against the warehouse. Checks are independent, so
// they fan out across a bounded worker group; no failure stops the rest.
type Runner struct {
	adapter     adapter.Adapter
	logger      *slog.Logger
	Concurrency int
}

// NewRunner creates a check runner. A nil logger discards output.
func NewRunner(ad adapter.Adapter, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{adapter: ad, logger: logger, Concurrency: defaultConcurrency}
}

// Run executes every declared assertion on the given models and returns
// results in declaration order. Only a cancelled context aborts the run;
// individual check errors are captured in their Result.
func (r *Runner) Run(ctx context.Context, models []*parser.Model) ([]Result, error) {
	var all []Check
	for _, m := range models {
		all = append(all, Expand(m)...)
	}

	results := make([]Result, len(all))

	limit := r.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, check := range all {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = r.runOne(ctx, check)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func (r *Runner) runOne(ctx context.Context, check Check) Result {
	start := time.Now()
	failures, err := r.adapter.QueryValue(ctx, check.SQL)
	res := Result{
		Model:    check.Model,
		Check:    check.Name,
		Failures: failures,
		Duration: time.Since(start),
	}

	switch {
	case err != nil:
		res.Status = StatusError
		res.Err = err
		r.logger.Error("check errored", "model", check.Model, "check", check.Name, "error", err)
	case failures > 0:
		res.Status = StatusFail
		r.logger.Warn("check failed", "model", check.Model, "check", check.Name, "failures", failures)
	default:
		res.Status = StatusPass
		r.logger.Debug("check passed", "model", check.Model, "check", check.Name)
	}
	return res
}

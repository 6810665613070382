package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/perchdata/godwit/internal/apply"
	"github.com/perchdata/godwit/internal/checks"
	"github.com/perchdata/godwit/internal/config"
	"github.com/perchdata/godwit/internal/plan"
	"github.com/perchdata/godwit/internal/state"
	"github.com/perchdata/godwit/pkg/adapter"
	"github.com/perchdata/godwit/pkg/adapters/duckdb"
)

// writeFile creates path with content, making parent directories.
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

// setupProject builds a small observation project: one seed, a staging
// view, and a full-table mart with checks.
func setupProject(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "seeds", "observations.csv"),
		"observation_id,species_code,seen_on,how_many\n"+
			"1,amekes,2026-05-01,2\n"+
			"2,perfal,2026-05-01,1\n"+
			"3,amekes,2026-05-02,4\n")

	writeFile(t, filepath.Join(dir, "models", "staging", "stg_observations.sql"), `/*---
kind: view
tests:
  - not_null: [observation_id]
---*/
SELECT observation_id, species_code, seen_on, how_many
FROM raw.observations
`)

	writeFile(t, filepath.Join(dir, "models", "marts", "daily_counts.sql"), `/*---
kind: full
tests:
  - unique: [seen_on, species_code]
---*/
SELECT seen_on, species_code, SUM(how_many) AS total
FROM ref('staging.stg_observations')
GROUP BY seen_on, species_code
`)

	cfg := &config.Config{
		ModelsDir:    filepath.Join(dir, "models"),
		SeedsDir:     filepath.Join(dir, "seeds"),
		SeedSchema:   "raw",
		StatePath:    filepath.Join(dir, ".godwit", "state.db"),
		Environment:  "test",
		OutputFormat: "table",
		Target:       adapter.Config{Type: "duckdb", Path: filepath.Join(dir, "warehouse.db")},
		Sources:      []string{"raw.observations"},
		KeepRuns:     10,
		ProjectRoot:  dir,
	}
	return cfg, dir
}

// queryWarehouse opens the warehouse file directly for verification.
func queryWarehouse(t *testing.T, cfg *config.Config, sql string) int64 {
	t.Helper()
	a := duckdb.New(nil)
	if err := a.Connect(context.Background(), cfg.Target); err != nil {
		t.Fatalf("failed to open warehouse: %v", err)
	}
	defer func() { _ = a.Close() }()

	v, err := a.QueryValue(context.Background(), sql)
	if err != nil {
		t.Fatalf("verification query failed: %v", err)
	}
	return v
}

func TestEngine_FullCycle(t *testing.T) {
	cfg, _ := setupProject(t)
	ctx := context.Background()

	eng, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	seeds, err := eng.LoadSeeds(ctx)
	if err != nil {
		t.Fatalf("LoadSeeds failed: %v", err)
	}
	if len(seeds) != 1 || seeds[0].Table != "raw.observations" || seeds[0].Rows != 3 {
		t.Fatalf("unexpected seeds: %+v", seeds)
	}

	result, err := eng.Run(ctx, RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.OK() {
		t.Fatalf("run not OK: report=%+v checks=%+v", result.Report.Results, result.Checks)
	}
	created, _, _, _ := result.Report.Counts()
	if created != 2 {
		t.Errorf("created = %d, want 2", created)
	}
	passed, failed, errored := checks.Counts(result.Checks)
	if passed != 2 || failed != 0 || errored != 0 {
		t.Errorf("check counts = %d/%d/%d", passed, failed, errored)
	}

	// Immediate re-run plans all skips.
	second, err := eng.Run(ctx, RunOptions{})
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if second.Plan.HasWork() {
		t.Errorf("second run should be all-skip: %+v", second.Plan.Steps)
	}

	if err := eng.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if n := queryWarehouse(t, cfg, "SELECT COUNT(*) FROM marts.daily_counts"); n != 3 {
		t.Errorf("daily_counts rows = %d, want 3", n)
	}
	if n := queryWarehouse(t, cfg, "SELECT CAST(total AS BIGINT) FROM marts.daily_counts WHERE seen_on = DATE '2026-05-01' AND species_code = 'amekes'"); n != 2 {
		t.Errorf("aggregated total = %d, want 2", n)
	}
}

func TestEngine_EditPropagatesDownstream(t *testing.T) {
	cfg, dir := setupProject(t)
	ctx := context.Background()

	eng, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = eng.Close() }()

	if _, err := eng.LoadSeeds(ctx); err != nil {
		t.Fatalf("LoadSeeds failed: %v", err)
	}
	if _, err := eng.Run(ctx, RunOptions{}); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	// Touch only the staging model; the mart must follow.
	writeFile(t, filepath.Join(dir, "models", "staging", "stg_observations.sql"), `/*---
kind: view
---*/
SELECT observation_id, species_code, seen_on, how_many, TRUE AS verified
FROM raw.observations
`)

	result, err := eng.Run(ctx, RunOptions{})
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}

	actions := make(map[string]plan.Action)
	reasons := make(map[string]string)
	for _, s := range result.Plan.Steps {
		actions[s.Model.Name] = s.Action
		reasons[s.Model.Name] = s.Reason
	}
	if actions["staging.stg_observations"] != plan.ActionReplace {
		t.Errorf("staging action = %s", actions["staging.stg_observations"])
	}
	if actions["marts.daily_counts"] != plan.ActionReplace || reasons["marts.daily_counts"] != "upstream changed" {
		t.Errorf("mart action = %s (%s)", actions["marts.daily_counts"], reasons["marts.daily_counts"])
	}
}

func TestEngine_FailedModelSkipsDownstream(t *testing.T) {
	cfg, dir := setupProject(t)
	ctx := context.Background()

	// Break the staging model; the mart depends on it.
	writeFile(t, filepath.Join(dir, "models", "staging", "stg_observations.sql"), `/*---
kind: view
---*/
SELECT no_such_column FROM raw.observations
`)

	eng, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = eng.Close() }()

	if _, err := eng.LoadSeeds(ctx); err != nil {
		t.Fatalf("LoadSeeds failed: %v", err)
	}

	result, err := eng.Run(ctx, RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.OK() {
		t.Fatal("run should not be OK")
	}

	byName := make(map[string]apply.Result)
	for _, res := range result.Report.Results {
		byName[res.Model.Name] = res
	}
	if byName["staging.stg_observations"].Status != apply.StatusFailed {
		t.Errorf("staging status = %s", byName["staging.stg_observations"].Status)
	}
	if !byName["marts.daily_counts"].UpstreamFailed {
		t.Errorf("mart should be skipped for upstream failure: %+v", byName["marts.daily_counts"])
	}

	// Neither model may enter the snapshot.
	snap, err := eng.Store().GetSnapshot()
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if len(snap) != 0 {
		t.Errorf("snapshot should be empty after total failure, got %v", snap)
	}

	run, err := eng.Store().GetRun(result.RunID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != state.RunStatusFailed {
		t.Errorf("run status = %s, want failed", run.Status)
	}
}

func TestEngine_FailingCheckReported(t *testing.T) {
	cfg, dir := setupProject(t)
	ctx := context.Background()

	// how_many is null in one row; declare it not_null.
	writeFile(t, filepath.Join(dir, "seeds", "observations.csv"),
		"observation_id,species_code,seen_on,how_many\n1,amekes,2026-05-01,\n")
	writeFile(t, filepath.Join(dir, "models", "staging", "stg_observations.sql"), `/*---
kind: view
tests:
  - not_null: [how_many]
---*/
SELECT observation_id, species_code, seen_on, how_many
FROM raw.observations
`)

	eng, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = eng.Close() }()

	if _, err := eng.LoadSeeds(ctx); err != nil {
		t.Fatalf("LoadSeeds failed: %v", err)
	}
	result, err := eng.Run(ctx, RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.OK() {
		t.Fatal("run with failing check should not be OK")
	}
	if result.Report.OK() != true {
		t.Error("materialization itself should have succeeded")
	}

	var found bool
	for _, c := range result.Checks {
		if c.Model == "staging.stg_observations" && c.Check == "not_null(how_many)" {
			found = true
			if c.Status != checks.StatusFail || c.Failures != 1 {
				t.Errorf("check = %s/%d, want fail/1", c.Status, c.Failures)
			}
		}
	}
	if !found {
		t.Error("expected not_null(how_many) result")
	}
}

func TestEngine_IncrementalMergeAcrossRuns(t *testing.T) {
	cfg, dir := setupProject(t)
	ctx := context.Background()

	writeFile(t, filepath.Join(dir, "models", "marts", "observation_log.sql"), `/*---
kind: incremental
unique_key: observation_id
---*/
SELECT observation_id, species_code, how_many
FROM ref('staging.stg_observations')
`)

	eng, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := eng.LoadSeeds(ctx); err != nil {
		t.Fatalf("LoadSeeds failed: %v", err)
	}
	if _, err := eng.Run(ctx, RunOptions{}); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	// New seed data: one corrected row, one new row.
	writeFile(t, filepath.Join(dir, "seeds", "observations.csv"),
		"observation_id,species_code,seen_on,how_many\n"+
			"3,amekes,2026-05-02,5\n"+
			"4,merlin,2026-05-03,1\n")
	if _, err := eng.LoadSeeds(ctx); err != nil {
		t.Fatalf("seed reload failed: %v", err)
	}

	// An unchanged definition plans as skip; touch the model so the merge
	// path runs.
	writeFile(t, filepath.Join(dir, "models", "marts", "observation_log.sql"), `/*---
kind: incremental
unique_key: observation_id
---*/
SELECT observation_id, species_code, how_many
FROM ref('staging.stg_observations')
WHERE observation_id IS NOT NULL
`)

	result, err := eng.Run(ctx, RunOptions{})
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if !result.Report.OK() {
		t.Fatalf("second run failed: %+v", result.Report.Results)
	}

	if err := eng.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Rows 1 and 2 from the first load survive, row 3 is replaced, row 4
	// is new.
	if n := queryWarehouse(t, cfg, "SELECT COUNT(*) FROM marts.observation_log"); n != 4 {
		t.Errorf("observation_log rows = %d, want 4", n)
	}
	if n := queryWarehouse(t, cfg, "SELECT how_many FROM marts.observation_log WHERE observation_id = 3"); n != 5 {
		t.Errorf("merged row how_many = %d, want 5", n)
	}
}

func TestEngine_ConcurrentRunFailsFast(t *testing.T) {
	cfg, _ := setupProject(t)
	ctx := context.Background()

	eng, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = eng.Close() }()

	if err := eng.Store().Lock("another-process"); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	_, err = eng.Run(ctx, RunOptions{})
	if !errors.Is(err, state.ErrConcurrentRun) {
		t.Fatalf("expected ErrConcurrentRun, got %v", err)
	}
}

func TestEngine_SelectWithDownstream(t *testing.T) {
	cfg, _ := setupProject(t)
	ctx := context.Background()

	eng, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = eng.Close() }()

	if _, err := eng.LoadSeeds(ctx); err != nil {
		t.Fatalf("LoadSeeds failed: %v", err)
	}

	// Select only staging, no downstream: the mart is absent from the plan.
	result, err := eng.Run(ctx, RunOptions{Select: []string{"staging.stg_observations"}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Plan.Steps) != 1 {
		t.Fatalf("selected plan has %d steps, want 1", len(result.Plan.Steps))
	}

	// Widening to downstream picks up the mart.
	result, err = eng.Run(ctx, RunOptions{Select: []string{"staging.stg_observations"}, Downstream: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Plan.Steps) != 2 {
		t.Fatalf("downstream plan has %d steps, want 2", len(result.Plan.Steps))
	}

	if _, err := eng.Run(ctx, RunOptions{Select: []string{"nope.missing"}}); err == nil {
		t.Fatal("expected error for unknown selection")
	}
}

func TestEngine_Test(t *testing.T) {
	cfg, _ := setupProject(t)
	ctx := context.Background()

	eng, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = eng.Close() }()

	if _, err := eng.LoadSeeds(ctx); err != nil {
		t.Fatalf("LoadSeeds failed: %v", err)
	}
	if _, err := eng.Run(ctx, RunOptions{SkipChecks: true}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	results, err := eng.Test(ctx, nil)
	if err != nil {
		t.Fatalf("Test failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 check results, got %d", len(results))
	}
	if !checks.OK(results) {
		t.Errorf("checks should pass: %+v", results)
	}

	results, err = eng.Test(ctx, []string{"marts.daily_counts"})
	if err != nil {
		t.Fatalf("selected Test failed: %v", err)
	}
	if len(results) != 1 || results[0].Model != "marts.daily_counts" {
		t.Errorf("unexpected selected results: %+v", results)
	}
}

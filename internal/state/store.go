// Package state persists the engine's snapshot of applied model
// fingerprints plus run history, using SQLite so the state survives
// process restarts and stays inspectable with any sqlite client.
package state

import (
	"errors"
	"time"
)

// ErrConcurrentRun is returned when another run holds the state lock.
// Concurrent runs against the same state are unsupported and fail fast.
var ErrConcurrentRun = errors.New("another run holds the state lock")

// SnapshotEntry records the last successfully applied fingerprint of one
// model. Entries are written only after a model materializes successfully.
type SnapshotEntry struct {
	Name        string
	Fingerprint string
	AppliedAt   time.Time
}

// Snapshot maps model name to its last-applied entry.
type Snapshot map[string]SnapshotEntry

// RunStatus is the lifecycle status of an engine run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one recorded engine invocation.
type Run struct {
	ID          string
	Environment string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// ModelRunStatus is the per-model outcome within a run.
type ModelRunStatus string

const (
	ModelRunStatusSuccess ModelRunStatus = "success"
	ModelRunStatusFailed  ModelRunStatus = "failed"
	// ModelRunStatusSkippedUpstream marks models not attempted because an
	// upstream dependency failed earlier in the same run.
	ModelRunStatusSkippedUpstream ModelRunStatus = "skipped_upstream"
)

// ModelRun is one model's outcome within a run.
type ModelRun struct {
	ID           string
	RunID        string
	Model        string
	Action       string
	Status       ModelRunStatus
	RowsAffected int64
	Error        string
	ExecutionMS  int64
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// Store is the persistence contract for snapshots, the run lock, and run
// history. The store exclusively owns the persisted snapshot and
// serializes access to it.
type Store interface {
	// Lock acquires the exclusive run lock, failing fast with
	// ErrConcurrentRun if held by another run.
	Lock(holder string) error
	// Unlock releases the run lock.
	Unlock() error

	// GetSnapshot reads all snapshot entries.
	GetSnapshot() (Snapshot, error)
	// SetFingerprint upserts one model's applied fingerprint. Called
	// immediately after each successful materialization, never on failure.
	SetFingerprint(name, fingerprint string) error
	// PruneSnapshot removes entries for models no longer defined.
	PruneSnapshot(keep []string) error

	CreateRun(environment string) (*Run, error)
	CompleteRun(id string, status RunStatus, errMsg string) error
	GetRun(id string) (*Run, error)
	// ListRuns returns the most recent runs, newest first.
	ListRuns(limit int) ([]*Run, error)
	RecordModelRun(mr *ModelRun) error
	ListModelRuns(runID string) ([]*ModelRun, error)
	// LatestModelRun returns the most recent recorded run of a model, or
	// nil if it has never run.
	LatestModelRun(model string) (*ModelRun, error)
	// PruneRuns keeps only the most recent keep runs.
	PruneRuns(keep int) error

	Close() error
}

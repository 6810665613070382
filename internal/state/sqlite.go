package state

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	locked bool
}

// NewSQLiteStore creates an unopened store instance.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger}
}

// Open opens the SQLite database at path and runs pending migrations.
// Use ":memory:" for an in-memory store.
func (s *SQLiteStore) Open(path string) error {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping state database: %w", err)
	}

	s.db = db
	s.path = path

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return err
	}

	s.logger.Debug("state store opened", "path", path)
	return nil
}

// migrate runs all pending schema migrations.
func (s *SQLiteStore) migrate() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run state migrations: %w", err)
	}
	return nil
}

// Close releases the lock if held and closes the database.
func (s *SQLiteStore) Close() error {
	if s.locked {
		_ = s.Unlock()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Lock acquires the exclusive run lock. The lock row is visible in the
// run_lock table for debugging a wedged lock.
func (s *SQLiteStore) Lock(holder string) error {
	if s.db == nil {
		return fmt.Errorf("state database not opened")
	}

	_, err := s.db.Exec(
		`INSERT INTO run_lock (id, holder, acquired_at) VALUES (1, ?, ?)`,
		holder, time.Now().UTC(),
	)
	if err != nil {
		var existing string
		if qerr := s.db.QueryRow(`SELECT holder FROM run_lock WHERE id = 1`).Scan(&existing); qerr == nil {
			return fmt.Errorf("%w (held by %s)", ErrConcurrentRun, existing)
		}
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}

	s.locked = true
	s.logger.Debug("run lock acquired", "holder", holder)
	return nil
}

// Unlock releases the run lock.
func (s *SQLiteStore) Unlock() error {
	if s.db == nil {
		return fmt.Errorf("state database not opened")
	}
	if _, err := s.db.Exec(`DELETE FROM run_lock WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	s.locked = false
	return nil
}

// GetSnapshot reads all snapshot entries.
func (s *SQLiteStore) GetSnapshot() (Snapshot, error) {
	if s.db == nil {
		return nil, fmt.Errorf("state database not opened")
	}

	rows, err := s.db.Query(`SELECT name, fingerprint, applied_at FROM snapshot`)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snap := make(Snapshot)
	for rows.Next() {
		var e SnapshotEntry
		if err := rows.Scan(&e.Name, &e.Fingerprint, &e.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot entry: %w", err)
		}
		snap[e.Name] = e
	}
	return snap, rows.Err()
}

// SetFingerprint upserts one model's applied fingerprint.
func (s *SQLiteStore) SetFingerprint(name, fingerprint string) error {
	if s.db == nil {
		return fmt.Errorf("state database not opened")
	}

	_, err := s.db.Exec(
		`INSERT INTO snapshot (name, fingerprint, applied_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET fingerprint = excluded.fingerprint, applied_at = excluded.applied_at`,
		name, fingerprint, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record fingerprint for %s: %w", name, err)
	}
	return nil
}

// PruneSnapshot removes entries for models not in keep. A renamed model's
// old entry disappears here; the fingerprint never carries across a rename.
func (s *SQLiteStore) PruneSnapshot(keep []string) error {
	if s.db == nil {
		return fmt.Errorf("state database not opened")
	}

	keepSet := make(map[string]bool, len(keep))
	for _, name := range keep {
		keepSet[name] = true
	}

	rows, err := s.db.Query(`SELECT name FROM snapshot`)
	if err != nil {
		return fmt.Errorf("failed to list snapshot entries: %w", err)
	}
	var stale []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan snapshot entry: %w", err)
		}
		if !keepSet[name] {
			stale = append(stale, name)
		}
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, name := range stale {
		if _, err := s.db.Exec(`DELETE FROM snapshot WHERE name = ?`, name); err != nil {
			return fmt.Errorf("failed to prune snapshot entry %s: %w", name, err)
		}
		s.logger.Debug("pruned stale snapshot entry", "model", name)
	}
	return nil
}

// CreateRun records a new run in running state.
func (s *SQLiteStore) CreateRun(environment string) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("state database not opened")
	}

	run := &Run{
		ID:          uuid.New().String(),
		Environment: environment,
		Status:      RunStatusRunning,
		StartedAt:   time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO runs (id, environment, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Environment, run.Status, run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// CompleteRun marks a run finished with the given status.
func (s *SQLiteStore) CompleteRun(id string, status RunStatus, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("state database not opened")
	}

	var errorPtr *string
	if errMsg != "" {
		errorPtr = &errMsg
	}

	result, err := s.db.Exec(
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		status, time.Now().UTC(), errorPtr, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(id string) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("state database not opened")
	}

	run := &Run{}
	var completedAt sql.NullTime
	var errMsg sql.NullString

	err := s.db.QueryRow(
		`SELECT id, environment, status, started_at, completed_at, error FROM runs WHERE id = ?`,
		id,
	).Scan(&run.ID, &run.Environment, &run.Status, &run.StartedAt, &completedAt, &errMsg)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(limit int) ([]*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("state database not opened")
	}

	rows, err := s.db.Query(
		`SELECT id, environment, status, started_at, completed_at, error
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Run
	for rows.Next() {
		run := &Run{}
		var completedAt sql.NullTime
		var errMsg sql.NullString
		if err := rows.Scan(&run.ID, &run.Environment, &run.Status, &run.StartedAt, &completedAt, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if completedAt.Valid {
			run.CompletedAt = &completedAt.Time
		}
		if errMsg.Valid {
			run.Error = errMsg.String
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// RecordModelRun records one model's outcome within a run.
func (s *SQLiteStore) RecordModelRun(mr *ModelRun) error {
	if s.db == nil {
		return fmt.Errorf("state database not opened")
	}

	if mr.ID == "" {
		mr.ID = uuid.New().String()
	}
	if mr.StartedAt.IsZero() {
		mr.StartedAt = time.Now().UTC()
	}
	now := time.Now().UTC()
	mr.CompletedAt = &now

	var errorPtr *string
	if mr.Error != "" {
		errorPtr = &mr.Error
	}

	_, err := s.db.Exec(
		`INSERT INTO model_runs (id, run_id, model, action, status, rows_affected, error, execution_ms, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mr.ID, mr.RunID, mr.Model, mr.Action, mr.Status, mr.RowsAffected, errorPtr, mr.ExecutionMS, mr.StartedAt, mr.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record model run: %w", err)
	}
	return nil
}

// ListModelRuns retrieves all model runs for a run, in start order.
func (s *SQLiteStore) ListModelRuns(runID string) ([]*ModelRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("state database not opened")
	}

	rows, err := s.db.Query(
		`SELECT id, run_id, model, action, status, rows_affected, error, execution_ms, started_at, completed_at
		 FROM model_runs WHERE run_id = ? ORDER BY started_at, model`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list model runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ModelRun
	for rows.Next() {
		mr, err := scanModelRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mr)
	}
	return out, rows.Err()
}

// LatestModelRun returns the most recent recorded run of a model, or nil.
func (s *SQLiteStore) LatestModelRun(model string) (*ModelRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("state database not opened")
	}

	rows, err := s.db.Query(
		`SELECT id, run_id, model, action, status, rows_affected, error, execution_ms, started_at, completed_at
		 FROM model_runs WHERE model = ? ORDER BY started_at DESC LIMIT 1`,
		model,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest model run: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanModelRun(rows)
}

// PruneRuns keeps only the most recent keep runs.
func (s *SQLiteStore) PruneRuns(keep int) error {
	if s.db == nil {
		return fmt.Errorf("state database not opened")
	}

	_, err := s.db.Exec(
		`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY started_at DESC LIMIT ?)`,
		keep,
	)
	if err != nil {
		return fmt.Errorf("failed to prune runs: %w", err)
	}
	_, err = s.db.Exec(`DELETE FROM model_runs WHERE run_id NOT IN (SELECT id FROM runs)`)
	if err != nil {
		return fmt.Errorf("failed to prune model runs: %w", err)
	}
	return nil
}

func scanModelRun(rows *sql.Rows) (*ModelRun, error) {
	mr := &ModelRun{}
	var completedAt sql.NullTime
	var errMsg sql.NullString

	err := rows.Scan(&mr.ID, &mr.RunID, &mr.Model, &mr.Action, &mr.Status,
		&mr.RowsAffected, &errMsg, &mr.ExecutionMS, &mr.StartedAt, &completedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan model run: %w", err)
	}

	if completedAt.Valid {
		mr.CompletedAt = &completedAt.Time
	}
	if errMsg.Valid {
		mr.Error = errMsg.String
	}
	return mr, nil
}

// Ensure SQLiteStore implements the Store interface.
var _ Store = (*SQLiteStore)(nil)

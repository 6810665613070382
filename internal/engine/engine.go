// Package engine orchestrates a full transformation cycle: load model
// definitions, build the dependency graph, plan against recorded state,
// apply in order, and run declared data checks.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/perchdata/godwit/internal/config"
	"github.com/perchdata/godwit/internal/dag"
	"github.com/perchdata/godwit/internal/parser"
	"github.com/perchdata/godwit/internal/state"
	"github.com/perchdata/godwit/pkg/adapter"
)

// Engine ties the stores, the warehouse adapter, and the pipeline stages
// together. The warehouse connection is lazy; the state store opens at
// construction so planning works without a warehouse.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	db          adapter.Adapter
	dbConnected bool
	dbMu        sync.Mutex

	store state.Store
}

// New creates an engine from configuration. The warehouse adapter is
// resolved from the registry but not connected until first use.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	logger.Debug("initializing engine",
		"models_dir", cfg.ModelsDir, "environment", cfg.Environment, "target", cfg.Target.Type)

	if cfg.StatePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.StatePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	store := state.NewSQLiteStore(logger)
	if err := store.Open(cfg.StatePath); err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	db, err := adapter.New(cfg.Target, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Engine{
		cfg:    cfg,
		logger: logger,
		db:     db,
		store:  store,
	}, nil
}

// ensureConnected connects the warehouse adapter once.
func (e *Engine) ensureConnected(ctx context.Context) error {
	e.dbMu.Lock()
	defer e.dbMu.Unlock()

	if e.dbConnected {
		return nil
	}
	if err := e.db.Connect(ctx, e.cfg.Target); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", e.cfg.Target.Type, err)
	}
	e.dbConnected = true
	e.logger.Debug("warehouse connected", "type", e.cfg.Target.Type, "path", e.cfg.Target.Path)
	return nil
}

// Close releases the warehouse connection and the state store.
func (e *Engine) Close() error {
	var firstErr error
	e.dbMu.Lock()
	if e.dbConnected {
		if err := e.db.Close(); err != nil {
			firstErr = err
		}
		e.dbConnected = false
	}
	e.dbMu.Unlock()

	if err := e.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Store exposes run history and snapshot access for reporting commands.
func (e *Engine) Store() state.Store {
	return e.store
}

// LoadProject parses every model and resolves the dependency graph.
// Parse, duplicate-name, unresolved-reference, and cycle errors all abort
// here, before anything touches the warehouse.
func (e *Engine) LoadProject() ([]*parser.Model, *dag.Graph, error) {
	models, err := parser.Load(e.cfg.ModelsDir)
	if err != nil {
		return nil, nil, err
	}

	g, err := dag.Build(models, e.cfg.Sources)
	if err != nil {
		return nil, nil, err
	}

	e.logger.Debug("project loaded", "models", len(models), "edges", g.EdgeCount())
	return models, g, nil
}

// lockHolder identifies this process in the run lock row.
func lockHolder() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s/%d", host, os.Getpid())
}

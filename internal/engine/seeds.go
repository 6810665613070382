package engine

// seeds.go - CSV seed loading into the raw schema

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SeedResult describes one loaded seed file.
type SeedResult struct {
	Table string
	Path  string
	Rows  int64
}

// LoadSeeds loads every CSV file in the seeds directory into a table named
// <seed_schema>.<file base name>, replacing prior contents. A missing
// seeds directory is not an error.
func (e *Engine) LoadSeeds(ctx context.Context) ([]SeedResult, error) {
	if e.cfg.SeedsDir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(e.cfg.SeedsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read seeds directory: %w", err)
	}

	if err := e.ensureConnected(ctx); err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var results []SeedResult
	for _, name := range names {
		table := e.cfg.SeedSchema + "." + strings.TrimSuffix(name, ".csv")
		path := filepath.Join(e.cfg.SeedsDir, name)

		e.logger.Info("loading seed", "table", table, "path", path)
		if err := e.db.LoadCSV(ctx, table, path); err != nil {
			return results, fmt.Errorf("failed to load seed %s: %w", name, err)
		}

		rows, err := e.db.QueryValue(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table))
		if err != nil {
			rows = 0
		}
		results = append(results, SeedResult{Table: table, Path: path, Rows: rows})
	}

	return results, nil
}

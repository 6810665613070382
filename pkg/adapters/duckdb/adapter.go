// Package duckdb provides the DuckDB warehouse adapter.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/perchdata/godwit/pkg/adapter"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// DefaultSchema is DuckDB's catalog default for unqualified names.
const DefaultSchema = "main"

// Adapter implements adapter.Adapter for DuckDB.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates an unconnected DuckDB adapter.
func New(logger *slog.Logger) *Adapter {
	a := &Adapter{}
	a.Logger = logger
	return a
}

// Connect opens the DuckDB database at cfg.Path. Empty or ":memory:" opens
// an in-memory database.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	path := cfg.Path
	if path == ":memory:" {
		path = ""
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// CreateSchema ensures the schema exists.
func (a *Adapter) CreateSchema(ctx context.Context, name string) error {
	if _, err := a.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", name)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", name, err)
	}
	return nil
}

// RelationExists reports whether a table or view with the qualified name
// exists. DuckDB lists views in information_schema.tables as well.
func (a *Adapter) RelationExists(ctx context.Context, name string) (bool, error) {
	if a.DB == nil {
		return false, fmt.Errorf("database connection not established")
	}

	schema, table := adapter.ParseQualifiedName(name, DefaultSchema)

	var count int64
	err := a.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`,
		schema, table,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check relation %s: %w", name, err)
	}
	return count > 0, nil
}

// TableMetadata retrieves column information and row count for a relation.
func (a *Adapter) TableMetadata(ctx context.Context, name string) (*adapter.Metadata, error) {
	if a.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}

	schema, table := adapter.ParseQualifiedName(name, DefaultSchema)

	rows, err := a.DB.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable, ordinal_position
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position
	`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []adapter.Column
	for rows.Next() {
		var col adapter.Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Position); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Nullable = strings.EqualFold(nullable, "YES")
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("relation %s not found", name)
	}

	var rowCount int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", schema, table)
	if err := a.DB.QueryRowContext(ctx, countQuery).Scan(&rowCount); err != nil {
		// Views over missing sources can fail here; the count is advisory.
		rowCount = 0
	}

	return &adapter.Metadata{
		Schema:   schema,
		Name:     table,
		Columns:  columns,
		RowCount: rowCount,
	}, nil
}

// LoadCSV loads a CSV file into a table using read_csv_auto, creating the
// schema if needed and replacing any existing table.
func (a *Adapter) LoadCSV(ctx context.Context, table string, path string) error {
	if a.DB == nil {
		return fmt.Errorf("database connection not established")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path %s: %w", path, err)
	}

	if schema, _ := adapter.ParseQualifiedName(table, ""); schema != "" {
		if err := a.CreateSchema(ctx, schema); err != nil {
			return err
		}
	}

	query := fmt.Sprintf(
		"CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv_auto('%s', header=true)",
		table, strings.ReplaceAll(absPath, "'", "''"),
	)
	if _, err := a.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to load CSV into %s: %w", table, err)
	}

	if a.Logger != nil {
		a.Logger.Debug("loaded CSV", "table", table, "path", absPath)
	}
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)

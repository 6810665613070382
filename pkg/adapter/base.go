package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// BaseSQLAdapter provides common database/sql functionality. Embed it in
// concrete adapters to get standard Close, Exec, Query, and QueryValue
// implementations.
type BaseSQLAdapter struct {
	DB     *sql.DB
	Cfg    Config
	Logger *slog.Logger
}

// Close closes the database connection.
func (b *BaseSQLAdapter) Close() error {
	if b.DB != nil {
		if b.Logger != nil {
			b.Logger.Debug("closing database connection")
		}
		return b.DB.Close()
	}
	return nil
}

// Exec executes a SQL statement that returns no rows.
func (b *BaseSQLAdapter) Exec(ctx context.Context, sqlStr string) (int64, error) {
	if b.DB == nil {
		return 0, fmt.Errorf("database connection not established")
	}
	result, err := b.DB.ExecContext(ctx, sqlStr)
	if err != nil {
		return 0, fmt.Errorf("failed to execute SQL: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		// Some statements (DDL) report no row count. Not an error.
		return 0, nil
	}
	return affected, nil
}

// Query executes a SQL statement that returns rows.
func (b *BaseSQLAdapter) Query(ctx context.Context, sqlStr string) (*Rows, error) {
	if b.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	//nolint:rowserrcheck // rows.Err() must be checked by caller after iteration completes
	rows, err := b.DB.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return &Rows{Rows: rows}, nil
}

// QueryValue executes a SQL statement expected to yield one integer.
func (b *BaseSQLAdapter) QueryValue(ctx context.Context, sqlStr string) (int64, error) {
	if b.DB == nil {
		return 0, fmt.Errorf("database connection not established")
	}
	var v int64
	if err := b.DB.QueryRowContext(ctx, sqlStr).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to execute scalar query: %w", err)
	}
	return v, nil
}

// IsConnected reports whether the connection is established.
func (b *BaseSQLAdapter) IsConnected() bool {
	return b.DB != nil
}

// ParseQualifiedName splits a relation reference into schema and name,
// falling back to defaultSchema when unqualified.
func ParseQualifiedName(name, defaultSchema string) (schema, table string) {
	if parts := strings.SplitN(name, ".", 2); len(parts) == 2 {
		return parts[0], parts[1]
	}
	return defaultSchema, name
}

// Package adapter defines the database boundary of the engine: the contract
// every warehouse adapter implements, shared database/sql plumbing, and the
// adapter registry. Concrete implementations live in pkg/adapters/
// subdirectories.
package adapter

import (
	"context"
	"database/sql"
)

// Config holds the connection settings for an adapter.
type Config struct {
	// Type selects the registered adapter, e.g. "duckdb".
	Type string `koanf:"type"`
	// Path is the database location. Empty or ":memory:" means in-memory
	// for adapters that support it.
	Path string `koanf:"path"`
}

// Column describes one column of a relation.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Position int
}

// Metadata describes a relation in the warehouse.
type Metadata struct {
	Schema   string
	Name     string
	Columns  []Column
	RowCount int64
}

// Rows wraps sql.Rows for query results crossing the adapter boundary.
type Rows struct {
	*sql.Rows
}

// Adapter is the contract between the engine and a warehouse. Model SQL is
// passed through verbatim; the adapter only wraps execution, metadata
// lookups, and bulk CSV loading.
type Adapter interface {
	// Connect establishes the connection described by cfg.
	Connect(ctx context.Context, cfg Config) error

	// Close releases the connection.
	Close() error

	// Exec runs a statement that returns no rows and reports the number of
	// rows affected, when the driver can tell.
	Exec(ctx context.Context, sql string) (int64, error)

	// Query runs a statement that returns rows.
	Query(ctx context.Context, sql string) (*Rows, error)

	// QueryValue runs a statement expected to return a single integer,
	// such as a COUNT.
	QueryValue(ctx context.Context, sql string) (int64, error)

	// CreateSchema ensures a schema exists.
	CreateSchema(ctx context.Context, name string) error

	// RelationExists reports whether a table or view with the given
	// qualified name exists.
	RelationExists(ctx context.Context, name string) (bool, error)

	// TableMetadata retrieves column and row count information for a
	// qualified relation name.
	TableMetadata(ctx context.Context, name string) (*Metadata, error)

	// LoadCSV bulk-loads a CSV file into a table, creating or replacing it
	// with an inferred schema.
	LoadCSV(ctx context.Context, table string, path string) error
}

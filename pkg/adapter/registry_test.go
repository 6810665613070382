package adapter

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

type fakeAdapter struct {
	BaseSQLAdapter
}

func (f *fakeAdapter) Connect(ctx context.Context, cfg Config) error { return nil }
func (f *fakeAdapter) CreateSchema(ctx context.Context, name string) error {
	return nil
}
func (f *fakeAdapter) RelationExists(ctx context.Context, name string) (bool, error) {
	return false, nil
}
func (f *fakeAdapter) TableMetadata(ctx context.Context, name string) (*Metadata, error) {
	return nil, nil
}
func (f *fakeAdapter) LoadCSV(ctx context.Context, table, path string) error { return nil }

func TestRegistry_RegisterAndNew(t *testing.T) {
	Register("fake", func(logger *slog.Logger) Adapter { return &fakeAdapter{} })

	if !IsRegistered("fake") {
		t.Fatal("fake adapter should be registered")
	}

	a, err := New(Config{Type: "fake"}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := a.(*fakeAdapter); !ok {
		t.Errorf("unexpected adapter type %T", a)
	}
}

func TestRegistry_UnknownType(t *testing.T) {
	_, err := New(Config{Type: "no-such-db"}, nil)
	if err == nil {
		t.Fatal("expected error for unknown adapter type")
	}
	var unknownErr *UnknownAdapterError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("expected UnknownAdapterError, got %T", err)
	}
	if unknownErr.Type != "no-such-db" {
		t.Errorf("error type = %q", unknownErr.Type)
	}
}

func TestRegistry_EmptyType(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatal("expected error for empty adapter type")
	}
}

func TestParseQualifiedName(t *testing.T) {
	tests := []struct {
		in         string
		schema     string
		table      string
	}{
		{"staging.observations", "staging", "observations"},
		{"observations", "main", "observations"},
		{"a.b.c", "a", "b.c"},
	}
	for _, tt := range tests {
		schema, table := ParseQualifiedName(tt.in, "main")
		if schema != tt.schema || table != tt.table {
			t.Errorf("ParseQualifiedName(%q) = %q, %q; want %q, %q",
				tt.in, schema, table, tt.schema, tt.table)
		}
	}
}

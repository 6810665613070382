package apply

// materialize.go - per-kind SQL generation for model materialization

import (
	"context"
	"fmt"
	"strings"

	"github.com/perchdata/godwit/internal/parser"
)

const tmpSuffix = "__godwit_tmp"

// materialize builds one model's backing relation per its kind and returns
// the number of rows written. fullRefresh forces incremental models through
// a from-scratch rebuild.
func (a *Applier) materialize(ctx context.Context, m *parser.Model, fullRefresh bool) (int64, error) {
	if err := a.ensureSchema(ctx, m); err != nil {
		return 0, err
	}

	switch m.Kind {
	case parser.KindView:
		return a.materializeView(ctx, m)
	case parser.KindFull:
		return a.materializeFull(ctx, m)
	case parser.KindIncremental:
		return a.materializeIncremental(ctx, m, fullRefresh)
	default:
		return 0, fmt.Errorf("unknown materialization kind %q for model %s", m.Kind, m.Name)
	}
}

func (a *Applier) ensureSchema(ctx context.Context, m *parser.Model) error {
	if schema := m.Schema(); schema != "" {
		return a.adapter.CreateSchema(ctx, schema)
	}
	return nil
}

// materializeView replaces the model's view. A leftover table from a kind
// change is dropped first so the create cannot collide.
func (a *Applier) materializeView(ctx context.Context, m *parser.Model) (int64, error) {
	_, _ = a.adapter.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", m.Name))

	sql := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS %s", m.Name, parser.ResolveRefs(m.SQL))
	if _, err := a.adapter.Exec(ctx, sql); err != nil {
		return 0, fmt.Errorf("failed to create view %s: %w", m.Name, err)
	}
	return 0, nil
}

// materializeFull rebuilds the model's table. The select runs into a
// temporary table first and is swapped in afterwards, so readers never see
// a half-built relation and a failed select leaves the old table in place.
func (a *Applier) materializeFull(ctx context.Context, m *parser.Model) (int64, error) {
	tmp := m.Name + tmpSuffix

	_, _ = a.adapter.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", tmp))
	if _, err := a.adapter.Exec(ctx, fmt.Sprintf("CREATE TABLE %s AS %s", tmp, parser.ResolveRefs(m.SQL))); err != nil {
		return 0, fmt.Errorf("failed to build table %s: %w", m.Name, err)
	}

	count, err := a.adapter.QueryValue(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", tmp))
	if err != nil {
		// The count is advisory; the build itself succeeded.
		a.logger.Debug("row count unavailable", "model", m.Name, "error", err)
		count = 0
	}

	_, _ = a.adapter.Exec(ctx, fmt.Sprintf("DROP VIEW IF EXISTS %s", m.Name))
	_, _ = a.adapter.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", m.Name))
	if _, err := a.adapter.Exec(ctx, renameSQL(tmp, m.Name)); err != nil {
		return 0, fmt.Errorf("failed to swap table %s into place: %w", m.Name, err)
	}
	return count, nil
}

// materializeIncremental creates the table on first run and merges or
// appends on subsequent runs, leaving rows outside the incremental window
// untouched. With fullRefresh the table is rebuilt from scratch.
func (a *Applier) materializeIncremental(ctx context.Context, m *parser.Model, fullRefresh bool) (int64, error) {
	exists, err := a.adapter.RelationExists(ctx, m.Name)
	if err != nil {
		return 0, err
	}

	if !exists || fullRefresh {
		return a.materializeFull(ctx, m)
	}

	if m.UniqueKey != "" {
		return a.mergeByKey(ctx, m)
	}
	return a.appendWindow(ctx, m)
}

// mergeByKey implements delete-then-insert: rows whose key appears in the
// new select are replaced, everything else is preserved.
func (a *Applier) mergeByKey(ctx context.Context, m *parser.Model) (int64, error) {
	tmp := m.Name + tmpSuffix

	_, _ = a.adapter.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", tmp))
	if _, err := a.adapter.Exec(ctx, fmt.Sprintf("CREATE TABLE %s AS %s", tmp, parser.ResolveRefs(m.SQL))); err != nil {
		return 0, fmt.Errorf("failed to stage incremental rows for %s: %w", m.Name, err)
	}
	defer func() {
		_, _ = a.adapter.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", tmp))
	}()

	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE %s IN (SELECT %s FROM %s)",
		m.Name, m.UniqueKey, m.UniqueKey, tmp)
	if _, err := a.adapter.Exec(ctx, deleteSQL); err != nil {
		return 0, fmt.Errorf("failed to delete superseded rows in %s: %w", m.Name, err)
	}

	inserted, err := a.adapter.Exec(ctx, fmt.Sprintf("INSERT INTO %s SELECT * FROM %s", m.Name, tmp))
	if err != nil {
		return 0, fmt.Errorf("failed to merge incremental rows into %s: %w", m.Name, err)
	}
	return inserted, nil
}

// appendWindow inserts only rows past the target's high-water mark on the
// updated_at column. Without a declared column the whole select is appended.
func (a *Applier) appendWindow(ctx context.Context, m *parser.Model) (int64, error) {
	body := parser.ResolveRefs(m.SQL)

	var insertSQL string
	if m.UpdatedAt != "" {
		insertSQL = fmt.Sprintf(
			"INSERT INTO %s SELECT * FROM (%s) AS incr WHERE incr.%s > (SELECT MAX(%s) FROM %s) OR (SELECT MAX(%s) FROM %s) IS NULL",
			m.Name, strings.TrimRight(body, "; \n\t"), m.UpdatedAt, m.UpdatedAt, m.Name, m.UpdatedAt, m.Name)
	} else {
		insertSQL = fmt.Sprintf("INSERT INTO %s %s", m.Name, body)
	}

	inserted, err := a.adapter.Exec(ctx, insertSQL)
	if err != nil {
		return 0, fmt.Errorf("failed to append incremental rows into %s: %w", m.Name, err)
	}
	return inserted, nil
}

// renameSQL renames tmp to the target relation. The rename target is the
// bare table name; the schema stays the same.
func renameSQL(tmp, target string) string {
	bare := target
	if idx := strings.LastIndex(target, "."); idx >= 0 {
		bare = target[idx+1:]
	}
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", tmp, bare)
}

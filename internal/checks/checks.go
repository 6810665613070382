// Package checks turns declared model assertions into violation-counting
// queries and runs them against the warehouse.
package checks

import (
	"fmt"
	"strings"

	"github.com/perchdata/godwit/internal/parser"
)

// Check is one executable assertion. SQL returns a single integer: the
// number of violating rows, zero meaning the assertion holds.
type Check struct {
	Model string
	Name  string
	SQL   string
}

// Expand converts a model's declared assertions into executable checks.
func Expand(m *parser.Model) []Check {
	var out []Check
	for _, tc := range m.Tests {
		for _, col := range tc.NotNull {
			out = append(out, Check{
				Model: m.Name,
				Name:  fmt.Sprintf("not_null(%s)", col),
				SQL:   notNullSQL(m.Name, col),
			})
		}
		if len(tc.Unique) > 0 {
			out = append(out, Check{
				Model: m.Name,
				Name:  fmt.Sprintf("unique(%s)", strings.Join(tc.Unique, ", ")),
				SQL:   uniqueSQL(m.Name, tc.Unique),
			})
		}
		if av := tc.AcceptedValues; av != nil {
			out = append(out, Check{
				Model: m.Name,
				Name:  fmt.Sprintf("accepted_values(%s)", av.Column),
				SQL:   acceptedValuesSQL(m.Name, av.Column, av.Values),
			})
		}
		if rel := tc.Relationship; rel != nil {
			out = append(out, Check{
				Model: m.Name,
				Name:  fmt.Sprintf("relationship(%s -> %s.%s)", rel.Column, rel.To, rel.Field),
				SQL:   relationshipSQL(m.Name, rel.Column, rel.To, rel.Field),
			})
		}
		if tc.Custom != nil {
			out = append(out, Check{
				Model: m.Name,
				Name:  tc.Custom.Name,
				SQL:   customSQL(tc.Custom.SQL),
			})
		}
	}
	return out
}

func notNullSQL(model, column string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NULL", model, column)
}

// uniqueSQL counts key combinations that occur more than once.
func uniqueSQL(model string, columns []string) string {
	cols := strings.Join(columns, ", ")
	return fmt.Sprintf(
		"SELECT COUNT(*) FROM (SELECT %s FROM %s GROUP BY %s HAVING COUNT(*) > 1) AS dups",
		cols, model, cols)
}

func acceptedValuesSQL(model, column string, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quoteLiteral(v)
	}
	return fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE %s IS NOT NULL AND %s NOT IN (%s)",
		model, column, column, strings.Join(quoted, ", "))
}

// relationshipSQL counts non-null child values without a matching parent.
func relationshipSQL(model, column, to, field string) string {
	return fmt.Sprintf(
		"SELECT COUNT(*) FROM %s AS child WHERE child.%s IS NOT NULL AND NOT EXISTS "+
			"(SELECT 1 FROM %s AS parent WHERE parent.%s = child.%s)",
		model, column, to, field, column)
}

// customSQL wraps a user query expected to return zero rows. ref() calls
// resolve to relation names the same way they do in model bodies.
func customSQL(sql string) string {
	sql = parser.ResolveRefs(sql)
	return fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS custom_check",
		strings.TrimRight(strings.TrimSpace(sql), ";"))
}

func quoteLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// Package parser loads declarative SQL model definitions. Each source unit
// is a SQL file with a YAML header block (/*--- ... ---*/) declaring the
// model's name, materialization kind, and data checks.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind is a model's materialization strategy.
type Kind string

const (
	// KindView materializes the model as a view.
	KindView Kind = "view"
	// KindFull materializes the model as a fully rebuilt table.
	KindFull Kind = "full"
	// KindIncremental appends or merges new rows into an existing table.
	KindIncremental Kind = "incremental"
)

// ValidKind reports whether k names a known materialization kind.
func ValidKind(k Kind) bool {
	switch k {
	case KindView, KindFull, KindIncremental:
		return true
	}
	return false
}

// Header is the parsed YAML header of a model source unit.
// Unknown fields are rejected.
type Header struct {
	Name        string        `yaml:"name"`
	Kind        Kind          `yaml:"kind"` // view, full, incremental
	Description string        `yaml:"description"`
	UniqueKey   string        `yaml:"unique_key"` // incremental merge key
	UpdatedAt   string        `yaml:"updated_at"` // incremental window column
	Tests       []CheckConfig `yaml:"tests"`
}

// CheckConfig declares data-quality assertions on a model's output.
// Each entry carries exactly one assertion family.
type CheckConfig struct {
	Unique         []string              `yaml:"unique,omitempty"`
	NotNull        []string              `yaml:"not_null,omitempty"`
	AcceptedValues *AcceptedValuesConfig `yaml:"accepted_values,omitempty"`
	Relationship   *RelationshipConfig   `yaml:"relationship,omitempty"`
	Custom         *CustomCheckConfig    `yaml:"custom,omitempty"`
}

// AcceptedValuesConfig asserts a column's values are a subset of Values.
type AcceptedValuesConfig struct {
	Column string   `yaml:"column"`
	Values []string `yaml:"values"`
}

// RelationshipConfig asserts every non-null value of Column exists in the
// Field column of the To relation.
type RelationshipConfig struct {
	Column string `yaml:"column"`
	To     string `yaml:"to"`
	Field  string `yaml:"field"`
}

// CustomCheckConfig is a SQL query expected to return zero rows.
type CustomCheckConfig struct {
	Name string `yaml:"name"`
	SQL  string `yaml:"sql"`
}

// HeaderResult holds the result of header extraction.
type HeaderResult struct {
	Header    *Header
	SQL       string // SQL content after the header block
	HasHeader bool
}

// headerPattern matches a /*--- ... ---*/ block at the top of the file.
var headerPattern = regexp.MustCompile(`(?s)^\s*/\*---\s*\n(.*?)\s*---\*/`)

// ExtractHeader extracts the YAML header from model source content.
func ExtractHeader(content string) (*HeaderResult, error) {
	result := &HeaderResult{
		Header: &Header{},
		SQL:    content,
	}

	matches := headerPattern.FindStringSubmatch(content)
	if matches == nil || len(matches) < 2 {
		return result, nil
	}

	result.HasHeader = true
	result.SQL = strings.TrimSpace(headerPattern.ReplaceAllString(content, ""))

	header, err := parseHeaderYAML(matches[1])
	if err != nil {
		return nil, err
	}

	result.Header = header
	return result, nil
}

// knownHeaderFields is the closed set of header keys.
var knownHeaderFields = map[string]bool{
	"name":        true,
	"kind":        true,
	"description": true,
	"unique_key":  true,
	"updated_at":  true,
	"tests":       true,
}

// parseHeaderYAML parses header YAML with strict field validation.
func parseHeaderYAML(yamlContent string) (*Header, error) {
	var rawMap map[string]any
	if err := yaml.Unmarshal([]byte(yamlContent), &rawMap); err != nil {
		return nil, &ParseError{Message: fmt.Sprintf("invalid YAML header: %v", err)}
	}

	for field := range rawMap {
		if !knownHeaderFields[field] {
			return nil, &ParseError{Message: fmt.Sprintf("unknown header field %q", field)}
		}
	}

	var header Header
	if err := yaml.Unmarshal([]byte(yamlContent), &header); err != nil {
		return nil, &ParseError{Message: fmt.Sprintf("failed to parse header: %v", err)}
	}

	if header.Kind != "" && !ValidKind(header.Kind) {
		return nil, &ParseError{
			Message: fmt.Sprintf("invalid kind %q, must be one of: view, full, incremental", header.Kind),
		}
	}

	for i, tc := range header.Tests {
		if err := validateCheckConfig(&tc); err != nil {
			return nil, &ParseError{Message: fmt.Sprintf("tests[%d]: %v", i, err)}
		}
	}

	return &header, nil
}

func validateCheckConfig(tc *CheckConfig) error {
	declared := 0
	if len(tc.Unique) > 0 {
		declared++
	}
	if len(tc.NotNull) > 0 {
		declared++
	}
	if tc.AcceptedValues != nil {
		declared++
		if tc.AcceptedValues.Column == "" || len(tc.AcceptedValues.Values) == 0 {
			return fmt.Errorf("accepted_values requires column and values")
		}
	}
	if tc.Relationship != nil {
		declared++
		if tc.Relationship.Column == "" || tc.Relationship.To == "" || tc.Relationship.Field == "" {
			return fmt.Errorf("relationship requires column, to, and field")
		}
	}
	if tc.Custom != nil {
		declared++
		if tc.Custom.Name == "" || tc.Custom.SQL == "" {
			return fmt.Errorf("custom check requires name and sql")
		}
	}
	if declared == 0 {
		return fmt.Errorf("empty test entry")
	}
	return nil
}

// ApplyDefaults fills header fields derivable from file context.
func (h *Header) ApplyDefaults(filename string, schema string) {
	if h.Name == "" {
		base := strings.TrimSuffix(filename, ".sql")
		if schema != "" {
			h.Name = schema + "." + base
		} else {
			h.Name = base
		}
	}
	if h.Kind == "" {
		h.Kind = KindView
	}
}

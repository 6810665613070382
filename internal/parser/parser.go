package parser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Model is one parsed model definition. Immutable for the duration of a
// planning/apply cycle.
type Model struct {
	// Name is the unique model name, namespaced by schema (e.g. "staging.stg_observations").
	Name string
	// Kind is the materialization strategy.
	Kind Kind
	// Description is optional free text from the header.
	Description string
	// UniqueKey is the incremental merge key column, if declared.
	UniqueKey string
	// UpdatedAt is the incremental window column, if declared.
	UpdatedAt string
	// SQL is the body with the header stripped. Opaque to the engine except
	// for reference extraction.
	SQL string
	// RawContent is the full file content including the header.
	RawContent string
	// FilePath is the absolute path to the source file.
	FilePath string
	// Refs are the relation names referenced via ref() in the body,
	// deduplicated in order of first appearance.
	Refs []string
	// Tests are the declared data checks.
	Tests []CheckConfig
}

// Schema returns the namespace portion of the model name, or "" if the
// name is unqualified.
func (m *Model) Schema() string {
	if i := strings.LastIndex(m.Name, "."); i > 0 {
		return m.Name[:i]
	}
	return ""
}

// refPattern matches ref('schema.model_name') or ref("schema.model_name").
// The engine only needs reference names, not full SQL semantics.
var refPattern = regexp.MustCompile(`ref\s*\(\s*['"]([^'"]+)['"]\s*\)`)

// ExtractRefs scans SQL for ref() references, deduplicated in order of
// first appearance.
func ExtractRefs(sql string) []string {
	matches := refPattern.FindAllStringSubmatch(sql, -1)

	var refs []string
	seen := make(map[string]bool)
	for _, match := range matches {
		if len(match) > 1 && !seen[match[1]] {
			refs = append(refs, match[1])
			seen[match[1]] = true
		}
	}
	return refs
}

// ResolveRefs replaces every ref('name') call in sql with the bare relation
// name so the body is executable against the store.
func ResolveRefs(sql string) string {
	return refPattern.ReplaceAllString(sql, "$1")
}

// Parser parses model source files under a base directory. The directory
// path relative to the base supplies the default schema namespace.
type Parser struct {
	BaseDir string
}

// NewParser creates a parser rooted at baseDir.
func NewParser(baseDir string) *Parser {
	return &Parser{BaseDir: baseDir}
}

// ParseFile parses a single model source file.
func (p *Parser) ParseFile(filePath string) (*Model, error) {
	content, err := os.ReadFile(filePath) //nolint:gosec // paths come from directory walk
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return p.ParseContent(filePath, string(content))
}

// ParseContent parses model source content.
func (p *Parser) ParseContent(filePath string, content string) (*Model, error) {
	result, err := ExtractHeader(content)
	if err != nil {
		if pe, ok := err.(*ParseError); ok && pe.File == "" {
			pe.File = filePath
		}
		return nil, err
	}

	header := result.Header
	header.ApplyDefaults(filepath.Base(filePath), p.schemaForFile(filePath))

	if strings.TrimSpace(result.SQL) == "" {
		return nil, &ParseError{File: filePath, Message: "model has no SQL body"}
	}

	m := &Model{
		Name:        header.Name,
		Kind:        header.Kind,
		Description: header.Description,
		UniqueKey:   header.UniqueKey,
		UpdatedAt:   header.UpdatedAt,
		SQL:         strings.TrimSpace(result.SQL),
		RawContent:  content,
		FilePath:    filePath,
		Tests:       header.Tests,
	}
	m.Refs = ExtractRefs(m.SQL)

	return m, nil
}

// schemaForFile derives the schema namespace from the file's directory
// relative to BaseDir (e.g. "<base>/staging/x.sql" -> "staging").
func (p *Parser) schemaForFile(filePath string) string {
	relPath, err := filepath.Rel(p.BaseDir, filePath)
	if err != nil {
		return ""
	}
	dir := filepath.Dir(relPath)
	if dir == "." {
		return ""
	}
	return strings.Join(strings.Split(dir, string(filepath.Separator)), ".")
}

// Load recursively scans dir for .sql files and parses each into exactly
// one Model. It fails with DuplicateNameError when two sources declare the
// same name. Parse failures are collected across the whole scan so one bad
// file does not hide the rest. The returned slice is sorted by name for
// determinism.
func Load(dir string) ([]*Model, error) {
	p := NewParser(dir)

	byName := make(map[string]*Model)
	var models []*Model
	var parseErrs []error

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".sql") {
			return nil
		}
		if strings.HasPrefix(info.Name(), ".") {
			return nil
		}

		m, err := p.ParseFile(path)
		if err != nil {
			parseErrs = append(parseErrs, err)
			return nil
		}

		if existing, ok := byName[m.Name]; ok {
			parseErrs = append(parseErrs, &DuplicateNameError{
				Name:  m.Name,
				Files: []string{existing.FilePath, m.FilePath},
			})
			return nil
		}
		byName[m.Name] = m
		models = append(models, m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan models directory: %w", err)
	}
	if len(parseErrs) > 0 {
		return nil, errors.Join(parseErrs...)
	}

	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	return models, nil
}

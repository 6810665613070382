// Package dag provides the model dependency graph: reference resolution,
// cycle detection, deterministic topological ordering, and downstream
// closure computation.
package dag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/perchdata/godwit/internal/parser"
)

// Node is a relation in the dependency graph. Model is nil for external
// raw relations not owned by the engine.
type Node struct {
	Name     string
	Model    *parser.Model
	External bool
}

// CycleError reports a dependency cycle, with the offending path.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// UnresolvedReferenceError reports a reference that is neither a known
// model nor a declared external relation.
type UnresolvedReferenceError struct {
	Model     string
	Reference string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("model %q references unknown relation %q", e.Model, e.Reference)
}

// Graph is a directed acyclic graph of relations. Edges point from a
// dependency to each model that reads it.
type Graph struct {
	nodes   map[string]*Node
	edges   map[string][]string // dependency -> dependents
	parents map[string][]string // dependent -> dependencies
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]*Node),
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// Build resolves model references into a graph. References to names in
// externals become leaves with no model backing. It fails with
// UnresolvedReferenceError for unknown references and CycleError for
// cyclic graphs. Build has no side effects.
func Build(models []*parser.Model, externals []string) (*Graph, error) {
	g := NewGraph()

	externalSet := make(map[string]bool, len(externals))
	for _, name := range externals {
		externalSet[name] = true
	}

	for _, m := range models {
		g.addNode(&Node{Name: m.Name, Model: m})
	}

	for _, m := range models {
		for _, ref := range m.Refs {
			if _, ok := g.nodes[ref]; !ok {
				if !externalSet[ref] {
					return nil, &UnresolvedReferenceError{Model: m.Name, Reference: ref}
				}
				g.addNode(&Node{Name: ref, External: true})
			}
			if err := g.addEdge(ref, m.Name); err != nil {
				return nil, err
			}
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CycleError{Cycle: cycle}
	}

	return g, nil
}

func (g *Graph) addNode(n *Node) {
	if _, exists := g.nodes[n.Name]; !exists {
		g.nodes[n.Name] = n
		g.edges[n.Name] = []string{}
		g.parents[n.Name] = []string{}
	}
}

func (g *Graph) addEdge(dependency, dependent string) error {
	if dependency == dependent {
		return &CycleError{Cycle: []string{dependency, dependency}}
	}
	if !contains(g.edges[dependency], dependent) {
		g.edges[dependency] = append(g.edges[dependency], dependent)
	}
	if !contains(g.parents[dependent], dependency) {
		g.parents[dependent] = append(g.parents[dependent], dependency)
	}
	return nil
}

// Node returns a node by name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Parents returns the dependencies of a node, sorted.
func (g *Graph) Parents(name string) []string {
	out := append([]string(nil), g.parents[name]...)
	sort.Strings(out)
	return out
}

// Children returns the dependents of a node, sorted.
func (g *Graph) Children(name string) []string {
	out := append([]string(nil), g.edges[name]...)
	sort.Strings(out)
	return out
}

// NodeCount returns the number of nodes, external leaves included.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, children := range g.edges {
		count += len(children)
	}
	return count
}

// findCycle returns a cycle path if one exists, nil otherwise. DFS with a
// recursion stack; the path is reconstructed for error reporting.
func (g *Graph) findCycle() []string {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make(map[string]string)

	var cyclePath []string

	var dfs func(name string) bool
	dfs = func(name string) bool {
		visited[name] = true
		recStack[name] = true

		for _, child := range g.sortedChildren(name) {
			if !visited[child] {
				path[child] = name
				if dfs(child) {
					return true
				}
			} else if recStack[child] {
				cyclePath = []string{child}
				for curr := name; curr != child; curr = path[curr] {
					cyclePath = append([]string{curr}, cyclePath...)
				}
				cyclePath = append([]string{child}, cyclePath...)
				return true
			}
		}

		recStack[name] = false
		return false
	}

	for _, name := range g.sortedNames() {
		if !visited[name] {
			if dfs(name) {
				return cyclePath
			}
		}
	}

	return nil
}

// TopologicalSort returns model nodes in dependency order, external leaves
// excluded. Ties are broken lexicographically by name so the order is
// stable across runs.
func (g *Graph) TopologicalSort() ([]*Node, error) {
	if cycle := g.findCycle(); cycle != nil {
		return nil, &CycleError{Cycle: cycle}
	}

	visited := make(map[string]bool)
	var result []*Node

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true

		for _, parent := range g.sortedParents(name) {
			visit(parent)
		}

		if n := g.nodes[name]; !n.External {
			result = append(result, n)
		}
	}

	for _, name := range g.sortedNames() {
		visit(name)
	}

	return result, nil
}

// ExecutionLevels groups model names by level: nodes at level N depend only
// on nodes at levels < N. Levels and their contents are sorted.
func (g *Graph) ExecutionLevels() ([][]string, error) {
	if cycle := g.findCycle(); cycle != nil {
		return nil, &CycleError{Cycle: cycle}
	}

	assigned := make(map[string]int)

	var level func(name string) int
	level = func(name string) int {
		if l, ok := assigned[name]; ok {
			return l
		}
		parents := g.parents[name]
		if len(parents) == 0 {
			assigned[name] = 0
			return 0
		}
		max := 0
		for _, p := range parents {
			if pl := level(p); pl >= max {
				max = pl + 1
			}
		}
		assigned[name] = max
		return max
	}

	maxLevel := 0
	for name := range g.nodes {
		if l := level(name); l > maxLevel {
			maxLevel = l
		}
	}

	levels := make([][]string, maxLevel+1)
	for name, l := range assigned {
		if g.nodes[name].External {
			continue
		}
		levels[l] = append(levels[l], name)
	}
	for i := range levels {
		sort.Strings(levels[i])
	}
	return levels, nil
}

// Downstream returns the given nodes plus every transitive dependent,
// sorted. Used for change propagation and upstream-failure tainting.
func (g *Graph) Downstream(names []string) []string {
	marked := make(map[string]bool)

	var mark func(name string)
	mark = func(name string) {
		if marked[name] {
			return
		}
		marked[name] = true
		for _, child := range g.edges[name] {
			mark(child)
		}
	}

	for _, name := range names {
		if _, exists := g.nodes[name]; exists {
			mark(name)
		}
	}

	result := make([]string, 0, len(marked))
	for name := range marked {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// Subgraph returns a new graph containing only the named nodes and edges
// between them.
func (g *Graph) Subgraph(names []string) *Graph {
	sub := NewGraph()
	keep := make(map[string]bool)

	for _, name := range names {
		if n, exists := g.nodes[name]; exists {
			keep[name] = true
			sub.addNode(n)
		}
	}

	for _, name := range names {
		for _, child := range g.edges[name] {
			if keep[child] {
				_ = sub.addEdge(name, child)
			}
		}
	}

	return sub
}

func (g *Graph) sortedNames() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (g *Graph) sortedChildren(name string) []string {
	out := append([]string(nil), g.edges[name]...)
	sort.Strings(out)
	return out
}

func (g *Graph) sortedParents(name string) []string {
	out := append([]string(nil), g.parents[name]...)
	sort.Strings(out)
	return out
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}

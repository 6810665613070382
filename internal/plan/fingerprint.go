package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"

	"github.com/perchdata/godwit/internal/dag"
)

// Fingerprints computes a content fingerprint for every model in the graph,
// bottom-up in dependency order. A model's fingerprint covers its SQL body,
// materialization kind, incremental settings, and the fingerprints of its
// direct model dependencies, so any upstream change alters every downstream
// fingerprint. External relations carry no fingerprint; they participate only
// through the SQL text that references them.
func Fingerprints(g *dag.Graph) (map[string]string, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	fps := make(map[string]string, len(order))
	for _, node := range order {
		m := node.Model

		deps := make([]string, 0)
		for _, parent := range g.Parents(node.Name) {
			if _, ok := fps[parent]; ok {
				deps = append(deps, parent)
			}
		}
		sort.Strings(deps)

		h := sha256.New()
		_, _ = io.WriteString(h, "kind:"+string(m.Kind)+"\n")
		_, _ = io.WriteString(h, "unique_key:"+m.UniqueKey+"\n")
		_, _ = io.WriteString(h, "updated_at:"+m.UpdatedAt+"\n")
		_, _ = io.WriteString(h, "sql:"+m.SQL+"\n")
		for _, dep := range deps {
			_, _ = io.WriteString(h, "dep:"+dep+"="+fps[dep]+"\n")
		}
		fps[node.Name] = hex.EncodeToString(h.Sum(nil))
	}
	return fps, nil
}

package resolution

import (
	"slices"
	"time"

	"github.com/kennylajara/news/pkg/entity"
)

type node struct {
	class      entity.Classification
	isGroup    bool
	refs       []int64 // outgoing, sorted, distinct
	reviewedAt *time.Time
}

// Graph is the canonical-reference graph keyed by entity id. Each node owns
// its outgoing set; the incoming index is kept alongside. Graph is not safe
// for concurrent use; Engine guards it.
type Graph struct {
	nodes    map[int64]*node
	incoming map[int64]map[int64]struct{}
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[int64]*node),
		incoming: make(map[int64]map[int64]struct{}),
	}
}

// Add inserts or updates an entity node without touching its edges.
func (g *Graph) Add(e entity.Entity) {
	n, ok := g.nodes[e.ID]
	if !ok {
		n = &node{}
		g.nodes[e.ID] = n
	}
	n.class = e.Classification
	if n.class == "" {
		n.class = entity.Canonical
	}
	n.isGroup = e.IsGroup
	n.reviewedAt = e.ReviewedAt
}

// AddReference inserts a directed edge. Both ends must already exist;
// otherwise it is ignored and false is returned.
func (g *Graph) AddReference(r entity.Reference) bool {
	n, ok := g.nodes[r.EntityID]
	if !ok {
		return false
	}
	if _, ok := g.nodes[r.CanonicalID]; !ok {
		return false
	}
	if !slices.Contains(n.refs, r.CanonicalID) {
		n.refs = sortedSet(append(n.refs, r.CanonicalID))
	}
	g.link(r.EntityID, r.CanonicalID)
	return true
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Has reports whether id is a node.
func (g *Graph) Has(id int64) bool {
	_, ok := g.nodes[id]
	return ok
}

// Node returns the view of one entity.
func (g *Graph) Node(id int64) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return Node{ID: id, Classification: n.class, References: slices.Clone(n.refs)}, true
}

// Referrers returns the ids with an edge into id, sorted.
func (g *Graph) Referrers(id int64) []int64 {
	in := g.incoming[id]
	out := make([]int64, 0, len(in))
	for src := range in {
		out = append(out, src)
	}
	slices.Sort(out)
	return out
}

// IDs returns every node id, sorted.
func (g *Graph) IDs() []int64 {
	out := make([]int64, 0, len(g.nodes))
	for id := range g.nodes {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Check verifies every reference invariant and returns the first violation
// as an ErrInconsistentState error.
func (g *Graph) Check() error {
	for _, id := range g.IDs() {
		if err := checkNode(id, g.nodes[id].class, g.nodes[id].refs, len(g.incoming[id]), func(t int64) (entity.Classification, bool) {
			n, ok := g.nodes[t]
			if !ok {
				return "", false
			}
			return n.class, true
		}); err != nil {
			return &Error{Op: "check", EntityID: id, Kind: ErrInconsistentState, Detail: err.Error()}
		}
	}
	return nil
}

func (g *Graph) set(id int64, class entity.Classification, refs []int64, isGroup bool) {
	n := g.nodes[id]
	for _, t := range n.refs {
		g.unlink(id, t)
	}
	n.class = class
	n.refs = slices.Clone(refs)
	n.isGroup = isGroup
	for _, t := range n.refs {
		g.link(id, t)
	}
}

func (g *Graph) link(src, dst int64) {
	in, ok := g.incoming[dst]
	if !ok {
		in = make(map[int64]struct{})
		g.incoming[dst] = in
	}
	in[src] = struct{}{}
}

func (g *Graph) unlink(src, dst int64) {
	in, ok := g.incoming[dst]
	if !ok {
		return
	}
	delete(in, src)
	if len(in) == 0 {
		delete(g.incoming, dst)
	}
}

func sortedSet(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

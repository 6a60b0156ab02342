package resolution

import (
	"errors"
	"fmt"
	"slices"

	"github.com/kennylajara/news/pkg/entity"
)

// Change is the new state of one entity after a classification operation.
type Change struct {
	EntityID       int64
	Previous       entity.Classification
	Classification entity.Classification
	References     []int64
	IsGroup        bool
	// Reclassified is set when the classification or reference set moved.
	// Only reclassified entities need their articles re-allocated.
	Reclassified bool
	Reviewed     bool
}

type stage struct {
	class    entity.Classification
	refs     []int64
	isGroup  bool
	reviewed bool
}

// txn overlays staged node states on the graph. Nothing reaches the graph
// until the engine applies the validated change set.
type txn struct {
	g      *Graph
	op     string
	staged map[int64]*stage
}

func newTxn(g *Graph, op string) *txn {
	return &txn{g: g, op: op, staged: make(map[int64]*stage)}
}

func (t *txn) exists(id int64) bool { return t.g.Has(id) }

func (t *txn) class(id int64) entity.Classification {
	if s, ok := t.staged[id]; ok {
		return s.class
	}
	if n, ok := t.g.nodes[id]; ok {
		return n.class
	}
	return ""
}

func (t *txn) refs(id int64) []int64 {
	if s, ok := t.staged[id]; ok {
		return s.refs
	}
	if n, ok := t.g.nodes[id]; ok {
		return n.refs
	}
	return nil
}

// referrers sees staged edges: graph referrers still pointing at id plus
// staged nodes that now do.
func (t *txn) referrers(id int64) []int64 {
	var out []int64
	for src := range t.g.incoming[id] {
		if _, ok := t.staged[src]; !ok {
			out = append(out, src)
		}
	}
	for src, s := range t.staged {
		if slices.Contains(s.refs, id) {
			out = append(out, src)
		}
	}
	slices.Sort(out)
	return out
}

func (t *txn) stageOf(id int64) *stage {
	s, ok := t.staged[id]
	if !ok {
		n := t.g.nodes[id]
		s = &stage{class: n.class, refs: n.refs, isGroup: n.isGroup}
		t.staged[id] = s
	}
	return s
}

func (t *txn) set(id int64, class entity.Classification, refs []int64) {
	s := t.stageOf(id)
	s.class = class
	s.refs = sortedSet(refs)
	if class != entity.Canonical {
		s.isGroup = false
	}
}

func (t *txn) review(id int64) {
	t.stageOf(id).reviewed = true
}

// redirect moves every dependent of a canonical that is about to stop being
// canonical onto targets. Dependent aliases follow the targets; dependent
// ambiguous entities swap the old canonical for the targets and collapse to
// an alias when a single canonical remains.
func (t *txn) redirect(from int64, targets []int64) {
	for _, r := range t.referrers(from) {
		switch t.class(r) {
		case entity.Alias:
			if len(targets) == 1 {
				t.set(r, entity.Alias, targets)
			} else {
				t.set(r, entity.Ambiguous, targets)
			}
		case entity.Ambiguous:
			refs := replace(t.refs(r), from, targets)
			if len(refs) == 1 {
				t.set(r, entity.Alias, refs)
			} else {
				t.set(r, entity.Ambiguous, refs)
			}
		}
	}
}

// detach removes id from every dependent, re-settling each by what remains.
func (t *txn) detach(id int64) {
	for _, r := range t.referrers(id) {
		refs := replace(t.refs(r), id, nil)
		switch len(refs) {
		case 0:
			t.set(r, entity.Canonical, nil)
		case 1:
			t.set(r, entity.Alias, refs)
		default:
			t.set(r, entity.Ambiguous, refs)
		}
	}
}

func (t *txn) validate() error {
	ids := make([]int64, 0, len(t.staged))
	for id := range t.staged {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	classOf := func(id int64) (entity.Classification, bool) {
		c := t.class(id)
		return c, c != ""
	}
	for _, id := range ids {
		s := t.staged[id]
		if err := checkNode(id, s.class, s.refs, len(t.referrers(id)), classOf); err != nil {
			return violation(t.op, id, "%v", err)
		}
	}
	return nil
}

func (t *txn) changes() []Change {
	ids := make([]int64, 0, len(t.staged))
	for id := range t.staged {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]Change, 0, len(ids))
	for _, id := range ids {
		s := t.staged[id]
		n := t.g.nodes[id]
		moved := s.class != n.class || !slices.Equal(s.refs, n.refs)
		if !moved && !s.reviewed && s.isGroup == n.isGroup {
			continue
		}
		out = append(out, Change{
			EntityID:       id,
			Previous:       n.class,
			Classification: s.class,
			References:     slices.Clone(s.refs),
			IsGroup:        s.isGroup,
			Reclassified:   moved,
			Reviewed:       s.reviewed,
		})
	}
	return out
}

// checkNode holds the reference invariants for one node.
func checkNode(id int64, class entity.Classification, refs []int64, incoming int, classOf func(int64) (entity.Classification, bool)) error {
	switch class {
	case entity.Canonical:
		if len(refs) > 0 {
			return fmt.Errorf("canonical with %d outgoing references", len(refs))
		}
	case entity.Alias:
		if len(refs) != 1 {
			return fmt.Errorf("alias with %d references", len(refs))
		}
		if incoming > 0 {
			return fmt.Errorf("alias referenced by %d entities", incoming)
		}
	case entity.Ambiguous:
		if len(refs) < 2 {
			return fmt.Errorf("ambiguous with %d references", len(refs))
		}
		if incoming > 0 {
			return fmt.Errorf("ambiguous referenced by %d entities", incoming)
		}
	case entity.NotAnEntity:
		if len(refs) > 0 || incoming > 0 {
			return errors.New("not an entity but still linked")
		}
	default:
		return fmt.Errorf("unknown classification %q", class)
	}

	for _, target := range refs {
		if target == id {
			return errors.New("references itself")
		}
		c, ok := classOf(target)
		if !ok {
			return fmt.Errorf("target %d does not exist", target)
		}
		if c != entity.Canonical {
			return fmt.Errorf("target %d is %s", target, c)
		}
	}
	return nil
}

// replace swaps old for with inside refs, returning a sorted distinct set.
func replace(refs []int64, old int64, with []int64) []int64 {
	out := make([]int64, 0, len(refs)+len(with))
	for _, r := range refs {
		if r != old {
			out = append(out, r)
		}
	}
	return sortedSet(append(out, with...))
}

// Package resolution keeps the canonical-reference graph and applies
// classification decisions to it.
//
// Every public mutation is one transaction: the change is staged over the
// graph together with its cascade, every touched node is validated, the
// change set is handed to the Committer, and only then is the in-memory
// graph updated. A failure at any step leaves both untouched.
package resolution

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/kennylajara/news/pkg/entity"
	"github.com/kennylajara/news/pkg/logger"
)

// DefaultMinConfidence is the lowest confidence applied without review.
const DefaultMinConfidence = 0.7

// ChangeSet is everything one operation changed. Committers persist it
// atomically and queue the articles mentioning reclassified entities.
type ChangeSet struct {
	Op       string
	EntityID int64
	Changes  []Change
	At       time.Time
}

// Suggestion is a decision kept for human review instead of applied.
type Suggestion struct {
	EntityID  int64
	Decision  Decision
	CreatedAt time.Time
}

// Committer persists change sets. A returned error aborts the operation.
type Committer interface {
	CommitClassification(ctx context.Context, cs ChangeSet) error
	RecordSuggestion(ctx context.Context, s Suggestion) error
}

// Options configures an Engine.
type Options struct {
	MinConfidence float64
	Now           func() time.Time
}

// Outcome reports what an operation did.
type Outcome struct {
	Op             string
	EntityID       int64
	Previous       entity.Classification
	Classification entity.Classification
	Affected       []int64 // reclassified entities, sorted
	Applied        bool
	Suggested      bool
}

// Engine is the classification state machine. One mutex serializes all
// writers since cascades reach neighbors several hops away.
type Engine struct {
	mu        sync.RWMutex
	g         *Graph
	committer Committer
	opts      Options
}

// NewEngine wraps a hydrated graph. A nil committer keeps changes in memory.
func NewEngine(g *Graph, committer Committer, opts Options) *Engine {
	if g == nil {
		g = NewGraph()
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = DefaultMinConfidence
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{g: g, committer: committer, opts: opts}
}

// Track adds a newly persisted entity. Known entities are left alone.
func (e *Engine) Track(ent entity.Entity) error {
	if !ent.Persisted() {
		return identity("track", ent.ID, "not persisted")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.g.Has(ent.ID) {
		ent.Classification = entity.Canonical
		e.g.Add(ent)
	}
	return nil
}

// Node returns the current view of an entity.
func (e *Engine) Node(id int64) (Node, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.g.Node(id)
}

// Referrers returns the entities referencing id.
func (e *Engine) Referrers(id int64) []int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.g.Referrers(id)
}

// Check validates the whole graph.
func (e *Engine) Check() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.g.Check()
}

// SetAsCanonical keeps id canonical. It fails when id still references
// another entity.
func (e *Engine) SetAsCanonical(ctx context.Context, id int64) (Outcome, error) {
	return e.run(ctx, "set_as_canonical", id, false, func(t *txn) error {
		return stageCanonical(t, id)
	})
}

// SetAsAlias points id at a canonical. When id was canonical its dependents
// are moved onto the new canonical in the same transaction.
func (e *Engine) SetAsAlias(ctx context.Context, id, canonicalID int64) (Outcome, error) {
	return e.run(ctx, "set_as_alias", id, false, func(t *txn) error {
		return stageAlias(t, id, canonicalID)
	})
}

// SetAsAmbiguous adds canonicals to id's reference set. Prior references are
// kept; the union must hold at least two canonicals.
func (e *Engine) SetAsAmbiguous(ctx context.Context, id int64, canonicalIDs []int64) (Outcome, error) {
	return e.run(ctx, "set_as_ambiguous", id, false, func(t *txn) error {
		return stageAmbiguous(t, id, canonicalIDs)
	})
}

// SetAsNotEntity clears every edge of id. Dependents lose id from their
// reference sets. The state is terminal.
func (e *Engine) SetAsNotEntity(ctx context.Context, id int64) (Outcome, error) {
	return e.run(ctx, "set_as_not_entity", id, false, func(t *txn) error {
		return stageNotEntity(t, id)
	})
}

// MarkReviewed records that id was reviewed without changing it.
func (e *Engine) MarkReviewed(ctx context.Context, id int64) (Outcome, error) {
	return e.run(ctx, "mark_reviewed", id, true, func(*txn) error { return nil })
}

// Apply executes a decision for id and marks it reviewed. Decisions below
// the confidence floor are stored as suggestions instead.
func (e *Engine) Apply(ctx context.Context, id int64, d Decision) (Outcome, error) {
	if d.Action != ActionNone && d.Confidence < e.opts.MinConfidence {
		return e.suggest(ctx, id, d)
	}

	switch d.Action {
	case ActionNone:
		return e.run(ctx, "mark_reviewed", id, true, func(*txn) error { return nil })
	case ActionCanonical:
		return e.run(ctx, "set_as_canonical", id, true, func(t *txn) error {
			return stageCanonical(t, id)
		})
	case ActionAlias:
		if len(d.Targets) != 1 {
			return Outcome{}, violation("set_as_alias", id, "alias decision with %d targets", len(d.Targets))
		}
		return e.run(ctx, "set_as_alias", id, true, func(t *txn) error {
			return stageAlias(t, id, d.Targets[0])
		})
	case ActionAmbiguous:
		return e.run(ctx, "set_as_ambiguous", id, true, func(t *txn) error {
			return stageAmbiguous(t, id, d.Targets)
		})
	case ActionNotEntity:
		return e.run(ctx, "set_as_not_entity", id, true, func(t *txn) error {
			return stageNotEntity(t, id)
		})
	}
	return Outcome{}, fmt.Errorf("apply(%d): unknown action %q", id, d.Action)
}

// Classify asks decider about one pair and applies the result.
func (e *Engine) Classify(ctx context.Context, evaluatedID, candidateID int64, decider Decider) (Outcome, error) {
	pair, err := e.pair(evaluatedID, candidateID)
	if err != nil {
		return Outcome{}, err
	}
	d, err := decider.Decide(ctx, pair)
	if err != nil {
		return Outcome{}, fmt.Errorf("classify(%d, %d): decide: %w", evaluatedID, candidateID, err)
	}
	return e.Apply(ctx, evaluatedID, d)
}

// ReviewResult summarizes a Review call.
type ReviewResult struct {
	EntityID       int64
	Classification entity.Classification
	Outcomes       []Outcome
	Skipped        int
}

// Review walks candidates in order, applying every actionable decision, and
// finally marks the entity reviewed. Decisions that would break an
// invariant are logged and skipped.
func (e *Engine) Review(ctx context.Context, id int64, candidateIDs []int64, decider Decider) (ReviewResult, error) {
	res := ReviewResult{EntityID: id}
	if _, ok := e.Node(id); !ok || id <= 0 {
		return res, identity("review", id, "unknown entity")
	}
	for _, cid := range candidateIDs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		pair, err := e.pair(id, cid)
		if errors.Is(err, ErrIdentity) {
			logger.Warn("[Resolution] Skipping unknown candidate", "entity", id, "candidate", cid)
			res.Skipped++
			continue
		}
		if err != nil {
			return res, err
		}

		d, err := decider.Decide(ctx, pair)
		if err != nil {
			return res, fmt.Errorf("review(%d): decide on %d: %w", id, cid, err)
		}
		if d.Action == ActionNone {
			continue
		}

		out, err := e.Apply(ctx, id, d)
		if errors.Is(err, ErrInvariantViolation) {
			logger.Warn("[Resolution] Decision rejected", "entity", id, "candidate", cid, "action", d.Action, "err", err)
			res.Skipped++
			continue
		}
		if err != nil {
			return res, err
		}
		res.Outcomes = append(res.Outcomes, out)
	}

	out, err := e.MarkReviewed(ctx, id)
	if err != nil {
		return res, err
	}
	res.Classification = out.Classification
	return res, nil
}

func (e *Engine) pair(evaluatedID, candidateID int64) (Pair, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ev, ok := e.g.Node(evaluatedID)
	if !ok || evaluatedID <= 0 {
		return Pair{}, identity("classify", evaluatedID, "unknown entity")
	}
	cand, ok := e.g.Node(candidateID)
	if !ok || candidateID <= 0 {
		return Pair{}, identity("classify", candidateID, "unknown candidate")
	}
	return Pair{Evaluated: ev, Candidate: cand}, nil
}

func (e *Engine) suggest(ctx context.Context, id int64, d Decision) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.g.Node(id)
	if !ok || id <= 0 {
		return Outcome{}, identity("suggest", id, "unknown entity")
	}
	s := Suggestion{EntityID: id, Decision: d, CreatedAt: e.opts.Now()}
	if e.committer != nil {
		if err := e.committer.RecordSuggestion(ctx, s); err != nil {
			return Outcome{}, fmt.Errorf("suggest(%d): %w", id, err)
		}
	}
	logger.Info("[Resolution] Low confidence decision stored as suggestion",
		"entity", id, "action", d.Action, "confidence", d.Confidence)
	return Outcome{
		Op:             "suggest",
		EntityID:       id,
		Previous:       n.Classification,
		Classification: n.Classification,
		Suggested:      true,
	}, nil
}

func (e *Engine) run(ctx context.Context, op string, id int64, review bool, stageFn func(*txn) error) (Outcome, error) {
	if id <= 0 {
		return Outcome{}, identity(op, id, "not persisted")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.g.Has(id) {
		return Outcome{}, identity(op, id, "unknown entity")
	}
	prev := e.g.nodes[id].class

	t := newTxn(e.g, op)
	if err := stageFn(t); err != nil {
		return Outcome{}, err
	}
	if review {
		t.review(id)
	}
	if err := t.validate(); err != nil {
		return Outcome{}, err
	}

	changes := t.changes()
	out := Outcome{Op: op, EntityID: id, Previous: prev, Classification: t.class(id), Applied: true}
	if len(changes) == 0 {
		return out, nil
	}

	now := e.opts.Now()
	if e.committer != nil {
		cs := ChangeSet{Op: op, EntityID: id, Changes: changes, At: now}
		if err := e.committer.CommitClassification(ctx, cs); err != nil {
			return Outcome{}, fmt.Errorf("%s(%d): commit: %w", op, id, err)
		}
	}

	for _, c := range changes {
		if c.Reclassified {
			e.g.set(c.EntityID, c.Classification, c.References, c.IsGroup)
			out.Affected = append(out.Affected, c.EntityID)
		} else {
			e.g.nodes[c.EntityID].isGroup = c.IsGroup
		}
		if c.Reviewed {
			at := now
			e.g.nodes[c.EntityID].reviewedAt = &at
		}
	}
	slices.Sort(out.Affected)

	if len(out.Affected) > 0 {
		logger.Debug("[Resolution] Classification committed",
			"op", op, "entity", id, "from", prev, "to", out.Classification, "affected", len(out.Affected))
	}
	return out, nil
}

func requireNode(t *txn, op string, id int64) error {
	if id <= 0 || !t.exists(id) {
		return identity(op, id, "unknown entity")
	}
	return nil
}

func stageCanonical(t *txn, id int64) error {
	switch t.class(id) {
	case entity.NotAnEntity:
		return violation(t.op, id, "not an entity is terminal")
	case entity.Canonical:
		return nil
	}
	if refs := t.refs(id); len(refs) > 0 {
		return violation(t.op, id, "has %d outgoing references", len(refs))
	}
	t.set(id, entity.Canonical, nil)
	return nil
}

func stageAlias(t *txn, id, target int64) error {
	if err := requireNode(t, t.op, target); err != nil {
		return err
	}
	if target == id {
		return violation(t.op, id, "cannot reference itself")
	}
	prev := t.class(id)
	if prev == entity.NotAnEntity {
		return violation(t.op, id, "not an entity is terminal")
	}
	if c := t.class(target); c != entity.Canonical {
		return violation(t.op, id, "target %d is %s", target, c)
	}

	if prev == entity.Canonical {
		t.redirect(id, []int64{target})
	}
	t.set(id, entity.Alias, []int64{target})
	return nil
}

func stageAmbiguous(t *txn, id int64, targets []int64) error {
	targets = sortedSet(targets)
	for _, target := range targets {
		if err := requireNode(t, t.op, target); err != nil {
			return err
		}
		if target == id {
			return violation(t.op, id, "cannot reference itself")
		}
		if c := t.class(target); c != entity.Canonical {
			return violation(t.op, id, "target %d is %s", target, c)
		}
	}

	prev := t.class(id)
	if prev == entity.NotAnEntity {
		return violation(t.op, id, "not an entity is terminal")
	}
	final := targets
	if prev == entity.Alias || prev == entity.Ambiguous {
		final = sortedSet(append(slices.Clone(t.refs(id)), targets...))
	}
	if len(final) < 2 {
		return violation(t.op, id, "needs at least 2 distinct canonicals, got %d", len(final))
	}

	if prev == entity.Canonical {
		t.redirect(id, final)
	}
	t.set(id, entity.Ambiguous, final)
	return nil
}

func stageNotEntity(t *txn, id int64) error {
	if t.class(id) == entity.NotAnEntity {
		return nil
	}
	t.detach(id)
	t.set(id, entity.NotAnEntity, nil)
	return nil
}

// Package pipeline wires the store, the token index, the candidate
// matchers, the classification engine, the relevance worker and the
// ranker into one service.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/kennylajara/news/internal/config"
	"github.com/kennylajara/news/internal/store"
	"github.com/kennylajara/news/pkg/candidates"
	"github.com/kennylajara/news/pkg/entity"
	"github.com/kennylajara/news/pkg/logger"
	"github.com/kennylajara/news/pkg/pagerank"
	"github.com/kennylajara/news/pkg/relevance"
	"github.com/kennylajara/news/pkg/resolution"
	"github.com/kennylajara/news/pkg/tokenindex"
)

// Service is the engine as a whole. Its in-memory state is hydrated from
// the store once and kept in sync by every operation.
type Service struct {
	cfg     config.Config
	store   *store.SQLiteStore
	index   *tokenindex.Index
	lsh     *candidates.LSHMatcher // nil when disabled
	finder  candidates.Finder
	engine  *resolution.Engine
	worker  *relevance.Worker
	decider resolution.Decider
}

// New hydrates a service from st.
func New(ctx context.Context, cfg config.Config, st *store.SQLiteStore) (*Service, error) {
	stop := tokenindex.NewStopwords(cfg.Stopwords.Extended)
	for _, w := range cfg.Stopwords.Extra {
		stop.Add(w)
	}
	analyzer := tokenindex.NewAnalyzer(stop)
	st.SetAnalyzer(analyzer)

	s := &Service{
		cfg:     cfg,
		store:   st,
		index:   tokenindex.NewIndex(analyzer),
		decider: resolution.RulePolicy{},
	}

	g, err := s.hydrate(ctx)
	if err != nil {
		return nil, err
	}
	s.engine = resolution.NewEngine(g, committer{s}, resolution.Options{
		MinConfidence: cfg.Resolution.MinConfidence,
	})

	heuristic := candidates.NewHeuristicMatcher(s.index, s.selectable)
	s.finder = heuristic
	if cfg.Candidates.UseLSH {
		s.lsh, err = candidates.NewLSHMatcher(s.index, cfg.Candidates.LSH)
		if err != nil {
			return nil, fmt.Errorf("lsh: %w", err)
		}
		for _, id := range g.IDs() {
			s.syncLSH(id)
		}
		s.finder = candidates.Chain{heuristic, s.lsh}
	}

	s.worker = relevance.NewWorker(st, relevance.IndexView{Graph: s.engine, Index: s.index}, cfg.Relevance)
	return s, nil
}

// hydrate loads the token index and the reference graph.
func (s *Service) hydrate(ctx context.Context) (*resolution.Graph, error) {
	ents, err := s.store.LoadEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}
	refs, err := s.store.LoadReferences(ctx)
	if err != nil {
		return nil, fmt.Errorf("load references: %w", err)
	}
	tokens, err := s.store.LoadTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}

	g := resolution.NewGraph()
	for _, e := range ents {
		g.Add(e)
		if rows, ok := tokens[e.ID]; ok {
			s.index.Load(e, rows)
			continue
		}
		rows := s.index.Replace(e)
		if err := s.store.ReplaceEntityTokens(ctx, e.ID, rows); err != nil {
			return nil, fmt.Errorf("tokenize entity %d: %w", e.ID, err)
		}
	}
	for _, r := range refs {
		if !g.AddReference(r) {
			logger.Warn("[Pipeline] Dropping reference to unknown entity",
				"entity", r.EntityID, "canonical", r.CanonicalID)
		}
	}
	if err := g.Check(); err != nil {
		logger.Warn("[Pipeline] Loaded graph is inconsistent", "error", err)
	}
	logger.Info("[Pipeline] Hydrated", "entities", len(ents), "references", len(refs))
	return g, nil
}

// selectable hides entities that are not entities from discovery.
func (s *Service) selectable(e tokenindex.Entry) bool {
	n, ok := s.engine.Node(e.ID)
	return ok && n.Classification != entity.NotAnEntity
}

// syncLSH mirrors one entity's classification into the LSH buckets.
func (s *Service) syncLSH(id int64) {
	if s.lsh == nil {
		return
	}
	entry, ok := s.index.Entry(id)
	n, tracked := s.engine.Node(id)
	if !ok || !tracked {
		s.lsh.Remove(id)
		return
	}
	s.lsh.Upsert(entity.Entity{
		ID:             id,
		Name:           entry.Name,
		NameLength:     entry.NameLength,
		Type:           entry.Type,
		Classification: n.Classification,
	})
}

// SetDecider replaces the rule policy used by Review and Classify.
func (s *Service) SetDecider(d resolution.Decider) { s.decider = d }

// Engine exposes the classification engine for direct transitions.
func (s *Service) Engine() *resolution.Engine { return s.engine }

// Store exposes the underlying store.
func (s *Service) Store() *store.SQLiteStore { return s.store }

// Ingest stores an article and indexes the entities it introduced.
func (s *Service) Ingest(ctx context.Context, req store.IngestRequest) (store.IngestResult, error) {
	res, err := s.store.IngestArticle(ctx, req)
	if err != nil {
		return res, err
	}
	for _, e := range res.Created {
		s.index.Replace(e)
		if err := s.engine.Track(e); err != nil {
			return res, err
		}
		s.syncLSH(e.ID)
	}
	logger.Debug("[Pipeline] Article ingested",
		"article", res.ArticleID, "entities", len(res.EntityIDs), "new", len(res.Created))
	return res, nil
}

// Candidates lists possible matches for one entity.
func (s *Service) Candidates(id int64) ([]candidates.Candidate, error) {
	return s.finder.FindCandidates(id, s.cfg.Candidates.Max)
}

// Discover lists candidates for many entities in parallel.
func (s *Service) Discover(ctx context.Context, ids []int64) (map[int64][]candidates.Candidate, error) {
	return candidates.Discover(ctx, s.finder, ids, s.cfg.Candidates.Max, s.cfg.Candidates.Workers)
}

// Review discovers candidates for id and runs them through the decider.
func (s *Service) Review(ctx context.Context, id int64) (resolution.ReviewResult, error) {
	found, err := s.Candidates(id)
	if err != nil && !errors.Is(err, candidates.ErrUnknownEntity) {
		return resolution.ReviewResult{}, err
	}
	ids := make([]int64, 0, len(found))
	for _, c := range found {
		ids = append(ids, c.ID)
	}
	return s.engine.Review(ctx, id, ids, s.decider)
}

// ReviewPending reviews up to limit entities never reviewed before, in id
// order. It returns one result per reviewed entity.
func (s *Service) ReviewPending(ctx context.Context, limit int) ([]resolution.ReviewResult, error) {
	ents, err := s.store.LoadEntities(ctx)
	if err != nil {
		return nil, err
	}
	var out []resolution.ReviewResult
	for _, e := range ents {
		if limit > 0 && len(out) >= limit {
			break
		}
		if e.ReviewedAt != nil || e.Classification == entity.NotAnEntity {
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := s.Review(ctx, e.ID)
		if err != nil {
			return out, fmt.Errorf("review %d: %w", e.ID, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// Classify decides one pair with the configured decider.
func (s *Service) Classify(ctx context.Context, evaluatedID, candidateID int64) (resolution.Outcome, error) {
	return s.engine.Classify(ctx, evaluatedID, candidateID, s.decider)
}

// Apply runs an externally produced decision for id.
func (s *Service) Apply(ctx context.Context, id int64, d resolution.Decision) (resolution.Outcome, error) {
	return s.engine.Apply(ctx, id, d)
}

// Allocate drains the relevance queue.
func (s *Service) Allocate(ctx context.Context) (int, error) {
	return s.worker.Drain(ctx, s.cfg.QueueBatch)
}

// AllocateArticle recomputes one article immediately.
func (s *Service) AllocateArticle(ctx context.Context, articleID int64) (relevance.Allocation, error) {
	return s.worker.AllocateArticle(ctx, articleID)
}

// Rank runs the global ranker over the stored corpus and saves the result.
func (s *Service) Rank(ctx context.Context) (*pagerank.Result, error) {
	snap, err := s.store.LoadCorpusSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	previous, err := s.store.LoadPreviousScores(ctx)
	if err != nil {
		return nil, fmt.Errorf("load previous scores: %w", err)
	}
	res, err := pagerank.Rank(ctx, snap, s.cfg.PageRank, previous)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveRankResults(ctx, res); err != nil {
		return nil, fmt.Errorf("save rank results: %w", err)
	}
	return res, nil
}

// committer persists change sets and keeps the LSH buckets in step. The
// engine applies a change set to its graph only after this returns.
type committer struct{ s *Service }

func (c committer) CommitClassification(ctx context.Context, cs resolution.ChangeSet) error {
	if err := c.s.store.CommitClassification(ctx, cs); err != nil {
		return err
	}
	if c.s.lsh == nil {
		return nil
	}
	for _, ch := range cs.Changes {
		entry, ok := c.s.index.Entry(ch.EntityID)
		if !ok {
			continue
		}
		c.s.lsh.Upsert(entity.Entity{
			ID:             ch.EntityID,
			Name:           entry.Name,
			NameLength:     entry.NameLength,
			Type:           entry.Type,
			Classification: ch.Classification,
		})
	}
	return nil
}

func (c committer) RecordSuggestion(ctx context.Context, sg resolution.Suggestion) error {
	return c.s.store.RecordSuggestion(ctx, sg)
}

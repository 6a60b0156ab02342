package relevance

import (
	"context"
	"errors"
	"fmt"

	"github.com/kennylajara/news/pkg/entity"
	"github.com/kennylajara/news/pkg/logger"
	"github.com/kennylajara/news/pkg/resolution"
	"github.com/kennylajara/news/pkg/tokenindex"
)

// ErrArticleNotFound is returned by a Store for a queued article that no
// longer exists. The store must drop it from the queue before returning.
var ErrArticleNotFound = errors.New("article not found")

// Store is the persistence the worker needs. ReplaceArticleMentions must
// decrement article counts of the old rows before deleting them, insert
// the new rows, count them, and clear the article from the queue in one
// transaction.
type Store interface {
	DirtyArticles(ctx context.Context, limit int) ([]int64, error)
	AllocationInput(ctx context.Context, articleID int64) (Input, error)
	ReplaceArticleMentions(ctx context.Context, articleID int64, rows []entity.Mention) error
}

// Graph is the read side of the classification engine.
type Graph interface {
	Node(id int64) (resolution.Node, bool)
	Referrers(id int64) []int64
}

// IndexView combines the reference graph with names from the token index.
type IndexView struct {
	Graph
	Index *tokenindex.Index
}

// Name implements View.
func (v IndexView) Name(id int64) (string, bool) {
	e, ok := v.Index.Entry(id)
	if !ok {
		return "", false
	}
	return e.Name, true
}

// Worker drains the recompute queue one article at a time, so two passes
// never interleave count updates for the same entity.
type Worker struct {
	store Store
	view  View
	cfg   Config
}

// NewWorker creates a queue worker.
func NewWorker(store Store, view View, cfg Config) *Worker {
	return &Worker{store: store, view: view, cfg: cfg}
}

// AllocateArticle recomputes and stores the rows of one article.
func (w *Worker) AllocateArticle(ctx context.Context, articleID int64) (Allocation, error) {
	in, err := w.store.AllocationInput(ctx, articleID)
	if err != nil {
		return Allocation{}, fmt.Errorf("allocate article %d: %w", articleID, err)
	}
	alloc := Allocate(in, w.view, w.cfg)
	if err := w.store.ReplaceArticleMentions(ctx, articleID, alloc.Rows); err != nil {
		return Allocation{}, fmt.Errorf("allocate article %d: %w", articleID, err)
	}
	if len(alloc.Inconsistent) > 0 {
		logger.Warn("[Relevance] Article allocated with inconsistent entities",
			"article", articleID, "entities", alloc.Inconsistent)
	}
	return alloc, nil
}

// Drain processes queued articles in batches until the queue is empty or
// ctx is done. It returns how many articles were allocated.
func (w *Worker) Drain(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}
	done := 0
	for {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		ids, err := w.store.DirtyArticles(ctx, batch)
		if err != nil {
			return done, fmt.Errorf("drain: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return done, err
			}
			if _, err := w.AllocateArticle(ctx, id); err != nil {
				if errors.Is(err, ErrArticleNotFound) {
					logger.Warn("[Relevance] Skipping missing article", "article", id)
					continue
				}
				return done, err
			}
			done++
		}
	}
	if done > 0 {
		logger.Info("[Relevance] Queue drained", "articles", done)
	}
	return done, nil
}

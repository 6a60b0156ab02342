package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kennylajara/news/pkg/entity"
	"github.com/kennylajara/news/pkg/pagerank"
)

// =============================================================================
// Ranking
// =============================================================================

// LoadCorpusSnapshot reads every contributing (relevance > 0) row of a
// CANONICAL entity, grouped by article. Type filtering is left to the ranker.
func (s *SQLiteStore) LoadCorpusSnapshot(ctx context.Context) (pagerank.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.published_at, e.id, e.type, m.relevance
		FROM article_entity_mentions m
		JOIN articles a ON a.id = m.article_id
		JOIN entities e ON e.id = m.entity_id
		WHERE m.relevance > 0 AND e.classification = ?
		ORDER BY a.id, e.id
	`, string(entity.Canonical))
	if err != nil {
		return pagerank.Snapshot{}, err
	}
	defer rows.Close()

	snap := pagerank.Snapshot{Now: s.now()}
	for rows.Next() {
		var (
			articleID, published int64
			o                    pagerank.Occurrence
			typ                  string
		)
		if err := rows.Scan(&articleID, &published, &o.EntityID, &typ, &o.Relevance); err != nil {
			return pagerank.Snapshot{}, err
		}
		o.Type = entity.Type(typ)
		n := len(snap.Articles)
		if n == 0 || snap.Articles[n-1].ArticleID != articleID {
			snap.Articles = append(snap.Articles, pagerank.ArticleEntities{
				ArticleID:   articleID,
				PublishedAt: time.Unix(published, 0).UTC(),
			})
			n++
		}
		snap.Articles[n-1].Entities = append(snap.Articles[n-1].Entities, o)
	}
	return snap, rows.Err()
}

// LoadPreviousScores returns the raw scores of the last run for warm start.
func (s *SQLiteStore) LoadPreviousScores(ctx context.Context) (map[int64]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pagerank FROM entities WHERE last_rank_calculated_at IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]float64)
	for rows.Next() {
		var (
			id    int64
			score float64
		)
		if err := rows.Scan(&id, &score); err != nil {
			return nil, err
		}
		out[id] = score
	}
	return out, rows.Err()
}

// SaveRankResults writes scores and metrics of one run and records the run.
// Entities absent from the run keep their previous values.
func (s *SQLiteStore) SaveRankResults(ctx context.Context, res *pagerank.Result) error {
	stats, err := marshalJSON(res.Stats)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now().Unix()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for id, sc := range res.Scores {
			m := res.Metrics[id]
			if _, err := tx.ExecContext(ctx, `
				UPDATE entities
				SET pagerank = ?, global_relevance = ?, avg_local_relevance = ?,
				    diversity = ?, last_rank_calculated_at = ?
				WHERE id = ?
			`, sc.Raw, sc.Normalized, m.AvgRelevance, m.Diversity, at, id); err != nil {
				return fmt.Errorf("save score of %d: %w", id, err)
			}
		}
		st := res.Stats
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rank_runs
				(id, started_at, duration_ms, iterations, converged, timed_out, nodes, edges, density, stats)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, st.RunID, st.StartedAt.Unix(), st.Duration.Milliseconds(), st.Iterations,
			boolToInt(st.Converged), boolToInt(st.TimedOut), st.Nodes, st.Edges, st.Density, stats)
		if err != nil {
			return fmt.Errorf("record run %s: %w", st.RunID, err)
		}
		return nil
	})
}

// ListRankRuns returns the most recent runs first.
func (s *SQLiteStore) ListRankRuns(ctx context.Context, limit int) ([]RankRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, duration_ms, iterations, converged, timed_out, nodes, edges, density, stats
		FROM rank_runs ORDER BY started_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RankRun
	for rows.Next() {
		var (
			r                   RankRun
			started             int64
			converged, timedOut int
		)
		if err := rows.Scan(&r.ID, &started, &r.DurationMS, &r.Iterations, &converged, &timedOut,
			&r.Nodes, &r.Edges, &r.Density, &r.Stats); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(started, 0).UTC()
		r.Converged = converged == 1
		r.TimedOut = timedOut == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

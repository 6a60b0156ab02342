package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kennylajara/news/pkg/entity"
	"github.com/kennylajara/news/pkg/relevance"
)

// =============================================================================
// Articles
// =============================================================================

// IngestArticle stores an article with its recognizer output. Entities seen
// for the first time are created as CANONICAL with their token rows. Each
// mentioned entity gets one DETECTED row and the article is queued for
// allocation, all in one transaction.
func (s *SQLiteStore) IngestArticle(ctx context.Context, req IngestRequest) (IngestResult, error) {
	type detected struct {
		id        int64
		mentions  int
		sentences []string
		indices   []int
	}

	hints, err := marshalJSON(req.Clusters)
	if err != nil {
		return IngestResult{}, err
	}
	published := req.Article.PublishedAt
	if published.IsZero() {
		published = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result IngestResult
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var url any
		if req.URL != "" {
			url = req.URL
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO articles (url, title, subtitle, body, published_at, cluster_hints, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, url, req.Article.Title, req.Article.Subtitle, req.Article.Body, published.Unix(), hints, s.now().Unix())
		if err != nil {
			return fmt.Errorf("insert article: %w", err)
		}
		if result.ArticleID, err = res.LastInsertId(); err != nil {
			return err
		}

		byID := make(map[int64]*detected)
		var order []int64
		for _, m := range req.Mentions {
			name := strings.TrimSpace(m.Text)
			if name == "" {
				continue
			}
			typ, err := entity.ParseType(m.Type)
			if err != nil {
				return err
			}
			e, created, err := s.ensureEntity(ctx, tx, name, typ)
			if err != nil {
				return err
			}
			if created {
				result.Created = append(result.Created, e)
			}
			d, ok := byID[e.ID]
			if !ok {
				d = &detected{id: e.ID}
				byID[e.ID] = d
				order = append(order, e.ID)
			}
			d.mentions++
			if m.Sentence != "" && !slices.Contains(d.sentences, m.Sentence) {
				d.sentences = append(d.sentences, m.Sentence)
			}
			if !slices.Contains(d.indices, m.SentenceIndex) {
				d.indices = append(d.indices, m.SentenceIndex)
			}
		}

		for _, id := range order {
			d := byID[id]
			row := entity.Mention{
				ArticleID:        result.ArticleID,
				EntityID:         d.id,
				Mentions:         d.mentions,
				Origin:           entity.OriginDetected,
				ContextSentences: d.sentences,
				SentenceIndices:  d.indices,
			}
			if err := insertMention(ctx, tx, row); err != nil {
				return fmt.Errorf("insert mention of %d: %w", d.id, err)
			}
		}
		result.EntityIDs = order
		return enqueue(ctx, tx, result.ArticleID, "ingest", s.now())
	})
	if err != nil {
		return IngestResult{}, err
	}
	return result, nil
}

// GetArticle retrieves an article by id. Returns nil, nil when missing.
func (s *SQLiteStore) GetArticle(ctx context.Context, id int64) (*StoredArticle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, err := s.getArticle(ctx, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

const articleColumns = `id, COALESCE(url, ''), title, subtitle, body, published_at, cluster_hints`

func scanArticle(r rowScanner) (StoredArticle, error) {
	var (
		a         StoredArticle
		published int64
		hints     sql.NullString
	)
	if err := r.Scan(&a.ID, &a.URL, &a.Title, &a.Subtitle, &a.Body, &published, &hints); err != nil {
		return a, err
	}
	a.PublishedAt = time.Unix(published, 0).UTC()
	if err := unmarshalJSON(hints, &a.Clusters); err != nil {
		return a, fmt.Errorf("article %d cluster hints: %w", a.ID, err)
	}
	return a, nil
}

func (s *SQLiteStore) getArticle(ctx context.Context, id int64) (StoredArticle, error) {
	return scanArticle(s.db.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM articles WHERE id = ?`, id))
}

func (s *SQLiteStore) loadArticles(ctx context.Context) ([]StoredArticle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+articleColumns+` FROM articles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredArticle
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// Mentions and relevance queue
// =============================================================================

// ArticleMentions returns the allocation rows of one article, most relevant
// first.
func (s *SQLiteStore) ArticleMentions(ctx context.Context, articleID int64) ([]entity.Mention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadMentions(ctx, articleID)
}

// loadMentions returns rows of one article, or of all articles when
// articleID is zero.
func (s *SQLiteStore) loadMentions(ctx context.Context, articleID int64) ([]entity.Mention, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT article_id, entity_id, mentions, relevance, origin, context_sentences, sentence_indices
		FROM article_entity_mentions
		WHERE ? = 0 OR article_id = ?
		ORDER BY article_id, relevance DESC, entity_id
	`, articleID, articleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Mention
	for rows.Next() {
		var (
			m                  entity.Mention
			origin             string
			sentences, indices sql.NullString
		)
		if err := rows.Scan(&m.ArticleID, &m.EntityID, &m.Mentions, &m.Relevance, &origin, &sentences, &indices); err != nil {
			return nil, err
		}
		m.Origin = entity.Origin(origin)
		if err := unmarshalJSON(sentences, &m.ContextSentences); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(indices, &m.SentenceIndices); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func insertMention(ctx context.Context, tx *sql.Tx, m entity.Mention) error {
	sentences, err := marshalJSON(m.ContextSentences)
	if err != nil {
		return err
	}
	indices, err := marshalJSON(m.SentenceIndices)
	if err != nil {
		return err
	}
	origin := m.Origin
	if origin == "" {
		origin = entity.OriginDetected
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO article_entity_mentions
			(article_id, entity_id, mentions, relevance, origin, context_sentences, sentence_indices)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ArticleID, m.EntityID, m.Mentions, m.Relevance, string(origin), sentences, indices)
	return err
}

func enqueue(ctx context.Context, tx *sql.Tx, articleID int64, reason string, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO relevance_queue (article_id, reason, enqueued_at) VALUES (?, ?, ?)`,
		articleID, reason, at.Unix())
	return err
}

// Enqueue marks an article for re-allocation.
func (s *SQLiteStore) Enqueue(ctx context.Context, articleID int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return enqueue(ctx, tx, articleID, reason, s.now())
	})
}

// DirtyArticles returns up to limit queued article ids, oldest first.
func (s *SQLiteStore) DirtyArticles(ctx context.Context, limit int) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT article_id FROM relevance_queue ORDER BY enqueued_at, article_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AllocationInput assembles the article text, cluster hints and DETECTED
// rows of one article. A queued article that no longer exists is dropped
// from the queue and reported as ErrArticleNotFound.
func (s *SQLiteStore) AllocationInput(ctx context.Context, articleID int64) (relevance.Input, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.getArticle(ctx, articleID)
	if err == sql.ErrNoRows {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM relevance_queue WHERE article_id = ?`, articleID); err != nil {
			return relevance.Input{}, fmt.Errorf("dequeue missing article %d: %w", articleID, err)
		}
		return relevance.Input{}, fmt.Errorf("article %d: %w", articleID, ErrArticleNotFound)
	}
	if err != nil {
		return relevance.Input{}, err
	}

	in := relevance.Input{Article: a.Article}
	if len(a.Clusters) > 0 {
		in.Clusters = make(map[int]relevance.Category, len(a.Clusters))
		for idx, c := range a.Clusters {
			in.Clusters[idx] = relevance.Category(c)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.entity_id, e.name, m.mentions, m.context_sentences, m.sentence_indices
		FROM article_entity_mentions m
		JOIN entities e ON e.id = m.entity_id
		WHERE m.article_id = ? AND m.origin = ?
		ORDER BY m.entity_id
	`, articleID, string(entity.OriginDetected))
	if err != nil {
		return relevance.Input{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			d                  relevance.Detected
			sentences, indices sql.NullString
		)
		if err := rows.Scan(&d.EntityID, &d.Name, &d.Mentions, &sentences, &indices); err != nil {
			return relevance.Input{}, err
		}
		if err := unmarshalJSON(sentences, &d.ContextSentences); err != nil {
			return relevance.Input{}, err
		}
		if err := unmarshalJSON(indices, &d.SentenceIndices); err != nil {
			return relevance.Input{}, err
		}
		in.Detected = append(in.Detected, d)
	}
	return in, rows.Err()
}

// ReplaceArticleMentions swaps the allocation rows of an article. Article
// counts of the old contributing rows are released before the delete and
// the new ones counted after the insert, then the article leaves the queue.
func (s *SQLiteStore) ReplaceArticleMentions(ctx context.Context, articleID int64, rows []entity.Mention) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE entities SET article_count = MAX(article_count - 1, 0)
			WHERE id IN (SELECT entity_id FROM article_entity_mentions WHERE article_id = ? AND relevance > 0)
		`, articleID); err != nil {
			return fmt.Errorf("release counts of article %d: %w", articleID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM article_entity_mentions WHERE article_id = ?`, articleID); err != nil {
			return fmt.Errorf("delete rows of article %d: %w", articleID, err)
		}
		for _, m := range rows {
			m.ArticleID = articleID
			if err := insertMention(ctx, tx, m); err != nil {
				return fmt.Errorf("insert row %d/%d: %w", articleID, m.EntityID, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE entities SET article_count = article_count + 1
			WHERE id IN (SELECT entity_id FROM article_entity_mentions WHERE article_id = ? AND relevance > 0)
		`, articleID); err != nil {
			return fmt.Errorf("count rows of article %d: %w", articleID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM relevance_queue WHERE article_id = ?`, articleID); err != nil {
			return fmt.Errorf("dequeue article %d: %w", articleID, err)
		}
		return nil
	})
}

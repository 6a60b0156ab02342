// Package store provides SQLite-backed persistence for the news engine.
// Uses ncruces/go-sqlite3/driver which provides a database/sql interface.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/kennylajara/news/pkg/entity"
	"github.com/kennylajara/news/pkg/tokenindex"
)

// SQLiteStore is the SQLite-backed data store.
// Safe for concurrent use; writers are serialized.
type SQLiteStore struct {
	mu       sync.RWMutex
	db       *sql.DB
	analyzer *tokenindex.Analyzer
	now      func() time.Time
}

// schema defines all tables. Times are unix seconds.
const schema = `
-- Entities (identity registry)
CREATE TABLE IF NOT EXISTS entities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    name_length INTEGER NOT NULL,
    type TEXT NOT NULL,
    classification TEXT NOT NULL DEFAULT 'CANONICAL',
    is_group INTEGER NOT NULL DEFAULT 0,
    pagerank REAL NOT NULL DEFAULT 0,
    global_relevance REAL NOT NULL DEFAULT 0,
    article_count INTEGER NOT NULL DEFAULT 0,
    avg_local_relevance REAL NOT NULL DEFAULT 0,
    diversity INTEGER NOT NULL DEFAULT 0,
    last_rank_calculated_at INTEGER,
    reviewed_at INTEGER,
    created_at INTEGER NOT NULL,
    UNIQUE (name, type)
);
CREATE INDEX IF NOT EXISTS idx_entities_classification ON entities(classification);
CREATE INDEX IF NOT EXISTS idx_entities_global ON entities(global_relevance DESC);

-- Directed edges entity -> canonical
CREATE TABLE IF NOT EXISTS canonical_references (
    entity_id INTEGER NOT NULL,
    canonical_id INTEGER NOT NULL,
    PRIMARY KEY (entity_id, canonical_id)
);
CREATE INDEX IF NOT EXISTS idx_references_canonical ON canonical_references(canonical_id);

-- Reverse token index rows
CREATE TABLE IF NOT EXISTS entity_tokens (
    entity_id INTEGER NOT NULL,
    position INTEGER NOT NULL,
    token TEXT NOT NULL,
    token_normalized TEXT NOT NULL,
    is_stopword INTEGER NOT NULL DEFAULT 0,
    seems_like_initials INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (entity_id, position)
);
CREATE INDEX IF NOT EXISTS idx_tokens_normalized ON entity_tokens(token_normalized);

-- Articles
CREATE TABLE IF NOT EXISTS articles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT,
    title TEXT NOT NULL,
    subtitle TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL,
    published_at INTEGER NOT NULL,
    cluster_hints TEXT,
    created_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_articles_url ON articles(url) WHERE url IS NOT NULL AND url != '';

-- Per-article allocation rows
CREATE TABLE IF NOT EXISTS article_entity_mentions (
    article_id INTEGER NOT NULL,
    entity_id INTEGER NOT NULL,
    mentions INTEGER NOT NULL DEFAULT 0,
    relevance REAL NOT NULL DEFAULT 0,
    origin TEXT NOT NULL DEFAULT 'DETECTED',
    context_sentences TEXT,
    sentence_indices TEXT,
    PRIMARY KEY (article_id, entity_id)
);
CREATE INDEX IF NOT EXISTS idx_mentions_entity ON article_entity_mentions(entity_id);

-- Articles whose allocation must be recomputed
CREATE TABLE IF NOT EXISTS relevance_queue (
    article_id INTEGER PRIMARY KEY,
    reason TEXT NOT NULL,
    enqueued_at INTEGER NOT NULL
);

-- Low-confidence decisions kept for review
CREATE TABLE IF NOT EXISTS classification_suggestions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_id INTEGER NOT NULL,
    action TEXT NOT NULL,
    targets TEXT NOT NULL,
    confidence REAL NOT NULL,
    reasoning TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_suggestions_status ON classification_suggestions(status, created_at);

-- Ranking runs
CREATE TABLE IF NOT EXISTS rank_runs (
    id TEXT PRIMARY KEY,
    started_at INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    iterations INTEGER NOT NULL,
    converged INTEGER NOT NULL,
    timed_out INTEGER NOT NULL,
    nodes INTEGER NOT NULL,
    edges INTEGER NOT NULL,
    density REAL NOT NULL,
    stats TEXT NOT NULL
);
`

// NewSQLiteStore creates a new in-memory SQLite store.
func NewSQLiteStore() (*SQLiteStore, error) {
	return NewSQLiteStoreWithDSN(":memory:")
}

// NewSQLiteStoreWithDSN creates a store with a specific data source name.
// Use ":memory:" for in-memory or a file path for persistent storage.
func NewSQLiteStoreWithDSN(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every pooled connection to ":memory:" would be a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:       db,
		analyzer: tokenindex.NewAnalyzer(nil),
		now:      time.Now,
	}, nil
}

// SetAnalyzer replaces the analyzer used to write token rows on ingest.
func (s *SQLiteStore) SetAnalyzer(a *tokenindex.Analyzer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyzer = a
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixOrNil(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.Unix()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(raw sql.NullString, v any) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), v)
}

// inTx runs fn in a transaction and commits when it returns nil.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

const entityColumns = `id, name, name_length, type, classification, is_group, pagerank,
	global_relevance, article_count, avg_local_relevance, diversity,
	last_rank_calculated_at, reviewed_at`

func scanEntity(r rowScanner) (entity.Entity, error) {
	var (
		e                  entity.Entity
		typ, class         string
		isGroup            int
		rankedAt, reviewed sql.NullInt64
	)
	err := r.Scan(&e.ID, &e.Name, &e.NameLength, &typ, &class, &isGroup, &e.PageRank,
		&e.GlobalRelevance, &e.ArticleCount, &e.AvgLocalRelevance, &e.Diversity,
		&rankedAt, &reviewed)
	if err != nil {
		return e, err
	}
	e.Type = entity.Type(typ)
	e.Classification = entity.Classification(class)
	e.IsGroup = isGroup == 1
	e.LastRankCalculatedAt = timePtr(rankedAt)
	e.ReviewedAt = timePtr(reviewed)
	return e, nil
}

// =============================================================================
// Export / Import
// =============================================================================

// Export dumps entities, references, tokens, articles and mentions as JSON.
// Queue, suggestions and rank runs are operational state and are skipped.
func (s *SQLiteStore) Export(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data ExportData
	var err error
	if data.Entities, err = s.loadEntities(ctx); err != nil {
		return nil, fmt.Errorf("export entities: %w", err)
	}
	if data.References, err = s.loadReferences(ctx); err != nil {
		return nil, fmt.Errorf("export references: %w", err)
	}
	tokens, err := s.loadTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("export tokens: %w", err)
	}
	for _, e := range data.Entities {
		data.Tokens = append(data.Tokens, tokens[e.ID]...)
	}
	if data.Articles, err = s.loadArticles(ctx); err != nil {
		return nil, fmt.Errorf("export articles: %w", err)
	}
	if data.Mentions, err = s.loadMentions(ctx, 0); err != nil {
		return nil, fmt.Errorf("export mentions: %w", err)
	}
	return json.Marshal(data)
}

// Import loads a dump produced by Export, keeping ids. Existing rows with
// the same keys are replaced.
func (s *SQLiteStore) Import(ctx context.Context, raw []byte) error {
	var data ExportData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("failed to unmarshal import data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Unix()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, e := range data.Entities {
			_, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO entities (`+entityColumns+`, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, e.ID, e.Name, e.NameLength, string(e.Type), string(e.Classification),
				boolToInt(e.IsGroup), e.PageRank, e.GlobalRelevance, e.ArticleCount,
				e.AvgLocalRelevance, e.Diversity, unixOrNil(e.LastRankCalculatedAt),
				unixOrNil(e.ReviewedAt), now)
			if err != nil {
				return fmt.Errorf("import entity %d: %w", e.ID, err)
			}
		}
		for _, r := range data.References {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO canonical_references (entity_id, canonical_id) VALUES (?, ?)`,
				r.EntityID, r.CanonicalID); err != nil {
				return fmt.Errorf("import reference: %w", err)
			}
		}
		for _, t := range data.Tokens {
			if err := insertToken(ctx, tx, t); err != nil {
				return fmt.Errorf("import token: %w", err)
			}
		}
		for _, a := range data.Articles {
			hints, err := marshalJSON(a.Clusters)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO articles (id, url, title, subtitle, body, published_at, cluster_hints, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, a.ID, a.URL, a.Title, a.Subtitle, a.Body, a.PublishedAt.Unix(), hints, now)
			if err != nil {
				return fmt.Errorf("import article %d: %w", a.ID, err)
			}
		}
		for _, m := range data.Mentions {
			if err := insertMention(ctx, tx, m); err != nil {
				return fmt.Errorf("import mention: %w", err)
			}
		}
		return nil
	})
}

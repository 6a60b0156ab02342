package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kennylajara/news/pkg/entity"
)

// =============================================================================
// Entities
// =============================================================================

// CreateEntity inserts a CANONICAL entity with its token rows and returns
// it with its id set. An existing (name, type) pair is returned as is.
func (s *SQLiteStore) CreateEntity(ctx context.Context, name string, typ entity.Type) (entity.Entity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		e       entity.Entity
		created bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		e, created, err = s.ensureEntity(ctx, tx, name, typ)
		return err
	})
	return e, created, err
}

// ensureEntity finds or creates an entity inside tx.
func (s *SQLiteStore) ensureEntity(ctx context.Context, tx *sql.Tx, name string, typ entity.Type) (entity.Entity, bool, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE name = ? AND type = ?`, name, string(typ))
	e, err := scanEntity(row)
	if err == nil {
		return e, false, nil
	}
	if err != sql.ErrNoRows {
		return e, false, fmt.Errorf("find entity %q: %w", name, err)
	}

	e = entity.New(name, typ)
	res, err := tx.ExecContext(ctx, `
		INSERT INTO entities (name, name_length, type, classification, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.Name, e.NameLength, string(e.Type), string(e.Classification), s.now().Unix())
	if err != nil {
		return e, false, fmt.Errorf("insert entity %q: %w", name, err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return e, false, err
	}
	for _, t := range s.analyzer.Analyze(e.ID, e.Name) {
		if err := insertToken(ctx, tx, t); err != nil {
			return e, false, fmt.Errorf("insert tokens of %d: %w", e.ID, err)
		}
	}
	return e, true, nil
}

// GetEntity retrieves an entity by id. Returns nil, nil when missing.
func (s *SQLiteStore) GetEntity(ctx context.Context, id int64) (*entity.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// FindEntity looks an entity up by exact name and type. Returns nil, nil
// when missing.
func (s *SQLiteStore) FindEntity(ctx context.Context, name string, typ entity.Type) (*entity.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE name = ? AND type = ?`, name, string(typ))
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// LoadEntities returns every entity ordered by id.
func (s *SQLiteStore) LoadEntities(ctx context.Context) ([]entity.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadEntities(ctx)
}

func (s *SQLiteStore) loadEntities(ctx context.Context) ([]entity.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entityColumns+` FROM entities ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// TopEntities returns CANONICAL entities by global relevance.
func (s *SQLiteStore) TopEntities(ctx context.Context, limit int) ([]entity.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entityColumns+` FROM entities
		WHERE classification = ?
		ORDER BY global_relevance DESC, pagerank DESC, id
		LIMIT ?
	`, string(entity.Canonical), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LoadReferences returns every reference edge.
func (s *SQLiteStore) LoadReferences(ctx context.Context) ([]entity.Reference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadReferences(ctx)
}

func (s *SQLiteStore) loadReferences(ctx context.Context) ([]entity.Reference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id, canonical_id FROM canonical_references ORDER BY entity_id, canonical_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Reference
	for rows.Next() {
		var r entity.Reference
		if err := rows.Scan(&r.EntityID, &r.CanonicalID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// Tokens
// =============================================================================

// LoadTokens returns token rows grouped by entity, ordered by position.
func (s *SQLiteStore) LoadTokens(ctx context.Context) (map[int64][]entity.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadTokens(ctx)
}

func (s *SQLiteStore) loadTokens(ctx context.Context) (map[int64][]entity.Token, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, position, token, token_normalized, is_stopword, seems_like_initials
		FROM entity_tokens ORDER BY entity_id, position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]entity.Token)
	for rows.Next() {
		var (
			t              entity.Token
			stop, initials int
		)
		if err := rows.Scan(&t.EntityID, &t.Position, &t.Token, &t.Normalized, &stop, &initials); err != nil {
			return nil, err
		}
		t.IsStopword = stop == 1
		t.SeemsLikeInitials = initials == 1
		out[t.EntityID] = append(out[t.EntityID], t)
	}
	return out, rows.Err()
}

// ReplaceEntityTokens swaps the token rows of one entity.
func (s *SQLiteStore) ReplaceEntityTokens(ctx context.Context, id int64, tokens []entity.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM entity_tokens WHERE entity_id = ?`, id); err != nil {
			return err
		}
		for _, t := range tokens {
			t.EntityID = id
			if err := insertToken(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertToken(ctx context.Context, tx *sql.Tx, t entity.Token) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO entity_tokens
			(entity_id, position, token, token_normalized, is_stopword, seems_like_initials)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.EntityID, t.Position, t.Token, t.Normalized, boolToInt(t.IsStopword), boolToInt(t.SeemsLikeInitials))
	return err
}

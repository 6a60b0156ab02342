package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kennylajara/news/pkg/resolution"
)

// =============================================================================
// Classification
// =============================================================================

// CommitClassification persists one engine change set atomically. Entities
// whose classification or references moved get their old references
// replaced and every article mentioning them queued for re-allocation.
func (s *SQLiteStore) CommitClassification(ctx context.Context, cs resolution.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := cs.At
	if at.IsZero() {
		at = s.now()
	}
	reason := fmt.Sprintf("%s:%d", cs.Op, cs.EntityID)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, c := range cs.Changes {
			var reviewed any
			if c.Reviewed {
				reviewed = at.Unix()
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE entities
				SET classification = ?, is_group = ?, reviewed_at = COALESCE(?, reviewed_at)
				WHERE id = ?
			`, string(c.Classification), boolToInt(c.IsGroup), reviewed, c.EntityID)
			if err != nil {
				return fmt.Errorf("update entity %d: %w", c.EntityID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("update entity %d: no such row", c.EntityID)
			}
			if !c.Reclassified {
				continue
			}

			if _, err := tx.ExecContext(ctx,
				`DELETE FROM canonical_references WHERE entity_id = ?`, c.EntityID); err != nil {
				return fmt.Errorf("clear references of %d: %w", c.EntityID, err)
			}
			for _, target := range c.References {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO canonical_references (entity_id, canonical_id) VALUES (?, ?)`,
					c.EntityID, target); err != nil {
					return fmt.Errorf("insert reference %d -> %d: %w", c.EntityID, target, err)
				}
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO relevance_queue (article_id, reason, enqueued_at)
				SELECT DISTINCT article_id, ?, ? FROM article_entity_mentions WHERE entity_id = ?
			`, reason, at.Unix(), c.EntityID); err != nil {
				return fmt.Errorf("enqueue articles of %d: %w", c.EntityID, err)
			}
		}
		return nil
	})
}

// RecordSuggestion stores a low-confidence decision as pending.
func (s *SQLiteStore) RecordSuggestion(ctx context.Context, sg resolution.Suggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	targets, err := marshalJSON(sg.Decision.Targets)
	if err != nil {
		return err
	}
	created := sg.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO classification_suggestions
			(entity_id, action, targets, confidence, reasoning, source, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sg.EntityID, string(sg.Decision.Action), targets, sg.Decision.Confidence,
		sg.Decision.Reasoning, string(sg.Decision.Source), string(SuggestionPending), created.Unix())
	if err != nil {
		return fmt.Errorf("record suggestion for %d: %w", sg.EntityID, err)
	}
	return nil
}

// ListSuggestions returns suggestions with the given status, oldest first.
// An empty status lists all of them.
func (s *SQLiteStore) ListSuggestions(ctx context.Context, status SuggestionStatus) ([]SuggestionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, action, targets, confidence, reasoning, source, status, created_at
		FROM classification_suggestions
		WHERE ? = '' OR status = ?
		ORDER BY created_at, id
	`, string(status), string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SuggestionRecord
	for rows.Next() {
		var (
			r       SuggestionRecord
			targets sql.NullString
			st      string
			created int64
		)
		if err := rows.Scan(&r.ID, &r.EntityID, &r.Action, &targets, &r.Confidence,
			&r.Reasoning, &r.Source, &st, &created); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(targets, &r.Targets); err != nil {
			return nil, fmt.Errorf("suggestion %d targets: %w", r.ID, err)
		}
		r.Status = SuggestionStatus(st)
		r.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetSuggestionStatus marks a suggestion accepted or rejected.
func (s *SQLiteStore) SetSuggestionStatus(ctx context.Context, id int64, status SuggestionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE classification_suggestions SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("suggestion %d not found", id)
	}
	return nil
}

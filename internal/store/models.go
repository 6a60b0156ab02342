// Package store provides SQLite-backed persistence for the entity graph,
// article mentions, the relevance queue and ranking runs.
package store

import (
	"time"

	"github.com/kennylajara/news/pkg/entity"
	"github.com/kennylajara/news/pkg/relevance"
)

// ErrArticleNotFound is returned when an article id has no row.
var ErrArticleNotFound = relevance.ErrArticleNotFound

// RecognizedMention is one occurrence reported by the recognizer.
type RecognizedMention struct {
	Text          string `json:"text"`
	Type          string `json:"type"`
	Sentence      string `json:"sentence,omitempty"`
	SentenceIndex int    `json:"sentenceIndex"`
}

// IngestRequest is an article plus its recognizer output.
type IngestRequest struct {
	URL      string              `json:"url"`
	Article  entity.Article      `json:"article"`
	Mentions []RecognizedMention `json:"mentions"`
	// Clusters maps sentence index to "core", "secondary" or "filler".
	Clusters map[int]string `json:"clusters,omitempty"`
}

// IngestResult reports what an ingest created.
type IngestResult struct {
	ArticleID int64           `json:"articleId"`
	Created   []entity.Entity `json:"created"`  // entities seen for the first time
	EntityIDs []int64         `json:"entityIds"` // every entity mentioned
}

// SuggestionStatus tracks a stored low-confidence decision.
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionAccepted SuggestionStatus = "accepted"
	SuggestionRejected SuggestionStatus = "rejected"
)

// SuggestionRecord is a persisted classification suggestion.
type SuggestionRecord struct {
	ID         int64            `json:"id"`
	EntityID   int64            `json:"entityId"`
	Action     string           `json:"action"`
	Targets    []int64          `json:"targets"`
	Confidence float64          `json:"confidence"`
	Reasoning  string           `json:"reasoning"`
	Source     string           `json:"source"`
	Status     SuggestionStatus `json:"status"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// RankRun is one stored ranking run.
type RankRun struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMS int64     `json:"durationMs"`
	Iterations int       `json:"iterations"`
	Converged  bool      `json:"converged"`
	TimedOut   bool      `json:"timedOut"`
	Nodes      int       `json:"nodes"`
	Edges      int       `json:"edges"`
	Density    float64   `json:"density"`
	Stats      string    `json:"stats"` // full stats as JSON
}

// StoredArticle is an article row with its cluster hints.
type StoredArticle struct {
	entity.Article
	URL      string         `json:"url"`
	Clusters map[int]string `json:"clusters,omitempty"`
}

// ExportData is the JSON dump produced by Export and read by Import.
type ExportData struct {
	Entities   []entity.Entity    `json:"entities"`
	References []entity.Reference `json:"references"`
	Tokens     []entity.Token     `json:"tokens"`
	Articles   []StoredArticle    `json:"articles"`
	Mentions   []entity.Mention   `json:"mentions"`
}

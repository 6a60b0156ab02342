package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kennylajara/news/pkg/entity"
	"github.com/kennylajara/news/pkg/pagerank"
	"github.com/kennylajara/news/pkg/relevance"
	"github.com/kennylajara/news/pkg/resolution"
)

var clock = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore()
	require.NoError(t, err)
	s.now = func() time.Time { return clock }
	t.Cleanup(func() { s.Close() })
	return s
}

func ingest(t *testing.T, s *SQLiteStore, title string, mentions ...RecognizedMention) IngestResult {
	t.Helper()
	res, err := s.IngestArticle(context.Background(), IngestRequest{
		Article:  entity.Article{Title: title, Body: title + " cuerpo", PublishedAt: clock.AddDate(0, 0, -1)},
		Mentions: mentions,
	})
	require.NoError(t, err)
	return res
}

func mention(text, typ string, idx int) RecognizedMention {
	return RecognizedMention{Text: text, Type: typ, Sentence: text + " habló.", SentenceIndex: idx}
}

func TestIngestArticle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res := ingest(t, s, "Abinader y la JCE",
		mention("Luis Abinader", "PER", 0),
		mention("Junta Central Electoral", "ORG", 1),
		mention("Luis Abinader", "PERSON", 2),
	)
	require.Len(t, res.Created, 2)
	require.Len(t, res.EntityIDs, 2)
	assert.Equal(t, entity.TypePerson, res.Created[0].Type)
	assert.Equal(t, entity.Canonical, res.Created[0].Classification)

	tokens, err := s.LoadTokens(ctx)
	require.NoError(t, err)
	require.Len(t, tokens[res.Created[0].ID], 2)
	assert.Equal(t, "luis", tokens[res.Created[0].ID][0].Normalized)

	in, err := s.AllocationInput(ctx, res.ArticleID)
	require.NoError(t, err)
	require.Len(t, in.Detected, 2)
	assert.Equal(t, "Luis Abinader", in.Detected[0].Name)
	assert.Equal(t, 2, in.Detected[0].Mentions)
	assert.Equal(t, []int{0, 2}, in.Detected[0].SentenceIndices)
	assert.Equal(t, []string{"Luis Abinader habló."}, in.Detected[0].ContextSentences)

	dirty, err := s.DirtyArticles(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{res.ArticleID}, dirty)

	// A second article reuses the existing entity.
	again := ingest(t, s, "Otra", mention("Luis Abinader", "PER", 0))
	assert.Empty(t, again.Created)
	assert.Equal(t, []int64{res.Created[0].ID}, again.EntityIDs)
}

func TestIngestArticle_UnknownTypeRollsBack(t *testing.T) {
	s := newTestStore(t)
	_, err := s.IngestArticle(context.Background(), IngestRequest{
		Article:  entity.Article{Title: "x"},
		Mentions: []RecognizedMention{{Text: "Alfa", Type: "PER"}, {Text: "Beta", Type: "WIDGET"}},
	})
	require.Error(t, err)

	ents, err := s.LoadEntities(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ents)
}

func TestAllocationInput_ClusterHints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.IngestArticle(ctx, IngestRequest{
		Article:  entity.Article{Title: "t", Body: "b"},
		Mentions: []RecognizedMention{mention("Alfa", "ORG", 1)},
		Clusters: map[int]string{0: "core", 1: "filler"},
	})
	require.NoError(t, err)

	in, err := s.AllocationInput(ctx, res.ArticleID)
	require.NoError(t, err)
	assert.Equal(t, map[int]relevance.Category{0: relevance.CategoryCore, 1: relevance.CategoryFiller}, in.Clusters)

	_, err = s.AllocationInput(ctx, 999)
	assert.ErrorIs(t, err, ErrArticleNotFound)
}

func TestAllocationInput_MissingArticleLeavesQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, 999, "reclassified"))
	dirty, err := s.DirtyArticles(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []int64{999}, dirty)

	_, err = s.AllocationInput(ctx, 999)
	require.ErrorIs(t, err, ErrArticleNotFound)

	dirty, err = s.DirtyArticles(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, dirty)
}

func TestCommitClassification(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res := ingest(t, s, "t", mention("Luis Abinader", "PER", 0), mention("Abinader", "PER", 1))
	full, short := res.Created[0].ID, res.Created[1].ID
	require.NoError(t, s.ReplaceArticleMentions(ctx, res.ArticleID, nil))

	err := s.CommitClassification(ctx, resolution.ChangeSet{
		Op:       "set_alias",
		EntityID: short,
		At:       clock,
		Changes: []resolution.Change{{
			EntityID:       short,
			Previous:       entity.Canonical,
			Classification: entity.Alias,
			References:     []int64{full},
			Reclassified:   true,
			Reviewed:       true,
		}},
	})
	require.NoError(t, err)

	e, err := s.GetEntity(ctx, short)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, entity.Alias, e.Classification)
	require.NotNil(t, e.ReviewedAt)
	assert.True(t, clock.Equal(*e.ReviewedAt))

	refs, err := s.LoadReferences(ctx)
	require.NoError(t, err)
	assert.Equal(t, []entity.Reference{{EntityID: short, CanonicalID: full}}, refs)

	// The alias had no rows left, so nothing is queued.
	dirty, err := s.DirtyArticles(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, dirty)
}

func TestCommitClassification_QueuesMentioningArticles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res := ingest(t, s, "t", mention("Medina", "PER", 0))
	id := res.Created[0].ID
	require.NoError(t, s.ReplaceArticleMentions(ctx, res.ArticleID, []entity.Mention{
		{EntityID: id, Mentions: 1, Relevance: 1, Origin: entity.OriginDetected},
	}))

	require.NoError(t, s.CommitClassification(ctx, resolution.ChangeSet{
		Op: "set_not_entity", EntityID: id,
		Changes: []resolution.Change{{EntityID: id, Classification: entity.NotAnEntity, Reclassified: true}},
	}))
	dirty, err := s.DirtyArticles(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{res.ArticleID}, dirty)

	// Unknown rows abort the whole set.
	err = s.CommitClassification(ctx, resolution.ChangeSet{
		Changes: []resolution.Change{{EntityID: 404, Classification: entity.Canonical}},
	})
	assert.Error(t, err)
}

func TestReplaceArticleMentions_CountsAndDequeue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res := ingest(t, s, "t", mention("Alfa", "ORG", 0), mention("Beta", "ORG", 0))
	a, b := res.Created[0].ID, res.Created[1].ID
	rows := []entity.Mention{
		{EntityID: a, Mentions: 2, Relevance: 1, Origin: entity.OriginDetected},
		{EntityID: b, Mentions: 1, Relevance: 0, Origin: entity.OriginDetected},
	}

	for range 2 {
		require.NoError(t, s.ReplaceArticleMentions(ctx, res.ArticleID, rows))
		ea, _ := s.GetEntity(ctx, a)
		eb, _ := s.GetEntity(ctx, b)
		assert.Equal(t, 1, ea.ArticleCount)
		assert.Zero(t, eb.ArticleCount)
	}

	dirty, err := s.DirtyArticles(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, dirty)

	got, err := s.ArticleMentions(ctx, res.ArticleID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a, got[0].EntityID)
	assert.Equal(t, 1.0, got[0].Relevance)
}

func TestSuggestions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordSuggestion(ctx, resolution.Suggestion{
		EntityID:  3,
		CreatedAt: clock,
		Decision: resolution.Decision{
			Action: resolution.ActionAlias, Targets: []int64{1}, Confidence: 0.4,
			Reasoning: "dudoso", Source: resolution.SourceLLM,
		},
	}))

	pending, err := s.ListSuggestions(ctx, SuggestionPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, []int64{1}, pending[0].Targets)
	assert.Equal(t, "alias", pending[0].Action)
	assert.Equal(t, 0.4, pending[0].Confidence)

	require.NoError(t, s.SetSuggestionStatus(ctx, pending[0].ID, SuggestionRejected))
	pending, err = s.ListSuggestions(ctx, SuggestionPending)
	require.NoError(t, err)
	assert.Empty(t, pending)

	all, err := s.ListSuggestions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Error(t, s.SetSuggestionStatus(ctx, 99, SuggestionAccepted))
}

func TestSnapshotAndRankResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r1 := ingest(t, s, "uno", mention("Alfa", "PER", 0), mention("Beta", "PER", 0), mention("Gama", "PER", 0))
	a, b, c := r1.Created[0].ID, r1.Created[1].ID, r1.Created[2].ID
	require.NoError(t, s.ReplaceArticleMentions(ctx, r1.ArticleID, []entity.Mention{
		{EntityID: a, Relevance: 1}, {EntityID: b, Relevance: 0.5}, {EntityID: c, Relevance: 0},
	}))

	snap, err := s.LoadCorpusSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Articles, 1)
	assert.Len(t, snap.Articles[0].Entities, 2)
	assert.True(t, clock.AddDate(0, 0, -1).Equal(snap.Articles[0].PublishedAt))

	prev, err := s.LoadPreviousScores(ctx)
	require.NoError(t, err)
	assert.Empty(t, prev)

	res, err := pagerank.Rank(ctx, snap, pagerank.DefaultConfig(), prev)
	require.NoError(t, err)
	require.NoError(t, s.SaveRankResults(ctx, res))

	prev, err = s.LoadPreviousScores(ctx)
	require.NoError(t, err)
	assert.Len(t, prev, 2)
	assert.InDelta(t, res.Scores[a].Raw, prev[a], 1e-12)

	top, err := s.TopEntities(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, 1.0, top[0].GlobalRelevance)
	assert.NotNil(t, top[0].LastRankCalculatedAt)

	runs, err := s.ListRankRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.Stats.RunID, runs[0].ID)
	assert.Equal(t, 2, runs[0].Nodes)
	assert.Contains(t, runs[0].Stats, `"distribution"`)
}

func TestExportImport(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res := ingest(t, s, "t", mention("Luis Abinader", "PER", 0), mention("Abinader", "PER", 0))
	require.NoError(t, s.CommitClassification(ctx, resolution.ChangeSet{
		Changes: []resolution.Change{{
			EntityID: res.Created[1].ID, Classification: entity.Alias,
			References: []int64{res.Created[0].ID}, Reclassified: true,
		}},
	}))

	data, err := s.Export(ctx)
	require.NoError(t, err)

	s2 := newTestStore(t)
	require.NoError(t, s2.Import(ctx, data))

	ents, err := s2.LoadEntities(ctx)
	require.NoError(t, err)
	require.Len(t, ents, 2)
	assert.Equal(t, entity.Alias, ents[1].Classification)

	refs, err := s2.LoadReferences(ctx)
	require.NoError(t, err)
	assert.Len(t, refs, 1)

	tokens, err := s2.LoadTokens(ctx)
	require.NoError(t, err)
	assert.Len(t, tokens[res.Created[0].ID], 2)

	article, err := s2.GetArticle(ctx, res.ArticleID)
	require.NoError(t, err)
	require.NotNil(t, article)
	assert.Equal(t, "t", article.Title)

	rows, err := s2.ArticleMentions(ctx, res.ArticleID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	assert.Error(t, s2.Import(ctx, []byte("{")))
}

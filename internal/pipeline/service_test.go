package pipeline

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kennylajara/news/internal/config"
	"github.com/kennylajara/news/internal/store"
	"github.com/kennylajara/news/pkg/entity"
	"github.com/kennylajara/news/pkg/resolution"
)

func newService(t *testing.T) (*Service, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc, err := New(context.Background(), config.Default(), st)
	require.NoError(t, err)
	return svc, st
}

func mention(text, typ string, idx int) store.RecognizedMention {
	return store.RecognizedMention{Text: text, Type: typ, SentenceIndex: idx}
}

func ids(res store.IngestResult) map[string]int64 {
	out := make(map[string]int64)
	for _, e := range res.Created {
		out[e.Name] = e.ID
	}
	return out
}

func relevanceOf(rows []entity.Mention, id int64) (entity.Mention, bool) {
	for _, r := range rows {
		if r.EntityID == id {
			return r, true
		}
	}
	return entity.Mention{}, false
}

func TestService_EndToEnd(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	published := time.Now().Add(-time.Hour)

	first, err := svc.Ingest(ctx, store.IngestRequest{
		Article: entity.Article{
			Title:       "Luis Abinader se reúne con la Junta Central Electoral",
			Body:        "Luis Abinader visitó la sede. Luis Abinader habló.",
			PublishedAt: published,
		},
		Mentions: []store.RecognizedMention{
			mention("Luis Abinader", "PER", 0),
			mention("Luis Abinader", "PER", 1),
			mention("Junta Central Electoral", "ORG", 0),
		},
	})
	require.NoError(t, err)
	second, err := svc.Ingest(ctx, store.IngestRequest{
		Article: entity.Article{
			Title:       "Abinader y la JCE en Santo Domingo",
			Body:        "Abinader llegó a Santo Domingo para reunirse con la JCE.",
			PublishedAt: published,
		},
		Mentions: []store.RecognizedMention{
			mention("Abinader", "PER", 0),
			mention("JCE", "ORG", 0),
			mention("Santo Domingo", "GPE", 0),
		},
	})
	require.NoError(t, err)

	a, b := ids(first), ids(second)
	full, junta := a["Luis Abinader"], a["Junta Central Electoral"]
	short, jce, sd := b["Abinader"], b["JCE"], b["Santo Domingo"]

	found, err := svc.Candidates(short)
	require.NoError(t, err)
	require.NotEmpty(t, found)
	assert.Equal(t, full, found[0].ID)

	results, err := svc.ReviewPending(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, results, 5)

	n, ok := svc.Engine().Node(short)
	require.True(t, ok)
	assert.Equal(t, entity.Alias, n.Classification)
	assert.Equal(t, []int64{full}, n.References)
	n, _ = svc.Engine().Node(jce)
	assert.Equal(t, entity.Alias, n.Classification)
	assert.Equal(t, []int64{junta}, n.References)
	require.NoError(t, svc.Engine().Check())

	done, err := svc.Allocate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, done)

	rows, err := st.ArticleMentions(ctx, second.ArticleID)
	require.NoError(t, err)
	derived, ok := relevanceOf(rows, full)
	require.True(t, ok)
	assert.Equal(t, entity.OriginDerived, derived.Origin)
	assert.Greater(t, derived.Relevance, 0.0)
	alias, _ := relevanceOf(rows, short)
	assert.Zero(t, alias.Relevance)

	e, err := st.GetEntity(ctx, full)
	require.NoError(t, err)
	assert.Equal(t, 2, e.ArticleCount)
	e, _ = st.GetEntity(ctx, short)
	assert.Zero(t, e.ArticleCount)

	res, err := svc.Rank(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stats.Nodes)
	assert.Contains(t, res.Scores, full)
	assert.Contains(t, res.Scores, sd)
	assert.NotContains(t, res.Scores, short)

	top, err := st.TopEntities(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, top, 3)
}

func TestService_RehydratesState(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	res, err := svc.Ingest(ctx, store.IngestRequest{
		Article:  entity.Article{Title: "t", Body: "Leonel Fernández y Fernández"},
		Mentions: []store.RecognizedMention{mention("Leonel Fernández", "PER", 0), mention("Fernández", "PER", 0)},
	})
	require.NoError(t, err)
	m := ids(res)

	_, err = svc.Classify(ctx, m["Fernández"], m["Leonel Fernández"])
	require.NoError(t, err)

	again, err := New(ctx, config.Default(), st)
	require.NoError(t, err)
	n, ok := again.Engine().Node(m["Fernández"])
	require.True(t, ok)
	assert.Equal(t, entity.Alias, n.Classification)
	assert.Equal(t, []int64{m["Leonel Fernández"]}, again.Engine().Referrers(m["Leonel Fernández"]))

	// Aliases leave the LSH buckets; canonicals stay.
	assert.Equal(t, 1, again.lsh.Len())
	assert.Equal(t, 1, svc.lsh.Len())
}

func TestService_LowConfidenceDecisionIsStored(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	res, err := svc.Ingest(ctx, store.IngestRequest{
		Article:  entity.Article{Title: "t"},
		Mentions: []store.RecognizedMention{mention("Medina", "PER", 0), mention("Danilo Medina", "PER", 0)},
	})
	require.NoError(t, err)
	m := ids(res)

	d, err := resolution.ParseDecision(`{"action":"alias","targets":[` +
		strconv.FormatInt(m["Danilo Medina"], 10) + `],"confidence":0.5,"reasoning":"probable"}`)
	require.NoError(t, err)

	out, err := svc.Apply(ctx, m["Medina"], d)
	require.NoError(t, err)
	assert.True(t, out.Suggested)
	assert.False(t, out.Applied)

	pending, err := st.ListSuggestions(ctx, store.SuggestionPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, m["Medina"], pending[0].EntityID)

	n, _ := svc.Engine().Node(m["Medina"])
	assert.Equal(t, entity.Canonical, n.Classification)
}

func TestService_NotEntityHiddenFromDiscovery(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.Ingest(ctx, store.IngestRequest{
		Article:  entity.Article{Title: "t"},
		Mentions: []store.RecognizedMention{mention("Lunes", "MISC", 0), mention("Lunes Santo", "MISC", 0)},
	})
	require.NoError(t, err)
	m := ids(res)

	_, err = svc.Engine().SetAsNotEntity(ctx, m["Lunes Santo"])
	require.NoError(t, err)

	found, err := svc.Candidates(m["Lunes"])
	require.NoError(t, err)
	assert.Empty(t, found)

	all, err := svc.Discover(ctx, []int64{m["Lunes"], m["Lunes Santo"]})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestService_ReallocationIsStable(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	var mentions []store.RecognizedMention
	for i, m := range []struct {
		text string
		n    int
	}{{"JCE", 2}, {"Beta Corp", 3}, {"Gamma Holdings", 5}} {
		for range m.n {
			mentions = append(mentions, mention(m.text, "ORG", i))
		}
	}
	res, err := svc.Ingest(ctx, store.IngestRequest{
		Article: entity.Article{
			Title: "Informe trimestral",
			Body:  "Gamma Holdings amplía operaciones. Beta Corp y JCE firman acuerdo.",
		},
		Mentions: mentions,
	})
	require.NoError(t, err)
	got := ids(res)
	jce, beta, gamma := got["JCE"], got["Beta Corp"], got["Gamma Holdings"]

	_, err = svc.Engine().SetAsAlias(ctx, beta, jce)
	require.NoError(t, err)

	first, err := svc.AllocateArticle(ctx, res.ArticleID)
	require.NoError(t, err)
	row, ok := relevanceOf(first.Rows, jce)
	require.True(t, ok)
	assert.Equal(t, 2, row.Mentions)
	assert.Equal(t, entity.OriginDetected, row.Origin)

	second, err := svc.AllocateArticle(ctx, res.ArticleID)
	require.NoError(t, err)
	assert.Equal(t, first.Rows, second.Rows)

	stored, err := st.ArticleMentions(ctx, res.ArticleID)
	require.NoError(t, err)
	for _, id := range []int64{jce, beta, gamma} {
		want, _ := relevanceOf(second.Rows, id)
		r, ok := relevanceOf(stored, id)
		require.True(t, ok)
		assert.Equal(t, want.Mentions, r.Mentions)
		assert.InDelta(t, want.Relevance, r.Relevance, 1e-12)
	}

	for id, count := range map[int64]int{jce: 1, beta: 0, gamma: 1} {
		e, err := st.GetEntity(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, count, e.ArticleCount, "entity %d", id)
	}
}

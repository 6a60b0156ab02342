package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kennylajara/news/internal/store"
	"github.com/kennylajara/news/pkg/entity"
	"github.com/kennylajara/news/pkg/pagerank"
	"github.com/kennylajara/news/pkg/resolution"
)

const articles = `
{"article":{"title":"Leonel Fernández visita Santiago","body":"Leonel Fernández habló en Santiago."},
 "mentions":[{"text":"Leonel Fernández","type":"PER","sentenceIndex":0},{"text":"Santiago","type":"GPE","sentenceIndex":0}]}
{"article":{"title":"Fernández en Santiago","body":"Fernández regresó a Santiago."},
 "mentions":[{"text":"Fernández","type":"PER","sentenceIndex":0},{"text":"Santiago","type":"GPE","sentenceIndex":0}]}
`

func execute(t *testing.T, db, stdin string, args ...string) string {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--db", db}, args...))
	require.NoError(t, root.Execute())
	return out.String()
}

func TestRootCmd_Definition(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"ingest", "candidates", "review", "classify", "allocate", "rank", "show"} {
		assert.Contains(t, names, want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("db"))
	assert.NotNil(t, root.PersistentFlags().Lookup("json"))
}

func TestCLI_Workflow(t *testing.T) {
	db := filepath.Join(t.TempDir(), "news.db")

	var ingested []store.IngestResult
	require.NoError(t, json.Unmarshal([]byte(execute(t, db, articles, "ingest", "--json")), &ingested))
	require.Len(t, ingested, 2)
	require.Len(t, ingested[0].Created, 2)
	leonel := ingested[0].Created[0].ID
	fernandez := ingested[1].Created[0].ID

	out := execute(t, db, "", "candidates", itoa(fernandez))
	assert.Contains(t, out, "Leonel Fernández")

	var outcome resolution.Outcome
	require.NoError(t, json.Unmarshal([]byte(execute(t, db, "", "--json", "classify", itoa(fernandez), itoa(leonel))), &outcome))
	assert.True(t, outcome.Applied)
	assert.Equal(t, entity.Alias, outcome.Classification)

	out = execute(t, db, "", "allocate")
	assert.Contains(t, out, "2 articles allocated")

	var stats pagerank.Stats
	require.NoError(t, json.Unmarshal([]byte(execute(t, db, "", "rank", "--json")), &stats))
	assert.Equal(t, 2, stats.Nodes)

	var top []entity.Entity
	require.NoError(t, json.Unmarshal([]byte(execute(t, db, "", "show", "top", "--json")), &top))
	require.Len(t, top, 2)
	for _, e := range top {
		assert.Equal(t, 2, e.ArticleCount)
	}

	out = execute(t, db, "", "show", "entity", itoa(leonel))
	assert.Contains(t, out, "referrers:  ["+itoa(fernandez)+"]")
}

func TestCLI_ClassifySuggestionFromStdin(t *testing.T) {
	db := filepath.Join(t.TempDir(), "news.db")
	execute(t, db, articles, "ingest")

	reply := "```json\n{\"action\":\"not_an_entity\",\"confidence\":0.3,\"reasoning\":\"dudoso\"}\n```"
	out := execute(t, db, reply, "classify", "3", "--decision", "-")
	assert.Contains(t, out, "stored as suggestion")

	out = execute(t, db, "", "show", "suggestions")
	assert.Contains(t, out, "not_an_entity")
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

package tokenindex

import (
	"sort"
	"strings"
	"sync"

	"github.com/kennylajara/news/pkg/entity"
)

// Analyzer turns names into token rows.
type Analyzer struct {
	stop *Stopwords
}

// NewAnalyzer creates an analyzer. A nil stopword set uses the fixed
// Spanish closed-class list.
func NewAnalyzer(stop *Stopwords) *Analyzer {
	if stop == nil {
		stop = NewStopwords(false)
	}
	return &Analyzer{stop: stop}
}

// Stopwords exposes the analyzer's stopword set.
func (a *Analyzer) Stopwords() *Stopwords { return a.stop }

// Analyze tokenizes a name into reverse-index rows. SeemsLikeInitials is
// decided only after every token is classified: the entity must have
// exactly one non-stopword token, all uppercase, equal to the whole name
// once periods are removed.
func (a *Analyzer) Analyze(entityID int64, name string) []entity.Token {
	raw := Tokenize(name)
	rows := make([]entity.Token, 0, len(raw))
	content := -1
	contentCount := 0

	for _, tok := range raw {
		n := Normalize(tok)
		if n == "" {
			continue
		}
		stop := a.stop.Contains(n)
		rows = append(rows, entity.Token{
			EntityID:   entityID,
			Token:      tok,
			Normalized: n,
			Position:   len(rows),
			IsStopword: stop,
		})
		if !stop {
			content = len(rows) - 1
			contentCount++
		}
	}

	if contentCount == 1 {
		tok := rows[content].Token
		if isAllUpper(tok) && stripPeriods(tok) == stripPeriods(strings.TrimSpace(name)) {
			rows[content].SeemsLikeInitials = true
		}
	}
	return rows
}

// ContentTokens returns the distinct normalized non-stopword tokens in
// position order.
func ContentTokens(rows []entity.Token) []string {
	seen := make(map[string]bool, len(rows))
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.IsStopword || seen[r.Normalized] {
			continue
		}
		seen[r.Normalized] = true
		out = append(out, r.Normalized)
	}
	return out
}

// Initials concatenates the first rune of every non-stopword token.
func Initials(rows []entity.Token) string {
	var b strings.Builder
	for _, r := range rows {
		if r.IsStopword {
			continue
		}
		for _, ch := range r.Normalized {
			b.WriteRune(ch)
			break
		}
	}
	return b.String()
}

// IsInitials reports whether the rows carry the seems-like-initials flag.
func IsInitials(rows []entity.Token) bool {
	for _, r := range rows {
		if r.SeemsLikeInitials {
			return true
		}
	}
	return false
}

// Entry is the indexed view of one entity.
type Entry struct {
	ID         int64
	Name       string
	NameLength int
	Type       entity.Type
	Tokens     []entity.Token
}

type idSet map[int64]struct{}

// Index is the in-memory reverse index. Safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	analyzer *Analyzer
	entries  map[int64]*Entry
	postings map[string]idSet // normalized token -> entities having it
	initials map[string]idSet // token of initials-flagged entities
	acronyms map[string]idSet // initials of entities with >= 2 content tokens
}

// NewIndex creates an empty index.
func NewIndex(analyzer *Analyzer) *Index {
	if analyzer == nil {
		analyzer = NewAnalyzer(nil)
	}
	return &Index{
		analyzer: analyzer,
		entries:  make(map[int64]*Entry),
		postings: make(map[string]idSet),
		initials: make(map[string]idSet),
		acronyms: make(map[string]idSet),
	}
}

// Analyzer returns the analyzer used by Replace.
func (ix *Index) Analyzer() *Analyzer { return ix.analyzer }

// Replace tokenizes the entity and replaces any rows it had. Calling it
// twice with the same entity leaves the index unchanged.
func (ix *Index) Replace(e entity.Entity) []entity.Token {
	rows := ix.analyzer.Analyze(e.ID, e.Name)
	ix.Load(e, rows)
	return rows
}

// Load indexes already analyzed rows, e.g. hydrated from the store.
func (ix *Index) Load(e entity.Entity, rows []entity.Token) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.removeLocked(e.ID)

	length := e.NameLength
	if length == 0 {
		length = entity.NameLength(e.Name)
	}
	entry := &Entry{
		ID:         e.ID,
		Name:       e.Name,
		NameLength: length,
		Type:       e.Type,
		Tokens:     append([]entity.Token(nil), rows...),
	}
	ix.entries[e.ID] = entry

	for _, r := range rows {
		add(ix.postings, r.Normalized, e.ID)
		if r.SeemsLikeInitials {
			add(ix.initials, r.Normalized, e.ID)
		}
	}
	if len(ContentTokens(rows)) >= 2 {
		add(ix.acronyms, Initials(rows), e.ID)
	}
}

// Remove drops an entity from the index.
func (ix *Index) Remove(id int64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(id)
}

func (ix *Index) removeLocked(id int64) {
	old, ok := ix.entries[id]
	if !ok {
		return
	}
	for _, r := range old.Tokens {
		del(ix.postings, r.Normalized, id)
		if r.SeemsLikeInitials {
			del(ix.initials, r.Normalized, id)
		}
	}
	if len(ContentTokens(old.Tokens)) >= 2 {
		del(ix.acronyms, Initials(old.Tokens), id)
	}
	delete(ix.entries, id)
}

// Entry returns a copy of the indexed entry.
func (ix *Index) Entry(id int64) (Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entries[id]
	if !ok {
		return Entry{}, false
	}
	cp := *e
	cp.Tokens = append([]entity.Token(nil), e.Tokens...)
	return cp, true
}

// Len returns the number of indexed entities.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// WithAllTokens returns the entities whose token set contains every given
// normalized token, sorted by ID.
func (ix *Index) WithAllTokens(tokens []string) []int64 {
	if len(tokens) == 0 {
		return nil
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	// Intersect starting from the rarest token.
	sets := make([]idSet, 0, len(tokens))
	for _, t := range tokens {
		s, ok := ix.postings[t]
		if !ok || len(s) == 0 {
			return nil
		}
		sets = append(sets, s)
	}
	sort.Slice(sets, func(i, j int) bool { return len(sets[i]) < len(sets[j]) })

	var out []int64
outer:
	for id := range sets[0] {
		for _, s := range sets[1:] {
			if _, ok := s[id]; !ok {
				continue outer
			}
		}
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

// InitialsMatches returns initials-flagged entities whose token equals the
// normalized string.
func (ix *Index) InitialsMatches(normalized string) []int64 {
	return ix.lookup(ix.initials, normalized)
}

// AcronymMatches returns multi-token entities whose initials equal the
// normalized string.
func (ix *Index) AcronymMatches(normalized string) []int64 {
	return ix.lookup(ix.acronyms, normalized)
}

func (ix *Index) lookup(m map[string]idSet, key string) []int64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	s := m[key]
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

func add(m map[string]idSet, key string, id int64) {
	s, ok := m[key]
	if !ok {
		s = make(idSet)
		m[key] = s
	}
	s[id] = struct{}{}
}

func del(m map[string]idSet, key string, id int64) {
	s, ok := m[key]
	if !ok {
		return
	}
	delete(s, id)
	if len(s) == 0 {
		delete(m, key)
	}
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

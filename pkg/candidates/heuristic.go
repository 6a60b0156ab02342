package candidates

import (
	"fmt"
	"strings"

	"github.com/kennylajara/news/pkg/tokenindex"
)

// HeuristicMatcher finds candidates by token containment and initials.
type HeuristicMatcher struct {
	index  *tokenindex.Index
	filter Filter
}

// NewHeuristicMatcher creates a matcher over the index. A nil filter
// accepts every entity.
func NewHeuristicMatcher(index *tokenindex.Index, filter Filter) *HeuristicMatcher {
	return &HeuristicMatcher{index: index, filter: filter}
}

// FindCandidates returns entities strictly longer than the queried one that
// contain all of its content tokens, or whose initials relate to it. Plural
// abbreviations ("EE.UU." for "Estados Unidos") bypass the length rule.
// Results are ordered by name length, then ID.
func (m *HeuristicMatcher) FindCandidates(id int64, max int) ([]Candidate, error) {
	self, ok := m.index.Entry(id)
	if !ok {
		return nil, fmt.Errorf("heuristic candidates for %d: %w", id, ErrUnknownEntity)
	}

	content := tokenindex.ContentTokens(self.Tokens)
	if len(content) == 0 {
		return nil, nil
	}

	found := make(map[int64]Candidate)
	add := func(ids []int64, kind Kind, anyLength bool) {
		for _, cid := range ids {
			if cid == id {
				continue
			}
			if _, dup := found[cid]; dup {
				continue
			}
			entry, ok := m.index.Entry(cid)
			if !ok {
				continue
			}
			if !anyLength && entry.NameLength <= self.NameLength {
				continue
			}
			if m.filter != nil && !m.filter(entry) {
				continue
			}
			found[cid] = fromEntry(entry, kind, 0)
		}
	}

	add(m.index.WithAllTokens(content), KindContainment, false)

	flagged := tokenindex.IsInitials(self.Tokens)
	if len(content) >= 2 || !flagged {
		initials := tokenindex.Initials(self.Tokens)
		add(m.index.InitialsMatches(initials), KindInitials, false)
		add(m.index.InitialsMatches(doubled(initials)), KindPluralInitials, true)
	}
	if flagged {
		// "JCE" looks for multi-token names abbreviated as "jce".
		add(m.index.AcronymMatches(content[0]), KindInitials, false)
		if single, ok := collapse(content[0]); ok {
			add(m.index.AcronymMatches(single), KindPluralInitials, true)
		}
	}

	out := make([]Candidate, 0, len(found))
	for _, c := range found {
		out = append(out, c)
	}
	sortByLength(out)
	return capAt(out, max), nil
}

// doubled repeats every rune: "eu" -> "eeuu".
func doubled(s string) string {
	var b strings.Builder
	b.Grow(2 * len(s))
	for _, r := range s {
		b.WriteRune(r)
		b.WriteRune(r)
	}
	return b.String()
}

// collapse reverses doubled for tokens made of at least two repeated pairs:
// "eeuu" -> "eu". Anything else is rejected.
func collapse(s string) (string, bool) {
	rs := []rune(s)
	if len(rs) < 4 || len(rs)%2 != 0 {
		return "", false
	}
	out := make([]rune, 0, len(rs)/2)
	for i := 0; i < len(rs); i += 2 {
		if rs[i] != rs[i+1] {
			return "", false
		}
		out = append(out, rs[i])
	}
	return string(out), true
}

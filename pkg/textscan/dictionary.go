// Package textscan finds entity surface forms inside raw article text with a
// single Aho-Corasick automaton.
//
// Matching is substring based over canonicalized text, so a short surface
// form can hit inside a longer word. Callers treat hits as evidence, not
// proof.
package textscan

import (
	"strings"
	"unicode"

	"github.com/coregx/ahocorasick"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// isJoiner returns true for punctuation that commonly appears inside names.
// Examples: "O'Brien", "Jean-Luc", "AT&T", "J.C.E."
func isJoiner(r rune) bool {
	switch r {
	case '\'', '-', '.', '_', '/', '#', '&':
		return true
	default:
		return false
	}
}

// Canonicalize is used for both pattern compilation and text scanning:
// lowercase, diacritics folded, curly quotes and dashes normalized, every
// other separator collapsed into one space.
func Canonicalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}

	var out strings.Builder
	out.Grow(len(s))
	lastWasSpace := true

	for _, ch := range s {
		c := unicode.ToLower(ch)
		switch c {
		case '’', '‘':
			c = '\''
		case '–', '—':
			c = '-'
		}

		if unicode.IsLetter(c) || unicode.IsDigit(c) || isJoiner(c) {
			out.WriteRune(c)
			lastWasSpace = false
		} else if !lastWasSpace {
			out.WriteRune(' ')
			lastWasSpace = true
		}
	}

	return strings.TrimRight(out.String(), " ")
}

// Surface lists the forms under which an entity may appear in text.
type Surface struct {
	ID    int64
	Forms []string
}

// Dictionary maps canonical patterns back to entity IDs.
type Dictionary struct {
	ac *ahocorasick.Automaton

	// Pattern index -> entity IDs (several entities may share a form)
	patternToIDs [][]int64
	patternIndex map[string]int
	patterns     []string
}

// Match is one hit in the canonicalized text.
type Match struct {
	Start   int
	End     int
	Pattern string
	IDs     []int64
}

// Compile builds a dictionary from entity surfaces. Empty forms are skipped;
// a dictionary without patterns is valid and matches nothing.
func Compile(surfaces []Surface) (*Dictionary, error) {
	d := &Dictionary{patternIndex: make(map[string]int)}

	for _, s := range surfaces {
		for _, form := range s.Forms {
			key := Canonicalize(form)
			if key == "" {
				continue
			}
			if idx, ok := d.patternIndex[key]; ok {
				d.patternToIDs[idx] = appendUnique(d.patternToIDs[idx], s.ID)
				continue
			}
			d.patternIndex[key] = len(d.patterns)
			d.patterns = append(d.patterns, key)
			d.patternToIDs = append(d.patternToIDs, []int64{s.ID})
		}
	}

	if len(d.patterns) == 0 {
		return d, nil
	}

	automaton, err := ahocorasick.NewBuilder().
		AddStrings(d.patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, err
	}
	d.ac = automaton
	return d, nil
}

// Len returns the number of distinct patterns.
func (d *Dictionary) Len() int { return len(d.patterns) }

// Scan returns every (possibly overlapping) pattern hit in text.
func (d *Dictionary) Scan(text string) []Match {
	if d.ac == nil {
		return nil
	}
	haystack := []byte(Canonicalize(text))
	found := d.ac.FindAllOverlapping(haystack)

	out := make([]Match, 0, len(found))
	for _, m := range found {
		if m.PatternID < 0 || m.PatternID >= len(d.patterns) {
			continue
		}
		out = append(out, Match{
			Start:   m.Start,
			End:     m.End,
			Pattern: d.patterns[m.PatternID],
			IDs:     d.patternToIDs[m.PatternID],
		})
	}
	return out
}

// Hits counts, per entity ID, how many pattern hits the text contains.
func (d *Dictionary) Hits(text string) map[int64]int {
	hits := make(map[int64]int)
	for _, m := range d.Scan(text) {
		for _, id := range m.IDs {
			hits[id]++
		}
	}
	return hits
}

func appendUnique(ids []int64, id int64) []int64 {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}

package tokenindex

import (
	"github.com/orsinium-labs/stopwords"
)

// spanishClosedClass holds normalized Spanish articles, contractions,
// prepositions and conjunctions. Stopword tokens stay in the index for
// exact-phrase lookups but never count for containment or initials.
var spanishClosedClass = map[string]bool{
	// articles and contractions
	"el": true, "la": true, "los": true, "las": true, "lo": true,
	"un": true, "una": true, "unos": true, "unas": true,
	"al": true, "del": true,

	// prepositions
	"a": true, "ante": true, "bajo": true, "cabe": true, "con": true,
	"contra": true, "de": true, "desde": true, "durante": true, "en": true,
	"entre": true, "hacia": true, "hasta": true, "mediante": true, "para": true,
	"por": true, "segun": true, "sin": true, "so": true, "sobre": true,
	"tras": true, "versus": true, "via": true,

	// conjunctions
	"y": true, "e": true, "ni": true, "o": true, "u": true,
	"pero": true, "sino": true, "que": true, "mas": true,
}

// Stopwords classifies normalized tokens as closed-class words.
type Stopwords struct {
	custom   map[string]bool
	extended *stopwords.Stopwords // optional broad list, nil when disabled
}

// NewStopwords builds the fixed Spanish set. When extended is true the
// broader Spanish list from orsinium-labs/stopwords is consulted too.
func NewStopwords(extended bool) *Stopwords {
	s := &Stopwords{
		custom: make(map[string]bool, len(spanishClosedClass)),
	}
	for w := range spanishClosedClass {
		s.custom[w] = true
	}
	if extended {
		s.extended = stopwords.MustGet("es")
	}
	return s
}

// Add registers an extra stopword. The word is normalized first.
func (s *Stopwords) Add(word string) {
	if n := Normalize(word); n != "" {
		s.custom[n] = true
	}
}

// Contains reports whether a normalized token is a stopword.
func (s *Stopwords) Contains(normalized string) bool {
	if s.custom[normalized] {
		return true
	}
	return s.extended != nil && s.extended.Contains(normalized)
}

// Package candidates finds entities that may denote the same thing as a
// given entity. Two strategies are provided: token and initials heuristics
// over the reverse index, and MinHash-LSH over character bigrams.
package candidates

import (
	"errors"
	"sort"

	"github.com/kennylajara/news/pkg/entity"
	"github.com/kennylajara/news/pkg/tokenindex"
)

// DefaultMaxCandidates caps every strategy when the caller passes max <= 0.
const DefaultMaxCandidates = 100

// ErrUnknownEntity is returned when the queried entity is not indexed.
var ErrUnknownEntity = errors.New("entity not indexed")

// Kind tells how a candidate was found.
type Kind string

const (
	KindContainment    Kind = "containment"
	KindInitials       Kind = "initials"
	KindPluralInitials Kind = "plural_initials"
	KindMinHash        Kind = "minhash"
)

// Candidate is one possible match for a queried entity. Similarity is the
// exact Jaccard score for MinHash hits and zero for heuristic hits.
type Candidate struct {
	ID         int64
	Name       string
	NameLength int
	Type       entity.Type
	Kind       Kind
	Similarity float64
}

// Finder is implemented by every discovery strategy.
type Finder interface {
	FindCandidates(id int64, max int) ([]Candidate, error)
}

// Filter decides whether an indexed entity may be returned as a candidate.
type Filter func(tokenindex.Entry) bool

func fromEntry(e tokenindex.Entry, kind Kind, sim float64) Candidate {
	return Candidate{
		ID:         e.ID,
		Name:       e.Name,
		NameLength: e.NameLength,
		Type:       e.Type,
		Kind:       kind,
		Similarity: sim,
	}
}

func sortByLength(cs []Candidate) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].NameLength != cs[j].NameLength {
			return cs[i].NameLength < cs[j].NameLength
		}
		return cs[i].ID < cs[j].ID
	})
}

func capAt(cs []Candidate, max int) []Candidate {
	if max <= 0 {
		max = DefaultMaxCandidates
	}
	if len(cs) > max {
		return cs[:max]
	}
	return cs
}

// Chain queries several finders in order and merges their results. The
// first finder to return an ID wins; later duplicates are dropped.
type Chain []Finder

// FindCandidates implements Finder.
func (c Chain) FindCandidates(id int64, max int) ([]Candidate, error) {
	seen := make(map[int64]bool)
	var out []Candidate
	for _, f := range c {
		found, err := f.FindCandidates(id, max)
		if err != nil {
			return nil, err
		}
		for _, cand := range found {
			if seen[cand.ID] {
				continue
			}
			seen[cand.ID] = true
			out = append(out, cand)
		}
	}
	return capAt(out, max), nil
}

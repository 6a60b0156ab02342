package resolution

import (
	"context"
	"fmt"
	"slices"

	"github.com/kennylajara/news/pkg/entity"
)

// RulePolicy is the deterministic decider. The candidate's classification
// dominates: an alias candidate stands for its canonical, an ambiguous one
// for its whole set, and the evaluated entity is resolved against those
// canonicals directly.
type RulePolicy struct{}

// Decide implements Decider.
func (RulePolicy) Decide(_ context.Context, p Pair) (Decision, error) {
	targets, ok := resolveCandidate(p.Candidate)
	if !ok {
		return NoMatch(SourceRules, fmt.Sprintf("candidate %d is %s", p.Candidate.ID, p.Candidate.Classification)), nil
	}
	targets = slices.DeleteFunc(targets, func(id int64) bool { return id == p.Evaluated.ID })
	if len(targets) == 0 {
		return NoMatch(SourceRules, "candidate resolves to the evaluated entity"), nil
	}

	switch p.Evaluated.Classification {
	case entity.Canonical:
		if len(targets) == 1 {
			return Decision{
				Action:     ActionAlias,
				Targets:    targets,
				Confidence: 1,
				Reasoning:  fmt.Sprintf("alias of canonical %d", targets[0]),
				Source:     SourceRules,
			}, nil
		}
		return Decision{
			Action:     ActionAmbiguous,
			Targets:    targets,
			Confidence: 1,
			Reasoning:  fmt.Sprintf("candidate %d is ambiguous over %v", p.Candidate.ID, targets),
			Source:     SourceRules,
		}, nil

	case entity.Alias, entity.Ambiguous:
		union := sortedSet(append(slices.Clone(p.Evaluated.References), targets...))
		if slices.Equal(union, sortedSet(p.Evaluated.References)) {
			return NoMatch(SourceRules, "already references every candidate canonical"), nil
		}
		return Decision{
			Action:     ActionAmbiguous,
			Targets:    union,
			Confidence: 1,
			Reasoning:  fmt.Sprintf("merged %v into existing references", targets),
			Source:     SourceRules,
		}, nil
	}

	return NoMatch(SourceRules, fmt.Sprintf("evaluated %d is %s", p.Evaluated.ID, p.Evaluated.Classification)), nil
}

// resolveCandidate returns the canonicals a candidate stands for.
func resolveCandidate(n Node) ([]int64, bool) {
	switch n.Classification {
	case entity.Canonical:
		return []int64{n.ID}, true
	case entity.Alias, entity.Ambiguous:
		if len(n.References) == 0 {
			return nil, false
		}
		return slices.Clone(n.References), true
	}
	return nil, false
}

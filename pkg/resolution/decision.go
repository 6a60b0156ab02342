package resolution

import (
	"context"
	"fmt"
	"strings"

	"github.com/kennylajara/news/pkg/entity"
)

// Action is what a decision asks the engine to do with the evaluated entity.
type Action string

const (
	ActionNone      Action = "none"
	ActionCanonical Action = "canonical"
	ActionAlias     Action = "alias"
	ActionAmbiguous Action = "ambiguous"
	ActionNotEntity Action = "not_an_entity"
)

// ParseAction accepts both action names and classification names.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "no_match", "unrelated":
		return ActionNone, nil
	case "canonical":
		return ActionCanonical, nil
	case "alias":
		return ActionAlias, nil
	case "ambiguous":
		return ActionAmbiguous, nil
	case "not_an_entity", "not_entity", "notentity":
		return ActionNotEntity, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Source identifies the producer of a decision.
type Source string

const (
	SourceRules Source = "rules"
	SourceLLM   Source = "llm"
)

// Decision is produced by a Decider and consumed by Engine.Apply. The engine
// does not care which producer emitted it.
type Decision struct {
	Action     Action
	Targets    []int64 // canonical ids for alias/ambiguous
	Confidence float64
	Reasoning  string
	Source     Source
}

// NoMatch is a decision that leaves the classification alone.
func NoMatch(src Source, reason string) Decision {
	return Decision{Action: ActionNone, Confidence: 1, Reasoning: reason, Source: src}
}

// Node is a read-only view of one entity in the reference graph.
type Node struct {
	ID             int64
	Classification entity.Classification
	References     []int64 // outgoing, sorted
}

// Pair is the input of a pairwise decision.
type Pair struct {
	Evaluated Node
	Candidate Node
}

// Decider compares an evaluated entity with one candidate.
type Decider interface {
	Decide(ctx context.Context, pair Pair) (Decision, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, pair Pair) (Decision, error)

// Decide implements Decider.
func (f DeciderFunc) Decide(ctx context.Context, pair Pair) (Decision, error) {
	return f(ctx, pair)
}

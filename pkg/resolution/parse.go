package resolution

import (
	"encoding/json"
	"fmt"
	"strings"
)

// comparatorReply is the JSON shape the pairwise comparator answers with.
// "classification" and "action" are accepted interchangeably.
type comparatorReply struct {
	Action         string   `json:"action"`
	Classification string   `json:"classification"`
	Targets        []int64  `json:"targets"`
	CanonicalIDs   []int64  `json:"canonical_ids"`
	Confidence     *float64 `json:"confidence"`
	Reasoning      string   `json:"reasoning"`
}

// ParseDecision parses a comparator reply into a Decision. Markdown code
// fences are stripped. A missing confidence is treated as zero so the
// decision lands as a suggestion.
func ParseDecision(raw string) (Decision, error) {
	cleaned := stripCodeFence(strings.TrimSpace(raw))
	if cleaned == "" {
		return Decision{}, fmt.Errorf("parse decision: empty reply")
	}

	// Tolerate chatter around the object.
	if start, end := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}"); start >= 0 && end > start {
		cleaned = cleaned[start : end+1]
	}

	var reply comparatorReply
	if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
		return Decision{}, fmt.Errorf("parse decision: %w", err)
	}

	name := reply.Action
	if name == "" {
		name = reply.Classification
	}
	action, err := ParseAction(name)
	if err != nil {
		return Decision{}, fmt.Errorf("parse decision: %w", err)
	}

	d := Decision{
		Action:    action,
		Targets:   reply.Targets,
		Reasoning: strings.TrimSpace(reply.Reasoning),
		Source:    SourceLLM,
	}
	if len(d.Targets) == 0 {
		d.Targets = reply.CanonicalIDs
	}
	d.Targets = sortedSet(d.Targets)
	if reply.Confidence != nil {
		d.Confidence = min(max(*reply.Confidence, 0), 1)
	}
	return d, nil
}

// stripCodeFence removes markdown code block wrappers (```json ... ```).
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	lines = lines[1:]
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

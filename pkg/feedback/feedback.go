// Package feedback persists recall exemplars in a per-agent vector
// collection and retrieves them by semantic similarity.
package feedback

import (
	"strings"
	"unicode"
)

// Feedback is one recall exemplar: what was observed, what was done, and
// the state it happened in.
type Feedback struct {
	ObservationName    string `json:"observation_name"`
	ObservationContent string `json:"observation_content"`
	ActionName         string `json:"action_name"`
	ActionContent      string `json:"action_content"`
	StateName          string `json:"state_name"`
}

// Tags derives the string used for vector indexing. It is a pure function
// of the feedback value, so re-embedding the same feedback yields the same
// vector.
func (f Feedback) Tags() string {
	return strings.Join([]string{
		f.ObservationName,
		f.ObservationContent,
		f.StateName,
	}, "\n")
}

// dedupKey identifies a feedback for recall deduplication.
func (f Feedback) dedupKey() string {
	return f.ObservationName + "\x00" + f.ActionName + "\x00" + f.StateName
}

// CollectionName converts an agent name to the PascalCase class name the
// vector store requires ("chat agent-01" -> "ChatAgent01").
func CollectionName(agentName string) string {
	var b strings.Builder
	upperNext := true
	for _, r := range agentName {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upperNext = true
			continue
		}
		if upperNext {
			b.WriteRune(unicode.ToUpper(r))
			upperNext = false
		} else {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "DefaultAgent"
	}
	return b.String()
}

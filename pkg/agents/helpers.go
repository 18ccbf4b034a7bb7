// Package agents implements the specialized agents behind each control
// decision: state selection, state creation, action selection, pairwise
// answer judging, and the backward-pipeline extraction steps.
package agents

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ospa-ai/relay/pkg/feedback"
	"github.com/ospa-ai/relay/pkg/fsm"
	"github.com/ospa-ai/relay/pkg/ospa"
	"github.com/ospa-ai/relay/pkg/utils"
)

// ErrInvalidStateSelection reports a state selection that could not be
// resolved to any allowed state.
var ErrInvalidStateSelection = errors.New("invalid state selection")

// renderStates renders the candidate states as a numbered YAML list the
// selection prompt consumes.
func renderStates(states []fsm.State) string {
	type numbered struct {
		Number   int    `yaml:"number"`
		Name     string `yaml:"name"`
		Scenario string `yaml:"scenario,omitempty"`
	}
	entries := make([]numbered, 0, len(states))
	for i, s := range states {
		entries = append(entries, numbered{Number: i + 1, Name: s.Name, Scenario: s.Scenario})
	}
	out, err := yaml.Marshal(entries)
	if err != nil {
		return ""
	}
	return string(out)
}

// renderFeedbacks renders recall exemplars for prompt injection. Empty
// input renders as an explicit "none".
func renderFeedbacks(feedbacks []feedback.Feedback) string {
	if len(feedbacks) == 0 {
		return "(none)"
	}
	type entry struct {
		Observation string `yaml:"observation"`
		Action      string `yaml:"action"`
		State       string `yaml:"state"`
	}
	entries := make([]entry, 0, len(feedbacks))
	for _, fb := range feedbacks {
		entries = append(entries, entry{
			Observation: fb.ObservationName + ": " + fb.ObservationContent,
			Action:      fb.ActionName + ": " + fb.ActionContent,
			State:       fb.StateName,
		})
	}
	out, err := yaml.Marshal(entries)
	if err != nil {
		return "(none)"
	}
	return string(out)
}

// parseToolArguments decodes a tool-call argument payload, tolerating the
// double-encoded JSON some providers emit.
func parseToolArguments(raw string) map[string]interface{} {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]interface{}{}
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args
	}

	var inner string
	if err := json.Unmarshal([]byte(raw), &inner); err == nil {
		if err := json.Unmarshal([]byte(inner), &args); err == nil {
			return args
		}
	}

	if err := json.Unmarshal([]byte(utils.FixJSON(raw)), &args); err == nil {
		return args
	}
	return map[string]interface{}{}
}

// intField reads a numeric field that models sometimes emit as a string
// ("2", "option 2").
func intField(m map[string]interface{}, key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case string:
		n, err := utils.SafeInt(v)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// parseChoiceIndex reduces a structured choice response to its integer
// index, tolerating bare numbers and noisy strings.
func parseChoiceIndex(raw interface{}) (int, bool) {
	switch v := raw.(type) {
	case map[string]interface{}:
		return intField(v, "index")
	case float64:
		return int(v), true
	case string:
		n, err := utils.SafeInt(v)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// renderQAPairs renders the numbered (question, answer) pairs for the BQA
// extraction prompt.
func renderQAPairs(items []ospa.QAItem) string {
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "%d. question: %s\n   answer: %s\n", i+1, item.Question, item.Answer)
	}
	return b.String()
}

// renderBQAIndex renders indexed BQA items ("<list>-<item>", 1-based) for
// the chapter aggregation prompt.
func renderBQAIndex(lists []ospa.BQAList) string {
	var b strings.Builder
	for li, list := range lists {
		for ii, item := range list.Items {
			fmt.Fprintf(&b, "[%d-%d]", li+1, ii+1)
			if item.Background != "" {
				fmt.Fprintf(&b, " background: %s |", item.Background)
			}
			fmt.Fprintf(&b, " question: %s | answer: %s\n", item.Question, item.Answer)
		}
	}
	return b.String()
}

// Package ospa holds the backward-pipeline data model: Q&A transcripts,
// background-enriched Q&A (BQA), the chapter forest, and the final
// Observation-State-Prompt-Answer rows.
package ospa

// QAItem is one question/answer pair from a transcript.
type QAItem struct {
	Question string                 `json:"question"`
	Answer   string                 `json:"answer"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// QAList groups items under the multi-turn session they came from.
type QAList struct {
	SessionID string   `json:"session_id"`
	Items     []QAItem `json:"items"`
}

// BQAItem is a standalone-interpretable reformulation of a QAItem. An
// empty Background means the item has no prior-turn dependency.
type BQAItem struct {
	CQAID      string                 `json:"cqa_id"`
	Background string                 `json:"background"`
	Question   string                 `json:"question"`
	Answer     string                 `json:"answer"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// BQAList groups BQA items under their source session.
type BQAList struct {
	SessionID string    `json:"session_id"`
	Items     []BQAItem `json:"items"`
}

// Row is one training-ready OSPA row.
type Row struct {
	Observation string `json:"observation"`
	State       string `json:"state"`
	Prompt      string `json:"prompt"`
	Answer      string `json:"answer"`
}

// Pairwise judgment labels, ordered by precedence when the model returns
// ambiguous data (strongest last).
const (
	LabelEquivalent          = "equivalent"
	LabelPartiallyEquivalent = "partially_equivalent"
	LabelDifferent           = "different"
	LabelUnsupported         = "unsupported"
)

// LabelPrecedence returns the rank of a label for ambiguity resolution:
// unsupported > different > partially_equivalent > equivalent.
func LabelPrecedence(label string) int {
	switch label {
	case LabelUnsupported:
		return 3
	case LabelDifferent:
		return 2
	case LabelPartiallyEquivalent:
		return 1
	case LabelEquivalent:
		return 0
	default:
		return -1
	}
}

// PairwiseJudge is the verdict for one candidate answer.
type PairwiseJudge struct {
	Index      int     `json:"index"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

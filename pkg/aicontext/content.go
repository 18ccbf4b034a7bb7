// Package aicontext models the ordered message context sent to an LLM.
package aicontext

import "encoding/json"

// PartType discriminates content parts.
type PartType string

const (
	PartText     PartType = "text"
	PartMarkdown PartType = "markdown"
	PartJSON     PartType = "json"
)

// Part is one piece of a composite message content. Immutable after creation.
type Part struct {
	Type PartType
	Text string
}

func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

func MarkdownPart(text string) Part {
	return Part{Type: PartMarkdown, Text: text}
}

// JSONPart stores v as a canonical JSON string.
func JSONPart(v interface{}) Part {
	b, err := json.Marshal(v)
	if err != nil {
		return Part{Type: PartJSON, Text: "null"}
	}
	return Part{Type: PartJSON, Text: string(b)}
}

// Render flattens the part to wire text. Markdown is fenced so the model
// sees it as a block, JSON is passed through as its canonical string.
func (p Part) Render() string {
	switch p.Type {
	case PartMarkdown:
		return "```markdown\n" + p.Text + "\n```"
	default:
		return p.Text
	}
}

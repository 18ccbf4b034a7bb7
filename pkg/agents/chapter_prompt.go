package agents

import (
	"context"
	"strings"

	"github.com/ospa-ai/relay/pkg/agent"
	"github.com/ospa-ai/relay/pkg/llms"
	"github.com/ospa-ai/relay/pkg/ospa"
	"github.com/ospa-ai/relay/pkg/usage"
)

const chapterPromptSystemPrompt = `You write guidance prompts for a question-answering model. The prompt you write must constrain the model to answer strictly from the given chapter's subject matter, tell it to reply "insufficient evidence" for out-of-scope questions, and suggest how the user could refine such questions. Reply with the prompt text only.`

const chapterPromptUserTemplate = `Chapter name:
{chapter_name}

Question/answer items in this chapter:
{chapter_items}

Write the guidance prompt for this chapter.`

// DefaultChapterPrompt is the fallback when prompt synthesis fails.
func DefaultChapterPrompt(chapterName string) string {
	return "请基于" + chapterName + "章节的知识回答问题。"
}

// ChapterPromptAgent synthesizes the per-chapter guidance prompt.
type ChapterPromptAgent struct {
	*agent.Agent
}

func NewChapterPromptAgent(engine *llms.Client) *ChapterPromptAgent {
	base := agent.New("gen_chapter_prompt", chapterPromptSystemPrompt, chapterPromptUserTemplate, engine)
	if engine != nil {
		base.SetEngine(engine)
	}
	return &ChapterPromptAgent{Agent: base}
}

// Step produces the guidance prompt for one chapter. Synthesis runs at a
// low temperature to keep prompts stable across runs.
func (a *ChapterPromptAgent) Step(ctx context.Context, chapterName string, items []ospa.BQAItem, counter *usage.Counter) (string, error) {
	var rendered strings.Builder
	for _, item := range items {
		if item.Background != "" {
			rendered.WriteString("background: " + item.Background + "\n")
		}
		rendered.WriteString("question: " + item.Question + "\n")
		rendered.WriteString("answer: " + item.Answer + "\n\n")
	}

	vars := map[string]string{
		"chapter_name":  chapterName,
		"chapter_items": rendered.String(),
	}
	aiCtx, err := a.BuildContext(nil, vars)
	if err != nil {
		return "", err
	}

	prompt, err := a.Engine().Ask(ctx, aiCtx.WireFormat(), llms.CallOptions{
		Temperature: llms.Temp(0.3),
		Counter:     counter,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(prompt), nil
}

package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/ospa-ai/relay/pkg/agent"
	"github.com/ospa-ai/relay/pkg/llms"
	"github.com/ospa-ai/relay/pkg/ospa"
	"github.com/ospa-ai/relay/pkg/usage"
	"github.com/ospa-ai/relay/pkg/utils"
)

const aggChaptersSystemPrompt = `You organize question/answer items into topical chapters. Every item must appear in exactly one chapter. Give each chapter a concise name and a one-sentence reason for the grouping.`

const aggChaptersUserTemplate = `Indexed question/answer items (index format <list>-<item>):
{bqa_items}

Group every item into chapters. Return a JSON object of the form
{"chapters": [{"chapter_name": ..., "reason": ..., "qas": ["1-1", "1-2"]}]}.
Do not drop or duplicate any index.`

const classifySystemPrompt = `You match a new chapter to the most fitting node of an existing chapter outline. Answer with the number of the best match, or 0 when nothing fits.`

const classifyUserTemplate = `New chapter:
{chapter_name}

Existing outline nodes:
{options}

Answer with the number of the best-matching node, or 0 if none fits.`

// ChapterDraft is one chapter as proposed by the aggregation call, before
// it is attached to the structure.
type ChapterDraft struct {
	ChapterName string
	Reason      string
	QAs         []string
}

// AggChaptersAgent groups all BQA items into chapters in one call over the
// whole corpus, and classifies new chapters against an existing outline.
type AggChaptersAgent struct {
	*agent.Agent
	classifier *agent.Agent
}

func NewAggChaptersAgent(engine *llms.Client) *AggChaptersAgent {
	base := agent.New("agg_chapters", aggChaptersSystemPrompt, aggChaptersUserTemplate, engine)
	classifier := agent.New("classify_chapter", classifySystemPrompt, classifyUserTemplate, engine)
	if engine != nil {
		base.SetEngine(engine)
		classifier.SetEngine(engine)
	}
	return &AggChaptersAgent{Agent: base, classifier: classifier}
}

type chapterResponse struct {
	Chapters []struct {
		ChapterName string   `json:"chapter_name"`
		Reason      string   `json:"reason"`
		QAs         []string `json:"qas"`
	} `json:"chapters"`
}

// Step aggregates the items of all lists into chapter drafts, in the
// model's order.
func (a *AggChaptersAgent) Step(ctx context.Context, lists []ospa.BQAList, counter *usage.Counter) ([]ChapterDraft, error) {
	vars := map[string]string{"bqa_items": renderBQAIndex(lists)}
	aiCtx, err := a.BuildContext(nil, vars)
	if err != nil {
		return nil, err
	}

	schema, err := llms.SchemaFor(chapterResponse{}, "chapter_grouping")
	if err != nil {
		return nil, err
	}

	var raw interface{}
	if err := a.Engine().StructuredOutput(ctx, aiCtx.WireFormat(), schema, &raw, llms.CallOptions{Counter: counter}); err != nil {
		return nil, err
	}

	var drafts []ChapterDraft
	for _, entry := range utils.NormalizeToList(raw) {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		draft := ChapterDraft{}
		if v, ok := m["chapter_name"].(string); ok {
			draft.ChapterName = strings.TrimSpace(v)
		}
		if v, ok := m["reason"].(string); ok {
			draft.Reason = v
		}
		if qas, ok := m["qas"].([]interface{}); ok {
			for _, qa := range qas {
				if s, ok := qa.(string); ok {
					draft.QAs = append(draft.QAs, strings.TrimSpace(s))
				}
			}
		}
		if draft.ChapterName != "" {
			drafts = append(drafts, draft)
		}
	}
	return drafts, nil
}

// Classify picks the best-matching existing node for a new chapter.
// Returns the 0-based option index, or -1 when nothing fits.
func (a *AggChaptersAgent) Classify(ctx context.Context, chapterName string, options []string, counter *usage.Counter) (int, error) {
	if len(options) == 0 {
		return -1, nil
	}

	vars := map[string]string{
		"chapter_name": chapterName,
		"options":      renderNumberedOptions(options),
	}
	aiCtx, err := a.classifier.BuildContext(nil, vars)
	if err != nil {
		return -1, err
	}

	schema, err := llms.SchemaFor(stateChoice{}, "outline_choice")
	if err != nil {
		return -1, err
	}

	var choice stateChoice
	if err := a.classifier.Engine().StructuredOutput(ctx, aiCtx.WireFormat(), schema, &choice, llms.CallOptions{Counter: counter}); err != nil {
		return -1, err
	}
	if choice.Index < 1 || choice.Index > len(options) {
		return -1, nil
	}
	return choice.Index - 1, nil
}

func renderNumberedOptions(options []string) string {
	var b strings.Builder
	for i, opt := range options {
		fmt.Fprintf(&b, "%d. %s\n", i+1, utils.Truncate(strings.TrimSpace(opt), 200))
	}
	return b.String()
}

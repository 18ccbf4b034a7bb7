package agents

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ospa-ai/relay/pkg/agent"
	"github.com/ospa-ai/relay/pkg/llms"
	"github.com/ospa-ai/relay/pkg/ospa"
	"github.com/ospa-ai/relay/pkg/usage"
	"github.com/ospa-ai/relay/pkg/utils"
)

const bqaSystemPrompt = `You rewrite question/answer pairs from a multi-turn transcript so that each pair can be understood on its own. For each numbered pair, produce the background a reader needs from earlier turns. Use an empty string when the pair is already self-contained.`

const bqaUserTemplate = `Numbered question/answer pairs from one session:
{qa_pairs}

Return a JSON array where each element is {"index": <1-based pair number>, "background": <background string>}.`

// backReferenceMarkers are the pronouns and back-references that signal a
// prior-turn dependency, used by the parse-failure fallback.
var backReferenceMarkers = []string{
	"它", "这个", "那个", "上面", "前面", "刚才", "之前",
	" it ", "this", "that", "above", "previous",
}

// BQAExtractAgent computes per-item backgrounds for one Q&A list in a
// single LLM call.
type BQAExtractAgent struct {
	*agent.Agent
}

func NewBQAExtractAgent(engine *llms.Client) *BQAExtractAgent {
	base := agent.New("bqa_extract", bqaSystemPrompt, bqaUserTemplate, engine)
	if engine != nil {
		base.SetEngine(engine)
	}
	return &BQAExtractAgent{Agent: base}
}

type backgroundEntry struct {
	Index      int    `json:"index"`
	Background string `json:"background"`
}

type bqaResponse struct {
	Results []backgroundEntry `json:"results"`
}

// Step extracts BQA items from the list. Each emitted item gets a fresh
// cqa_id. If the response cannot be parsed, the pronoun heuristic fills in
// backgrounds instead.
func (a *BQAExtractAgent) Step(ctx context.Context, list ospa.QAList, counter *usage.Counter) (ospa.BQAList, error) {
	out := ospa.BQAList{SessionID: list.SessionID}
	if len(list.Items) == 0 {
		return out, nil
	}

	vars := map[string]string{"qa_pairs": renderQAPairs(list.Items)}
	aiCtx, err := a.BuildContext(nil, vars)
	if err != nil {
		return out, err
	}

	backgrounds := make(map[int]string)

	schema, err := llms.SchemaFor(bqaResponse{}, "bqa_backgrounds")
	if err != nil {
		return out, err
	}
	var raw interface{}
	if err := a.Engine().StructuredOutput(ctx, aiCtx.WireFormat(), schema, &raw, llms.CallOptions{Counter: counter}); err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		slog.Warn("background extraction failed, applying pronoun fallback",
			"session", list.SessionID, "error", err)
		backgrounds = FallbackBackgrounds(list.Items)
	} else {
		for _, entry := range utils.NormalizeToList(raw) {
			m, ok := entry.(map[string]interface{})
			if !ok {
				continue
			}
			idx, okIdx := intField(m, "index")
			bg, okBg := m["background"].(string)
			if okIdx && okBg {
				backgrounds[idx] = bg
			}
		}
	}

	for i, item := range list.Items {
		out.Items = append(out.Items, ospa.BQAItem{
			CQAID:      uuid.NewString(),
			Background: backgrounds[i+1],
			Question:   item.Question,
			Answer:     item.Answer,
			Metadata:   item.Metadata,
		})
	}
	return out, nil
}

// FallbackBackgrounds applies the back-reference heuristic: an item whose
// question contains a pronoun marker inherits a terse rendering of the
// preceding pair, everything else stays self-contained.
func FallbackBackgrounds(items []ospa.QAItem) map[int]string {
	backgrounds := make(map[int]string)
	for i := 1; i < len(items); i++ {
		if !containsBackReference(items[i].Question) {
			continue
		}
		prev := items[i-1]
		backgrounds[i+1] = "Q: " + prev.Question + " A: " + utils.Truncate(prev.Answer, 200)
	}
	return backgrounds
}

func containsBackReference(question string) bool {
	lower := strings.ToLower(question)
	for _, marker := range backReferenceMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

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

const rewardSystemPrompt = `You judge whether candidate answers are semantically equivalent to a target answer. For each candidate, return a verdict with label equivalent, partially_equivalent, different, or unsupported, a confidence between 0 and 1, and a short reason.`

const rewardUserTemplate = `Question:
{question}

Target answer:
{target_answer}

Candidate answers (0-based index):
{candidates}

Judge every candidate against the target answer. Return a JSON array where each element has index, label, confidence and reason.`

// RewardAgent produces one PairwiseJudge per candidate answer.
type RewardAgent struct {
	*agent.Agent
}

func NewRewardAgent(engine *llms.Client) *RewardAgent {
	base := agent.New("reward", rewardSystemPrompt, rewardUserTemplate, engine)
	if engine != nil {
		base.SetEngine(engine)
	}
	return &RewardAgent{Agent: base}
}

type rewardResponse struct {
	Results []ospa.PairwiseJudge `json:"results"`
}

// Step judges the candidates. The provider response shape is normalized:
// it may be wrapped in a results/chapters object or arrive as a bare list.
func (a *RewardAgent) Step(ctx context.Context, question, targetAnswer string, candidates []string, counter *usage.Counter) ([]ospa.PairwiseJudge, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	var rendered strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&rendered, "%d. %s\n", i, c)
	}

	vars := map[string]string{
		"question":      question,
		"target_answer": targetAnswer,
		"candidates":    rendered.String(),
	}
	aiCtx, err := a.BuildContext(nil, vars)
	if err != nil {
		return nil, err
	}

	schema, err := llms.SchemaFor(rewardResponse{}, "pairwise_judges")
	if err != nil {
		return nil, err
	}

	var raw interface{}
	if err := a.Engine().StructuredOutput(ctx, aiCtx.WireFormat(), schema, &raw, llms.CallOptions{Counter: counter}); err != nil {
		return nil, err
	}

	var judges []ospa.PairwiseJudge
	for i, entry := range utils.NormalizeToList(raw) {
		judge, ok := parseJudge(entry)
		if !ok {
			continue
		}
		if judge.Index == 0 && !hasIndexField(entry) {
			judge.Index = i
		}
		judges = append(judges, judge)
	}
	return judges, nil
}

func parseJudge(entry interface{}) (ospa.PairwiseJudge, bool) {
	m, ok := entry.(map[string]interface{})
	if !ok {
		return ospa.PairwiseJudge{}, false
	}

	judge := ospa.PairwiseJudge{}
	if v, ok := intField(m, "index"); ok {
		judge.Index = v
	}
	if v, ok := m["label"].(string); ok {
		judge.Label = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := m["confidence"].(float64); ok {
		judge.Confidence = v
	}
	if v, ok := m["reason"].(string); ok {
		judge.Reason = v
	}
	return judge, judge.Label != "" || judge.Reason != ""
}

func hasIndexField(entry interface{}) bool {
	m, ok := entry.(map[string]interface{})
	if !ok {
		return false
	}
	_, has := m["index"]
	return has
}

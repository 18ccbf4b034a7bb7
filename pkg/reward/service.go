// Package reward judges candidate answers against a target answer.
package reward

import (
	"context"
	"sort"

	"github.com/ospa-ai/relay/pkg/agents"
	"github.com/ospa-ai/relay/pkg/config"
	"github.com/ospa-ai/relay/pkg/llms"
	"github.com/ospa-ai/relay/pkg/ospa"
	"github.com/ospa-ai/relay/pkg/usage"
)

// Result is the full comparison outcome for one question.
type Result struct {
	Question     string               `json:"question"`
	TargetAnswer string               `json:"target_answer"`
	Results      []ospa.PairwiseJudge `json:"results"`
}

type Service struct{}

func NewService() *Service {
	return &Service{}
}

// CompareAnswer judges every candidate against the target. Verdicts are
// ordered by candidate index; when the model returns several verdicts for
// one index, the strongest label wins.
func (s *Service) CompareAnswer(ctx context.Context, setting config.Setting, question string, candidates []string, targetAnswer string) (*Result, *usage.Counter, error) {
	setting.Normalize()
	if err := setting.Validate(); err != nil {
		return nil, nil, err
	}

	counter := usage.NewCounter()
	engine := llms.Get(setting.LLMConfig())

	judges, err := agents.NewRewardAgent(engine).Step(ctx, question, targetAnswer, candidates, counter)
	if err != nil {
		return nil, nil, err
	}

	return &Result{
		Question:     question,
		TargetAnswer: targetAnswer,
		Results:      normalize(judges, len(candidates)),
	}, counter, nil
}

// normalize clamps confidences, maps unknown labels to unsupported,
// resolves per-index ambiguity by label precedence, and orders by index.
func normalize(judges []ospa.PairwiseJudge, candidateCount int) []ospa.PairwiseJudge {
	byIndex := make(map[int]ospa.PairwiseJudge)
	for _, judge := range judges {
		if judge.Index < 0 || judge.Index >= candidateCount {
			continue
		}
		if ospa.LabelPrecedence(judge.Label) < 0 {
			judge.Label = ospa.LabelUnsupported
		}
		judge.Confidence = clamp(judge.Confidence)

		existing, seen := byIndex[judge.Index]
		if !seen || ospa.LabelPrecedence(judge.Label) > ospa.LabelPrecedence(existing.Label) {
			byIndex[judge.Index] = judge
		}
	}

	out := make([]ospa.PairwiseJudge, 0, len(byIndex))
	for _, judge := range byIndex {
		out = append(out, judge)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Index < out[j].Index
	})
	return out
}

func clamp(confidence float64) float64 {
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

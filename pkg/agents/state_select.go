package agents

import (
	"context"
	"log/slog"

	"github.com/ospa-ai/relay/pkg/agent"
	"github.com/ospa-ai/relay/pkg/feedback"
	"github.com/ospa-ai/relay/pkg/fsm"
	"github.com/ospa-ai/relay/pkg/llms"
	"github.com/ospa-ai/relay/pkg/usage"
)

const stateSelectSystemPrompt = `You are a dialog state controller. Given the conversation history and a numbered list of candidate states, you pick the single state that best fits the next turn. Answer with the number of your choice only.`

const stateSelectUserTemplate = `Conversation history:
{history}

Candidate next states:
{states}

Relevant past feedback:
{feedbacks}

Choose the number of the state that best fits the next turn.`

// StateSelectAgent picks the next FSM state from the allowed candidates.
type StateSelectAgent struct {
	*agent.Agent
}

func NewStateSelectAgent(engine *llms.Client) *StateSelectAgent {
	base := agent.New("state_select", stateSelectSystemPrompt, stateSelectUserTemplate, engine)
	if engine != nil {
		base.SetEngine(engine)
	}
	return &StateSelectAgent{Agent: base}
}

type stateChoice struct {
	Index int `json:"index" jsonschema_description:"1-based number of the chosen state"`
}

// Step selects the next state. An empty memory short-circuits to the
// initial state without an LLM call. An out-of-range selection is retried
// once, then the current state wins.
func (a *StateSelectAgent) Step(ctx context.Context, machine *fsm.StateMachine, memory *fsm.Memory, feedbacks []feedback.Feedback, maxHistoryLen int, counter *usage.Counter) (fsm.State, error) {
	if memory.IsEmpty() {
		if initial, ok := machine.InitialState(); ok {
			return initial, nil
		}
		return fsm.State{}, ErrInvalidStateSelection
	}

	lastStep, _ := memory.LastStep()
	current, knownCurrent := machine.States[lastStep.StateName]

	candidates := machine.NextAllowedStates(lastStep.StateName)
	if len(candidates) == 0 {
		if knownCurrent {
			return current, nil
		}
		return fsm.State{}, ErrInvalidStateSelection
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	vars := map[string]string{
		"history":   memory.PrintHistory(maxHistoryLen),
		"states":    renderStates(candidates),
		"feedbacks": renderFeedbacks(feedbacks),
	}
	aiCtx, err := a.BuildContext(nil, vars)
	if err != nil {
		return fsm.State{}, err
	}

	schema, err := llms.SchemaFor(stateChoice{}, "state_choice")
	if err != nil {
		return fsm.State{}, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		var raw interface{}
		err := a.Engine().StructuredOutput(ctx, aiCtx.WireFormat(), schema, &raw, llms.CallOptions{Counter: counter})
		if err != nil {
			return fsm.State{}, err
		}
		index, ok := parseChoiceIndex(raw)
		if ok && index >= 1 && index <= len(candidates) {
			return candidates[index-1], nil
		}
		slog.Warn("state selection out of range", "index", index, "candidates", len(candidates))
		aiCtx.AddUserPrompt("That number is not in the candidate list. Answer with a number from the list above.")
	}

	if knownCurrent {
		slog.Warn("state selection failed twice, keeping current state", "state", current.Name)
		return current, nil
	}
	return fsm.State{}, ErrInvalidStateSelection
}

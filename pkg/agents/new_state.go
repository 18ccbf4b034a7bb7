package agents

import (
	"context"

	"github.com/ospa-ai/relay/pkg/agent"
	"github.com/ospa-ai/relay/pkg/fsm"
	"github.com/ospa-ai/relay/pkg/llms"
	"github.com/ospa-ai/relay/pkg/usage"
)

const newStateSystemPrompt = `You are a dialog planner. Given the agent's role and the conversation so far, write the instruction that should guide the agent's next turn. Reply with the instruction only.`

const newStateUserTemplate = `Agent role:
{global_prompt}

Conversation history:
{history}

Write the instruction for the agent's next turn.`

// NewStateAgent creates a transient state on the fly. It is used only when
// the state machine is empty.
type NewStateAgent struct {
	*agent.Agent
}

func NewNewStateAgent(engine *llms.Client) *NewStateAgent {
	base := agent.New("new_state", newStateSystemPrompt, newStateUserTemplate, engine)
	if engine != nil {
		base.SetEngine(engine)
	}
	return &NewStateAgent{Agent: base}
}

// Step produces a state with empty name and scenario whose instruction is
// the model's guidance for the next turn.
func (a *NewStateAgent) Step(ctx context.Context, globalPrompt string, memory *fsm.Memory, maxHistoryLen int, counter *usage.Counter) (fsm.State, error) {
	vars := map[string]string{
		"global_prompt": globalPrompt,
		"history":       memory.PrintHistory(maxHistoryLen),
	}
	aiCtx, err := a.BuildContext(nil, vars)
	if err != nil {
		return fsm.State{}, err
	}

	instruction, err := a.Engine().Ask(ctx, aiCtx.WireFormat(), llms.CallOptions{Counter: counter})
	if err != nil {
		return fsm.State{}, err
	}

	return fsm.State{Instruction: instruction}, nil
}

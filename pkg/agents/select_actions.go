package agents

import (
	"context"
	"log/slog"

	"github.com/ospa-ai/relay/pkg/agent"
	"github.com/ospa-ai/relay/pkg/feedback"
	"github.com/ospa-ai/relay/pkg/fsm"
	"github.com/ospa-ai/relay/pkg/llms"
	"github.com/ospa-ai/relay/pkg/tools"
	"github.com/ospa-ai/relay/pkg/usage"
)

const selectActionsSystemPrompt = `You are the acting agent in a multi-turn conversation. Use the available tools to act on the user's last message. When you are ready to reply to the user, call send_message_to_user.`

const selectActionsUserTemplate = `Agent role:
{global_prompt}

Current state guidance:
{state_instruction}

Conversation history:
{history}

Relevant past feedback:
{feedbacks}

Decide the next tool calls for this turn.`

// SelectActionsAgent turns the current state into a sequence of pending
// actions via provider tool-calling.
type SelectActionsAgent struct {
	*agent.Agent
}

func NewSelectActionsAgent(engine *llms.Client) *SelectActionsAgent {
	base := agent.New("select_actions", selectActionsSystemPrompt, selectActionsUserTemplate, engine)
	if engine != nil {
		base.SetEngine(engine)
	}
	return &SelectActionsAgent{Agent: base}
}

// Step returns a non-empty sequence of pending actions. Plain content with
// no tool calls is folded into a single send_message_to_user action, and
// only the first send_message_to_user of a turn is kept.
func (a *SelectActionsAgent) Step(ctx context.Context, globalPrompt string, state fsm.State, memory *fsm.Memory, registry *tools.Registry, feedbacks []feedback.Feedback, maxHistoryLen int, counter *usage.Counter) ([]fsm.Action, error) {
	vars := map[string]string{
		"global_prompt":     globalPrompt,
		"state_instruction": state.Instruction,
		"history":           memory.PrintHistory(maxHistoryLen),
		"feedbacks":         renderFeedbacks(feedbacks),
	}
	aiCtx, err := a.BuildContext(nil, vars)
	if err != nil {
		return nil, err
	}

	msg, err := a.Engine().AskTool(ctx, aiCtx.WireFormat(), registry.Definitions(), "auto", llms.CallOptions{Counter: counter})
	if err != nil {
		return nil, err
	}

	var actions []fsm.Action
	for _, call := range msg.ToolCalls {
		actions = append(actions, fsm.Action{
			Name:      call.Name,
			Arguments: parseToolArguments(call.Arguments),
		})
	}

	if len(actions) == 0 {
		actions = append(actions, fsm.Action{
			Name:      fsm.SendMessageToUser,
			Arguments: map[string]interface{}{"agent_message": msg.Content},
		})
	}

	return pruneDuplicateSendMessage(actions), nil
}

// pruneDuplicateSendMessage keeps only the first send_message_to_user of a
// turn, preserving the relative order of everything else.
func pruneDuplicateSendMessage(actions []fsm.Action) []fsm.Action {
	firstIdx := -1
	for i, a := range actions {
		if a.Name == fsm.SendMessageToUser {
			firstIdx = i
			break
		}
	}

	out := actions[:0]
	pruned := false
	for i, a := range actions {
		if a.Name == fsm.SendMessageToUser && i != firstIdx {
			pruned = true
			continue
		}
		out = append(out, a)
	}
	if pruned {
		slog.Warn("multiple send_message_to_user actions selected, keeping the first")
	}
	return out
}

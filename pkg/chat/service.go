// Package chat runs one conversational turn: state selection, feedback
// recall, action selection and execution, and memory persistence.
package chat

import (
	"context"
	"time"

	"github.com/ospa-ai/relay/pkg/agent"
	"github.com/ospa-ai/relay/pkg/agents"
	"github.com/ospa-ai/relay/pkg/config"
	"github.com/ospa-ai/relay/pkg/databases"
	"github.com/ospa-ai/relay/pkg/embedders"
	"github.com/ospa-ai/relay/pkg/feedback"
	"github.com/ospa-ai/relay/pkg/fsm"
	"github.com/ospa-ai/relay/pkg/llms"
	"github.com/ospa-ai/relay/pkg/tools"
	"github.com/ospa-ai/relay/pkg/usage"
)

const greetingSystemPrompt = `You open a conversation on behalf of the configured agent. Greet the user in one or two sentences, consistent with the agent role below, and invite them to state what they need.`

const greetingUserTemplate = `Agent role:
{global_prompt}

Write the opening greeting.`

// Request is one turn's input. Memory is owned by the caller and is not
// mutated; the result carries the updated copy.
type Request struct {
	UserMessage           string
	EditedLastResponse    string
	RecallLastUserMessage bool
	Setting               config.Setting
	Memory                *fsm.Memory
	RequestTools          []tools.RequestConfig
}

// Result is a successfully completed turn.
type Result struct {
	Response string
	Memory   *fsm.Memory
	Counter  *usage.Counter
}

// Service is the chat step loop. It is stateless; every turn builds its
// collaborators from the request's setting.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Step runs one turn. On any returned error the caller's memory is
// unchanged; completed tool side effects are not rolled back.
func (s *Service) Step(ctx context.Context, req Request) (*Result, error) {
	setting := req.Setting
	setting.Normalize()
	if err := setting.Validate(); err != nil {
		return nil, err
	}

	counter := usage.NewCounter()
	engine := llms.Get(setting.LLMConfig())
	mem := cloneMemory(req.Memory)

	// Registry construction doubles as the duplicate-tool guard: a name
	// collision fails here, before any LLM call.
	registry := tools.NewRegistry()
	for _, tc := range req.RequestTools {
		tool, err := tools.NewRequestTool(tc)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}

	if mem.IsEmpty() {
		greeting, err := s.greet(ctx, engine, setting, counter)
		if err != nil {
			return nil, err
		}
		mem.AppendStep(fsm.Step{
			StateName: initialStateName(setting.StateMachine),
			Actions: []fsm.Action{{
				Name:      fsm.SendMessageToUser,
				Arguments: map[string]interface{}{"agent_message": greeting},
				Result:    map[string]interface{}{"user_message": ""},
			}},
			Timestamp: time.Now(),
		})
		return &Result{Response: greeting, Memory: mem, Counter: counter}, nil
	}

	switch {
	case req.RecallLastUserMessage:
		setLastUserMessage(mem, "")
	case req.EditedLastResponse != "":
		rewriteLastAgentMessage(mem, req.EditedLastResponse)
	default:
		setLastUserMessage(mem, req.UserMessage)
	}

	observation := observationOf(req, mem)

	state, err := s.selectState(ctx, engine, setting, mem, observation, counter)
	if err != nil {
		return nil, err
	}

	feedbacks, err := s.recallFeedback(ctx, setting, observation)
	if err != nil {
		return nil, err
	}

	actions, err := agents.NewSelectActionsAgent(engine).Step(ctx,
		setting.GlobalPrompt, state, mem, registry, feedbacks, setting.MaxHistoryLen, counter)
	if err != nil {
		return nil, err
	}

	executor := tools.NewExecutor(registry)
	var completed []fsm.Action
	response := ""
	for _, action := range actions {
		done, err := executor.Execute(ctx, action)
		if err != nil {
			return nil, err
		}
		completed = append(completed, done)
		if done.Name == fsm.SendMessageToUser {
			// The turn yields to the user; later actions never run.
			response = done.AgentMessage()
			break
		}
	}

	mem.AppendStep(fsm.Step{
		StateName: state.Name,
		Actions:   completed,
		Timestamp: time.Now(),
	})
	return &Result{Response: response, Memory: mem, Counter: counter}, nil
}

func (s *Service) greet(ctx context.Context, engine *llms.Client, setting config.Setting, counter *usage.Counter) (string, error) {
	a := agent.New("memory_init", greetingSystemPrompt, greetingUserTemplate, engine)
	a.SetEngine(engine)

	aiCtx, err := a.BuildContext(nil, map[string]string{"global_prompt": setting.GlobalPrompt})
	if err != nil {
		return "", err
	}
	return engine.Ask(ctx, aiCtx.WireFormat(), llms.CallOptions{Counter: counter})
}

// selectState resolves the next state. With a state machine configured,
// past feedback is recalled first and offered to the selection prompt.
func (s *Service) selectState(ctx context.Context, engine *llms.Client, setting config.Setting, mem *fsm.Memory, observation string, counter *usage.Counter) (fsm.State, error) {
	if setting.StateMachine.IsEmpty() {
		return agents.NewNewStateAgent(engine).Step(ctx, setting.GlobalPrompt, mem, setting.MaxHistoryLen, counter)
	}
	feedbacks, err := s.recallFeedback(ctx, setting, observation)
	if err != nil {
		return fsm.State{}, err
	}
	return agents.NewStateSelectAgent(engine).Step(ctx, setting.StateMachine, mem, feedbacks, setting.MaxHistoryLen, counter)
}

// recallFeedback queries the agent's collection with the current
// observation. Without a vector store configured it returns nothing.
func (s *Service) recallFeedback(ctx context.Context, setting config.Setting, observation string) ([]feedback.Feedback, error) {
	if setting.VectorDBURL == "" || setting.RecallTopK() <= 0 || observation == "" {
		return nil, nil
	}
	store, err := OpenStore(setting)
	if err != nil {
		return nil, err
	}
	return store.Query(ctx, setting.AgentName, observation, setting.RecallTopK())
}

// OpenStore builds the feedback store for a setting. An embedder is wired
// only when embedding credentials are present; otherwise the store falls
// back to hash embeddings.
func OpenStore(setting config.Setting) (*feedback.Store, error) {
	db, err := databases.NewWeaviateClient(databases.WeaviateConfig{URL: setting.VectorDBURL})
	if err != nil {
		return nil, err
	}

	var embedder embedders.Embedder
	if setting.EmbeddingAPIKey != "" {
		embedder, err = embedders.NewOpenAIEmbedder(setting.EmbedderConfig())
		if err != nil {
			return nil, err
		}
	}
	return feedback.NewStore(db, embedder, setting.EmbeddingDimensions), nil
}

func initialStateName(machine *fsm.StateMachine) string {
	if machine.IsEmpty() {
		return ""
	}
	return machine.InitialStateName
}

// observationOf is the text embedded for feedback recall: the incoming
// user message, or the last recorded one after an ingest edit.
func observationOf(req Request, mem *fsm.Memory) string {
	if req.UserMessage != "" && !req.RecallLastUserMessage {
		return req.UserMessage
	}
	if step, ok := mem.LastStep(); ok {
		for i := len(step.Actions) - 1; i >= 0; i-- {
			if step.Actions[i].Name != fsm.SendMessageToUser {
				continue
			}
			if msg, ok := step.Actions[i].Result["user_message"].(string); ok && msg != "" {
				return msg
			}
		}
	}
	return ""
}

// setLastUserMessage records the user message on the last step's yield
// action. A step that ended without a send_message_to_user gets a fresh
// one appended so the observation lands on that step, not an older one.
func setLastUserMessage(mem *fsm.Memory, message string) {
	if len(mem.Steps) == 0 {
		return
	}
	step := &mem.Steps[len(mem.Steps)-1]
	if action := sendMessageIn(step); action != nil {
		if action.Result == nil {
			action.Result = map[string]interface{}{}
		}
		action.Result["user_message"] = message
		return
	}
	if message == "" {
		return
	}
	step.Actions = append(step.Actions, fsm.Action{
		Name:      fsm.SendMessageToUser,
		Arguments: map[string]interface{}{"agent_message": ""},
		Result:    map[string]interface{}{"user_message": message},
	})
}

// rewriteLastAgentMessage replaces the agent_message of the last step's
// yield action, appending one when the step has none.
func rewriteLastAgentMessage(mem *fsm.Memory, edited string) {
	if len(mem.Steps) == 0 {
		return
	}
	step := &mem.Steps[len(mem.Steps)-1]
	if action := sendMessageIn(step); action != nil {
		if action.Arguments == nil {
			action.Arguments = map[string]interface{}{}
		}
		action.Arguments["agent_message"] = edited
		return
	}
	step.Actions = append(step.Actions, fsm.Action{
		Name:      fsm.SendMessageToUser,
		Arguments: map[string]interface{}{"agent_message": edited},
		Result:    map[string]interface{}{"user_message": ""},
	})
}

func sendMessageIn(step *fsm.Step) *fsm.Action {
	for i := range step.Actions {
		if step.Actions[i].Name == fsm.SendMessageToUser {
			return &step.Actions[i]
		}
	}
	return nil
}

func cloneMemory(m *fsm.Memory) *fsm.Memory {
	out := &fsm.Memory{}
	if m == nil {
		return out
	}
	out.Steps = make([]fsm.Step, 0, len(m.Steps))
	for _, step := range m.Steps {
		cloned := fsm.Step{StateName: step.StateName, Timestamp: step.Timestamp}
		for _, action := range step.Actions {
			cloned.Actions = append(cloned.Actions, fsm.Action{
				Name:      action.Name,
				Arguments: cloneMap(action.Arguments),
				Result:    cloneMap(action.Result),
			})
		}
		out.Steps = append(out.Steps, cloned)
	}
	return out
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

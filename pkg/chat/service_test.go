package chat

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ospa-ai/relay/pkg/config"
	"github.com/ospa-ai/relay/pkg/fsm"
	"github.com/ospa-ai/relay/pkg/llms"
	"github.com/ospa-ai/relay/pkg/tools"
)

// fakeProvider plays back scripted assistant message payloads in order.
func fakeProvider(t *testing.T, messages ...string) *httptest.Server {
	t.Helper()
	calls := 0
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		require.Less(t, calls, len(messages), "unexpected extra LLM call")
		message := messages[calls]
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": ` + message + `}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 8}
		}`))
	}))
	t.Cleanup(server.Close)
	return server
}

// recordingProvider is fakeProvider plus capture of every request body.
func recordingProvider(t *testing.T, messages ...string) (*httptest.Server, *[]string) {
	t.Helper()
	calls := 0
	var mu sync.Mutex
	bodies := &[]string{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		raw, _ := io.ReadAll(r.Body)
		*bodies = append(*bodies, string(raw))
		require.Less(t, calls, len(messages), "unexpected extra LLM call")
		message := messages[calls]
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": ` + message + `}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 8}
		}`))
	}))
	t.Cleanup(server.Close)
	return server, bodies
}

// fakeRecallStore answers the vector-store calls recall makes: the
// collection exists and every search returns one stored feedback.
func fakeRecallStore(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/schema/"):
			_, _ = w.Write([]byte(`{}`))
		case r.URL.Path == "/v1/graphql":
			_, _ = w.Write([]byte(`{"data": {"Get": {"DefaultAgent": [{
				"observation_name": "user_message",
				"observation_content": "visa requirements for Japan",
				"action_name": "send_message_to_user",
				"action_content": "point to the embassy page",
				"state_name": "conversation"
			}]}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func settingFor(serverURL string) config.Setting {
	return config.Setting{
		APIKey:       "test-key",
		BaseURL:      serverURL,
		GlobalPrompt: "You are a travel assistant.",
		StateMachine: &fsm.StateMachine{
			InitialStateName: "greeting",
			States: map[string]fsm.State{
				"greeting":     {Name: "greeting", Instruction: "greet"},
				"conversation": {Name: "conversation", Instruction: "assist with travel"},
			},
			OutTransitions: map[string][]string{
				"greeting":     {"conversation"},
				"conversation": {"conversation"},
			},
		},
	}
}

func greetedMemory() *fsm.Memory {
	return &fsm.Memory{Steps: []fsm.Step{{
		StateName: "greeting",
		Actions: []fsm.Action{{
			Name:      fsm.SendMessageToUser,
			Arguments: map[string]interface{}{"agent_message": "Hello, where would you like to go?"},
			Result:    map[string]interface{}{"user_message": ""},
		}},
		Timestamp: time.Now().Add(-time.Minute),
	}}}
}

func TestStepBootstrapsEmptyMemory(t *testing.T) {
	server := fakeProvider(t, `{"content": "Welcome! Where are you headed?"}`)
	svc := NewService()

	res, err := svc.Step(context.Background(), Request{
		Setting: settingFor(server.URL),
		Memory:  &fsm.Memory{},
	})
	require.NoError(t, err)
	assert.Equal(t, "Welcome! Where are you headed?", res.Response)
	require.Len(t, res.Memory.Steps, 1)

	step := res.Memory.Steps[0]
	assert.Equal(t, "greeting", step.StateName)
	require.Len(t, step.Actions, 1)
	assert.Equal(t, fsm.SendMessageToUser, step.Actions[0].Name)
	assert.Equal(t, "Welcome! Where are you headed?", step.Actions[0].AgentMessage())
	assert.Equal(t, 1, res.Counter.CallingTimes())
}

func TestStepFullTurn(t *testing.T) {
	// From greeting the single allowed next state is conversation, so the
	// only LLM call is action selection.
	server := fakeProvider(t, `{
		"content": "",
		"tool_calls": [{"id": "1", "type": "function", "function": {
			"name": "send_message_to_user",
			"arguments": "{\"agent_message\": \"Kyoto is lovely in autumn.\"}"
		}}]
	}`)
	svc := NewService()
	original := greetedMemory()

	res, err := svc.Step(context.Background(), Request{
		UserMessage: "Tell me about Kyoto",
		Setting:     settingFor(server.URL),
		Memory:      original,
	})
	require.NoError(t, err)
	assert.Equal(t, "Kyoto is lovely in autumn.", res.Response)
	require.Len(t, res.Memory.Steps, 2)

	last := res.Memory.Steps[1]
	assert.Equal(t, "conversation", last.StateName)
	require.Len(t, last.Actions, 1)
	assert.True(t, last.Actions[0].Completed())

	// The ingested user message lands on the previous step's yield action.
	assert.Equal(t, "Tell me about Kyoto", res.Memory.Steps[0].Actions[0].Result["user_message"])
	// The caller's memory is never touched.
	assert.Equal(t, "", original.Steps[0].Actions[0].Result["user_message"])
	require.Len(t, original.Steps, 1)

	assert.Equal(t, 1, res.Counter.CallingTimes())
	assert.Equal(t, 20, res.Counter.TotalInputTokens())
	assert.Equal(t, 8, res.Counter.TotalOutputTokens())
}

func TestStepTerminatesAfterSendMessage(t *testing.T) {
	server := fakeProvider(t, `{
		"content": "",
		"tool_calls": [
			{"id": "1", "type": "function", "function": {"name": "send_message_to_user", "arguments": "{\"agent_message\": \"done\"}"}},
			{"id": "2", "type": "function", "function": {"name": "missing_tool", "arguments": "{}"}}
		]
	}`)
	svc := NewService()

	res, err := svc.Step(context.Background(), Request{
		UserMessage: "hi",
		Setting:     settingFor(server.URL),
		Memory:      greetedMemory(),
	})
	require.NoError(t, err)
	// The action after the yield is never executed.
	require.Len(t, res.Memory.Steps[1].Actions, 1)
	assert.Equal(t, fsm.SendMessageToUser, res.Memory.Steps[1].Actions[0].Name)
}

func TestStepUserMessageLandsOnLastStep(t *testing.T) {
	// The previous turn ended without a yield action, so the user message
	// must be recorded on a fresh send_message_to_user appended to that
	// step, never on an older step's yield.
	server := fakeProvider(t, `{
		"content": "",
		"tool_calls": [{"id": "1", "type": "function", "function": {
			"name": "send_message_to_user", "arguments": "{\"agent_message\": \"noted\"}"
		}}]
	}`)
	svc := NewService()
	mem := greetedMemory()
	mem.Steps[0].Actions[0].Result["user_message"] = "first question"
	mem.AppendStep(fsm.Step{
		StateName: "conversation",
		Actions:   []fsm.Action{{Name: "get_time", Result: map[string]interface{}{"time": "12:00"}}},
		Timestamp: time.Now(),
	})

	res, err := svc.Step(context.Background(), Request{
		UserMessage: "second question",
		Setting:     settingFor(server.URL),
		Memory:      mem,
	})
	require.NoError(t, err)
	require.Len(t, res.Memory.Steps, 3)

	assert.Equal(t, "first question", res.Memory.Steps[0].Actions[0].Result["user_message"])

	prior := res.Memory.Steps[1]
	require.Len(t, prior.Actions, 2)
	assert.Equal(t, fsm.SendMessageToUser, prior.Actions[1].Name)
	assert.Equal(t, "second question", prior.Actions[1].Result["user_message"])
	assert.Equal(t, "", prior.Actions[1].Arguments["agent_message"])
}

func TestStepStateSelectReceivesFeedback(t *testing.T) {
	// With a vector store configured, recalled feedback is part of the
	// state-selection prompt, not only the action-selection one.
	llm, bodies := recordingProvider(t,
		`{"content": "{\"index\": 1}"}`,
		`{
			"content": "",
			"tool_calls": [{"id": "1", "type": "function", "function": {
				"name": "send_message_to_user", "arguments": "{\"agent_message\": \"ok\"}"
			}}]
		}`)
	store := fakeRecallStore(t)
	svc := NewService()

	setting := settingFor(llm.URL)
	setting.VectorDBURL = store.URL
	setting.StateMachine.States["closing"] = fsm.State{Name: "closing", Instruction: "wrap up"}
	setting.StateMachine.OutTransitions["greeting"] = []string{"conversation", "closing"}

	res, err := svc.Step(context.Background(), Request{
		UserMessage: "Do I need a visa?",
		Setting:     setting,
		Memory:      greetedMemory(),
	})
	require.NoError(t, err)
	assert.Equal(t, "conversation", res.Memory.Steps[1].StateName)

	require.Len(t, *bodies, 2)
	assert.Contains(t, (*bodies)[0], "Candidate next states")
	assert.Contains(t, (*bodies)[0], "visa requirements for Japan")
}

func TestStepRecallClearsLastUserMessage(t *testing.T) {
	server := fakeProvider(t, `{
		"content": "",
		"tool_calls": [{"id": "1", "type": "function", "function": {
			"name": "send_message_to_user", "arguments": "{\"agent_message\": \"ok\"}"
		}}]
	}`)
	svc := NewService()
	mem := greetedMemory()
	mem.Steps[0].Actions[0].Result["user_message"] = "forget this"

	res, err := svc.Step(context.Background(), Request{
		RecallLastUserMessage: true,
		Setting:               settingFor(server.URL),
		Memory:                mem,
	})
	require.NoError(t, err)
	assert.Equal(t, "", res.Memory.Steps[0].Actions[0].Result["user_message"])
}

func TestStepEditedLastResponse(t *testing.T) {
	server := fakeProvider(t, `{
		"content": "",
		"tool_calls": [{"id": "1", "type": "function", "function": {
			"name": "send_message_to_user", "arguments": "{\"agent_message\": \"ok\"}"
		}}]
	}`)
	svc := NewService()

	res, err := svc.Step(context.Background(), Request{
		EditedLastResponse: "Hi! Tell me your destination.",
		Setting:            settingFor(server.URL),
		Memory:             greetedMemory(),
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi! Tell me your destination.", res.Memory.Steps[0].Actions[0].AgentMessage())
}

func TestStepDuplicateToolFailsBeforeLLM(t *testing.T) {
	server := fakeProvider(t) // any LLM call fails the test
	svc := NewService()

	_, err := svc.Step(context.Background(), Request{
		UserMessage: "hi",
		Setting:     settingFor(server.URL),
		Memory:      greetedMemory(),
		RequestTools: []tools.RequestConfig{{
			Name:   fsm.SendMessageToUser,
			URL:    "http://example.com",
			Method: http.MethodGet,
		}},
	})
	require.ErrorIs(t, err, tools.ErrDuplicateToolName)
}

func TestStepConfigError(t *testing.T) {
	svc := NewService()
	_, err := svc.Step(context.Background(), Request{
		UserMessage: "hi",
		Setting:     config.Setting{}, // no api key
		Memory:      greetedMemory(),
	})
	require.ErrorIs(t, err, config.ErrConfig)
}

func TestStepUpstreamErrorLeavesMemoryUnchanged(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "boom", "type": "server_error"}}`, http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)
	svc := NewService()
	original := greetedMemory()

	_, err := svc.Step(context.Background(), Request{
		UserMessage: "hi",
		Setting:     settingFor(server.URL),
		Memory:      original,
	})
	require.ErrorIs(t, err, llms.ErrUpstream)
	require.Len(t, original.Steps, 1)
	assert.Equal(t, "", original.Steps[0].Actions[0].Result["user_message"])
}

func TestStepCancelled(t *testing.T) {
	server := fakeProvider(t, `{"content": "never used"}`)
	svc := NewService()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Step(ctx, Request{
		UserMessage: "hi",
		Setting:     settingFor(server.URL),
		Memory:      greetedMemory(),
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCloneMemoryIsDeep(t *testing.T) {
	original := greetedMemory()
	cloned := cloneMemory(original)

	cloned.Steps[0].Actions[0].Result["user_message"] = "mutated"
	cloned.AppendStep(fsm.Step{StateName: "extra"})

	assert.Equal(t, "", original.Steps[0].Actions[0].Result["user_message"])
	assert.Len(t, original.Steps, 1)
}

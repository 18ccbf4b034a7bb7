package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ospa-ai/relay/pkg/aicontext"
	"github.com/ospa-ai/relay/pkg/usage"
)

func fakeProvider(t *testing.T, handler func(body map[string]interface{}) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(handler(body)))
	}))
}

func userMessages(content string) []aicontext.WireMessage {
	return []aicontext.WireMessage{{Role: aicontext.RoleUser, Content: content}}
}

func TestAskReturnsContentAndRecordsUsage(t *testing.T) {
	server := fakeProvider(t, func(body map[string]interface{}) string {
		assert.Equal(t, "test-model", body["model"])
		return `{
			"choices": [{"message": {"content": "hello there"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4}
		}`
	})
	defer server.Close()

	client := NewClient(Config{Model: "test-model", BaseURL: server.URL, APIKey: "k"})
	counter := usage.NewCounter()

	text, err := client.Ask(context.Background(), userMessages("hi"), CallOptions{Counter: counter})
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
	assert.Equal(t, 1, counter.CallingTimes())
	assert.Equal(t, 12, counter.TotalInputTokens())
	assert.Equal(t, 4, counter.TotalOutputTokens())
}

func TestAskToolReturnsToolCalls(t *testing.T) {
	server := fakeProvider(t, func(body map[string]interface{}) string {
		tools := body["tools"].([]interface{})
		require.Len(t, tools, 1)
		assert.Equal(t, "auto", body["tool_choice"])
		return `{
			"choices": [{"message": {
				"content": "",
				"tool_calls": [{"id": "call_1", "type": "function",
					"function": {"name": "get_time", "arguments": "{\"latitude\": 39.9}"}}]
			}}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 8}
		}`
	})
	defer server.Close()

	client := NewClient(Config{Model: "m", BaseURL: server.URL})
	tools := []ToolDefinition{{
		Name:        "get_time",
		Description: "current time",
		Parameters:  map[string]interface{}{"type": "object"},
	}}

	msg, err := client.AskTool(context.Background(), userMessages("time?"), tools, "auto", CallOptions{})
	require.NoError(t, err)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "get_time", msg.ToolCalls[0].Name)
	assert.JSONEq(t, `{"latitude": 39.9}`, msg.ToolCalls[0].Arguments)
}

func TestAskStreamingConcatenatesDeltas(t *testing.T) {
	server := fakeProvider(t, func(body map[string]interface{}) string {
		assert.Equal(t, true, body["stream"])
		opts := body["stream_options"].(map[string]interface{})
		assert.Equal(t, true, opts["include_usage"])
		return `data: {"choices":[{"delta":{"content":"Hello"}}]}` + "\n\n" +
			`data: {"choices":[{"delta":{"content":" world"},"finish_reason":"stop"}]}` + "\n\n" +
			`data: {"choices":[],"usage":{"prompt_tokens":9,"completion_tokens":2}}` + "\n\n" +
			"data: [DONE]\n"
	})
	defer server.Close()

	client := NewClient(Config{Model: "m", BaseURL: server.URL, Stream: true})
	counter := usage.NewCounter()

	text, err := client.Ask(context.Background(), userMessages("hi"), CallOptions{Counter: counter})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", text)
	assert.Equal(t, 1, counter.CallingTimes())
	assert.Equal(t, 9, counter.TotalInputTokens())
	assert.Equal(t, 2, counter.TotalOutputTokens())
}

func TestAskToolStreamingReassemblesFragments(t *testing.T) {
	server := fakeProvider(t, func(body map[string]interface{}) string {
		return `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"get_time","arguments":"{\"lat"}}]}}]}` + "\n\n" +
			`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"itude\": 39.9}"}}]},"finish_reason":"tool_calls"}]}` + "\n\n" +
			"data: [DONE]\n"
	})
	defer server.Close()

	client := NewClient(Config{Model: "m", BaseURL: server.URL, Stream: true})
	msg, err := client.AskTool(context.Background(), userMessages("time?"), nil, "auto", CallOptions{})
	require.NoError(t, err)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)
	assert.Equal(t, "get_time", msg.ToolCalls[0].Name)
	assert.JSONEq(t, `{"latitude": 39.9}`, msg.ToolCalls[0].Arguments)
}

func TestAskToolSpecificChoice(t *testing.T) {
	server := fakeProvider(t, func(body map[string]interface{}) string {
		choice := body["tool_choice"].(map[string]interface{})
		fn := choice["function"].(map[string]interface{})
		assert.Equal(t, "send_message_to_user", fn["name"])
		return `{"choices": [{"message": {"content": "ok"}}], "usage": {}}`
	})
	defer server.Close()

	client := NewClient(Config{Model: "m", BaseURL: server.URL})
	_, err := client.AskTool(context.Background(), userMessages("x"), nil, "send_message_to_user", CallOptions{})
	require.NoError(t, err)
}

func TestStructuredOutputDecodes(t *testing.T) {
	server := fakeProvider(t, func(body map[string]interface{}) string {
		format := body["response_format"].(map[string]interface{})
		assert.Equal(t, "json_schema", format["type"])
		return `{"choices": [{"message": {"content": "{\"index\": 2}"}}], "usage": {}}`
	})
	defer server.Close()

	client := NewClient(Config{Model: "m", BaseURL: server.URL})
	cfg, err := SchemaFor(struct {
		Index int `json:"index"`
	}{}, "selection")
	require.NoError(t, err)

	var out struct {
		Index int `json:"index"`
	}
	err = client.StructuredOutput(context.Background(), userMessages("pick"), cfg, &out, CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Index)
}

func TestStructuredOutputRepairsOnce(t *testing.T) {
	calls := 0
	server := fakeProvider(t, func(body map[string]interface{}) string {
		calls++
		if calls == 1 {
			return `{"choices": [{"message": {"content": "not json at all"}}], "usage": {}}`
		}
		return `{"choices": [{"message": {"content": "{\"index\": 1}"}}], "usage": {}}`
	})
	defer server.Close()

	client := NewClient(Config{Model: "m", BaseURL: server.URL})
	cfg, _ := SchemaFor(struct {
		Index int `json:"index"`
	}{}, "selection")

	var out struct {
		Index int `json:"index"`
	}
	err := client.StructuredOutput(context.Background(), userMessages("pick"), cfg, &out, CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, out.Index)
}

func TestStructuredOutputSchemaViolation(t *testing.T) {
	server := fakeProvider(t, func(body map[string]interface{}) string {
		return `{"choices": [{"message": {"content": "still not json"}}], "usage": {}}`
	})
	defer server.Close()

	client := NewClient(Config{Model: "m", BaseURL: server.URL})
	cfg, _ := SchemaFor(struct {
		Index int `json:"index"`
	}{}, "selection")

	var out struct {
		Index int `json:"index"`
	}
	err := client.StructuredOutput(context.Background(), userMessages("pick"), cfg, &out, CallOptions{})
	assert.ErrorIs(t, err, ErrSchemaViolation)
}

func TestUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "bad key", "type": "auth"}}`))
	}))
	defer server.Close()

	client := NewClient(Config{Model: "m", BaseURL: server.URL})
	_, err := client.Ask(context.Background(), userMessages("hi"), CallOptions{})
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestRegistrySingleton(t *testing.T) {
	t.Cleanup(ClearAll)

	cfg := Config{Model: "m", BaseURL: "http://x", APIKey: "a"}
	c1 := Get(cfg)
	c2 := Get(cfg)
	assert.Same(t, c1, c2)

	other := Get(Config{Model: "m", BaseURL: "http://x", APIKey: "b"})
	assert.NotSame(t, c1, other)

	Clear(cfg)
	c3 := Get(cfg)
	assert.NotSame(t, c1, c3)
}

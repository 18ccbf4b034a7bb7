// Package llms implements the chat-completions client contract: free-text
// completion, tool-calling completion and schema-constrained completion
// against any OpenAI-compatible endpoint.
package llms

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/ospa-ai/relay/pkg/usage"
)

// Config identifies one provider endpoint. Clients are singletons per
// (model, base URL, credentials) key.
type Config struct {
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	TopP        float64
	MaxTokens   int
	Timeout     time.Duration
	Stream      bool
}

func (c Config) key() string {
	return c.Model + "|" + c.BaseURL + "|" + c.APIKey
}

// ToolDefinition describes one callable function in the provider's
// function-calling envelope.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ToolCall is one function invocation requested by the model. Arguments is
// the raw JSON string as returned by the provider.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ChatMessage is the assistant message returned by AskTool: either plain
// content, tool calls, or both.
type ChatMessage struct {
	Content   string
	ToolCalls []ToolCall
}

// StructuredOutputConfig names the JSON schema the completion must satisfy.
type StructuredOutputConfig struct {
	Name   string
	Schema map[string]interface{}
}

// CallOptions carries per-call overrides. A nil Counter disables usage
// accounting for the call.
type CallOptions struct {
	Temperature *float64
	Counter     *usage.Counter
}

// Temp returns a pointer to t, for use as CallOptions.Temperature.
func Temp(t float64) *float64 {
	return &t
}

// SchemaFor reflects a JSON schema from a Go type for structured output.
// References are inlined because providers reject $ref.
func SchemaFor(v interface{}, name string) (StructuredOutputConfig, error) {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		return StructuredOutputConfig{}, fmt.Errorf("marshal schema: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return StructuredOutputConfig{}, fmt.Errorf("decode schema: %w", err)
	}
	delete(m, "$schema")
	delete(m, "$id")

	return StructuredOutputConfig{Name: name, Schema: m}, nil
}

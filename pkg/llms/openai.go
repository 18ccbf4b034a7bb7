package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ospa-ai/relay/pkg/aicontext"
	"github.com/ospa-ai/relay/pkg/httpclient"
	"github.com/ospa-ai/relay/pkg/utils"
)

const defaultTimeout = 180 * time.Second

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	config     Config
	httpClient *httpclient.Client
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	Tools          []openAITool          `json:"tools,omitempty"`
	ToolChoice     interface{}           `json:"tool_choice,omitempty"`
	Temperature    float64               `json:"temperature"`
	TopP           float64               `json:"top_p,omitempty"`
	MaxTokens      int                   `json:"max_completion_tokens,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
	Stream         bool                  `json:"stream,omitempty"`
	StreamOptions  *openAIStreamOptions  `json:"stream_options,omitempty"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type openAIResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *openAIJSONSchema `json:"json_schema,omitempty"`
}

type openAIJSONSchema struct {
	Name   string                 `json:"name"`
	Strict bool                   `json:"strict"`
	Schema map[string]interface{} `json:"schema"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Error   *openAIError   `json:"error"`
}

type openAIChoice struct {
	Message      openAIResponseMessage `json:"message"`
	FinishReason string                `json:"finish_reason"`
}

type openAIResponseMessage struct {
	Content   string               `json:"content"`
	ToolCalls []openAIWireToolCall `json:"tool_calls"`
}

type openAIWireToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// openAIStreamChunk is one "data:" event of a streamed completion.
type openAIStreamChunk struct {
	Choices []struct {
		Delta        openAIResponseMessage `json:"delta"`
		FinishReason string                `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
	Error *openAIError `json:"error"`
}

func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1/"
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.Temperature == 0 {
		config.Temperature = 1.0
	}
	if config.TopP == 0 {
		config.TopP = 1.0
	}

	hc := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: config.Timeout}),
		httpclient.WithMaxRetries(2),
	)

	return &Client{config: config, httpClient: hc}
}

func (c *Client) Config() Config {
	return c.config
}

func (c *Client) endpoint() string {
	return strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"
}

func (c *Client) temperature(opts CallOptions) float64 {
	if opts.Temperature != nil {
		return *opts.Temperature
	}
	return c.config.Temperature
}

// Ask sends the messages and returns the full assistant text.
func (c *Client) Ask(ctx context.Context, messages []aicontext.WireMessage, opts CallOptions) (string, error) {
	req := c.baseRequest(messages, opts)

	resp, err := c.complete(ctx, req, opts)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrUpstream)
	}
	return resp.Choices[0].Message.Content, nil
}

// AskTool sends the messages with the tool envelope. toolChoice is "auto",
// "required", or a specific tool name.
func (c *Client) AskTool(ctx context.Context, messages []aicontext.WireMessage, tools []ToolDefinition, toolChoice string, opts CallOptions) (*ChatMessage, error) {
	req := c.baseRequest(messages, opts)
	for _, t := range tools {
		req.Tools = append(req.Tools, openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	switch toolChoice {
	case "", "auto":
		req.ToolChoice = "auto"
	case "required", "none":
		req.ToolChoice = toolChoice
	default:
		req.ToolChoice = map[string]interface{}{
			"type":     "function",
			"function": map[string]interface{}{"name": toolChoice},
		}
	}

	resp, err := c.complete(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrUpstream)
	}

	msg := &ChatMessage{Content: resp.Choices[0].Message.Content}
	for _, tc := range resp.Choices[0].Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return msg, nil
}

// StructuredOutput asks for a completion constrained by cfg's schema and
// decodes it into out. A malformed response is repaired once with a
// follow-up call before failing with ErrSchemaViolation.
func (c *Client) StructuredOutput(ctx context.Context, messages []aicontext.WireMessage, cfg StructuredOutputConfig, out interface{}, opts CallOptions) error {
	req := c.baseRequest(messages, opts)
	req.ResponseFormat = &openAIResponseFormat{
		Type: "json_schema",
		JSONSchema: &openAIJSONSchema{
			Name:   cfg.Name,
			Strict: true,
			Schema: cfg.Schema,
		},
	}

	resp, err := c.complete(ctx, req, opts)
	if err != nil {
		return err
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("%w: empty choices", ErrUpstream)
	}

	raw := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(utils.FixJSON(raw)), out); err == nil {
		return nil
	}

	// One repair round: show the model its own output and the schema again.
	schemaJSON, _ := json.Marshal(cfg.Schema)
	repair := append(append([]aicontext.WireMessage{}, messages...),
		aicontext.WireMessage{Role: aicontext.RoleAssistant, Content: raw},
		aicontext.WireMessage{
			Role: aicontext.RoleUser,
			Content: "The previous reply was not valid JSON. Return only a JSON value matching this schema, with no extra text:\n" +
				string(schemaJSON),
		},
	)
	req.Messages = toOpenAIMessages(repair)

	resp, err = c.complete(ctx, req, opts)
	if err != nil {
		return err
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("%w: empty choices", ErrUpstream)
	}
	raw = resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(utils.FixJSON(raw)), out); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	return nil
}

func (c *Client) baseRequest(messages []aicontext.WireMessage, opts CallOptions) openAIRequest {
	req := openAIRequest{
		Model:       c.config.Model,
		Messages:    toOpenAIMessages(messages),
		Temperature: c.temperature(opts),
		TopP:        c.config.TopP,
		MaxTokens:   c.config.MaxTokens,
	}
	if c.config.Stream {
		req.Stream = true
		req.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}
	return req
}

func toOpenAIMessages(messages []aicontext.WireMessage) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openAIMessage(m))
	}
	return out
}

func (c *Client) complete(ctx context.Context, req openAIRequest, opts CallOptions) (*openAIResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, context.Canceled
		}
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		var parsed openAIResponse
		if err := json.Unmarshal(respBody, &parsed); err == nil && parsed.Error != nil {
			return nil, fmt.Errorf("%w: %s (%s)", ErrUpstream, parsed.Error.Message, parsed.Error.Type)
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, utils.Truncate(string(respBody), 300))
	}

	var parsed openAIResponse
	if req.Stream {
		assembled, err := parseStreamResponse(respBody)
		if err != nil {
			return nil, err
		}
		parsed = *assembled
	} else if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}

	inputTokens, outputTokens := parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens
	if inputTokens == 0 && outputTokens == 0 && len(parsed.Choices) > 0 {
		// Some compatible providers omit the usage block; estimate locally.
		inputTokens, outputTokens = c.estimateUsage(req.Messages, parsed.Choices[0].Message.Content)
	}
	opts.Counter.AddCall(inputTokens, outputTokens)
	slog.Debug("llm call completed",
		"model", c.config.Model,
		"prompt_tokens", inputTokens,
		"completion_tokens", outputTokens)

	return &parsed, nil
}

// parseStreamResponse folds the SSE events of a streamed completion into
// the non-streaming response shape: delta contents are concatenated, tool
// call fragments are reassembled by index, and usage is taken from the
// final chunk when the provider includes it.
func parseStreamResponse(body []byte) (*openAIResponse, error) {
	var (
		content strings.Builder
		finish  string
		usage   openAIUsage
		calls   = map[int]*openAIWireToolCall{}
		args    = map[int]*strings.Builder{}
	)

	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return nil, fmt.Errorf("%w: decode stream chunk: %v", ErrUpstream, err)
		}
		if chunk.Error != nil {
			return nil, fmt.Errorf("%w: %s (%s)", ErrUpstream, chunk.Error.Message, chunk.Error.Type)
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		content.WriteString(delta.Content)
		for _, tc := range delta.ToolCalls {
			call, ok := calls[tc.Index]
			if !ok {
				copied := tc
				copied.Function.Arguments = ""
				calls[tc.Index] = &copied
				args[tc.Index] = &strings.Builder{}
				call = &copied
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Function.Name = tc.Function.Name
			}
			args[tc.Index].WriteString(tc.Function.Arguments)
		}
		if chunk.Choices[0].FinishReason != "" {
			finish = chunk.Choices[0].FinishReason
		}
	}

	indices := make([]int, 0, len(calls))
	for idx := range calls {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	choice := openAIChoice{FinishReason: finish}
	choice.Message.Content = content.String()
	for _, idx := range indices {
		call := *calls[idx]
		call.Function.Arguments = args[idx].String()
		choice.Message.ToolCalls = append(choice.Message.ToolCalls, call)
	}

	return &openAIResponse{Choices: []openAIChoice{choice}, Usage: usage}, nil
}

func (c *Client) estimateUsage(messages []openAIMessage, completion string) (int, int) {
	estimator, err := utils.NewTokenEstimator(c.config.Model)
	if err != nil {
		estimator = nil
	}
	input := 0
	for _, m := range messages {
		input += estimator.Count(m.Content)
	}
	return input, estimator.Count(completion)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Timeout()
	}
	return false
}

// Package config holds the per-request Setting bundle and process
// environment loading.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ospa-ai/relay/pkg/embedders"
	"github.com/ospa-ai/relay/pkg/fsm"
	"github.com/ospa-ai/relay/pkg/llms"
)

// ErrConfig marks every configuration validation failure.
var ErrConfig = errors.New("config error")

func configError(field, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrConfig, field, reason)
}

const (
	DefaultChatModel     = "gpt-4o-mini"
	DefaultBaseURL       = "https://api.openai.com/v1/"
	DefaultTemperature   = 1.0
	DefaultTopP          = 1.0
	DefaultTopK          = 5
	DefaultMaxHistoryLen = 128
	DefaultAgentName     = "default_agent"
)

// Setting is the per-request configuration bundle.
type Setting struct {
	APIKey        string            `json:"api_key"`
	ChatModel     string            `json:"chat_model"`
	BaseURL       string            `json:"base_url"`
	TopP          float64           `json:"top_p"`
	Temperature   float64           `json:"temperature"`
	TopK          *int              `json:"top_k,omitempty"`
	VectorDBURL   string            `json:"vector_db_url"`
	AgentName     string            `json:"agent_name"`
	GlobalPrompt  string            `json:"global_prompt"`
	MaxHistoryLen int               `json:"max_history_len"`
	StateMachine  *fsm.StateMachine `json:"state_machine,omitempty"`

	MaxCompletionTokens int  `json:"max_completion_tokens,omitempty"`
	Stream              bool `json:"stream,omitempty"`

	EmbeddingAPIKey     string `json:"embedding_api_key,omitempty"`
	EmbeddingModel      string `json:"embedding_model,omitempty"`
	EmbeddingBaseURL    string `json:"embedding_base_url,omitempty"`
	EmbeddingDimensions int    `json:"embedding_dimensions,omitempty"`
	EmbeddingBatchSize  int    `json:"embedding_batch_size,omitempty"`

	LLMTimeout time.Duration `json:"-"`
}

// TopK returns a pointer to k, for Setting.TopK.
func TopK(k int) *int {
	return &k
}

// RecallTopK is the number of feedback exemplars to recall, after
// Normalize.
func (s *Setting) RecallTopK() int {
	if s.TopK == nil {
		return DefaultTopK
	}
	return *s.TopK
}

// Normalize fills zero fields with defaults.
func (s *Setting) Normalize() {
	if s.ChatModel == "" {
		s.ChatModel = DefaultChatModel
	}
	if s.BaseURL == "" {
		s.BaseURL = DefaultBaseURL
	}
	if s.Temperature == 0 {
		s.Temperature = DefaultTemperature
	}
	if s.TopP == 0 {
		s.TopP = DefaultTopP
	}
	// An explicit top_k of 0 is a valid request for no recall, so the
	// default applies only when the field was absent.
	if s.TopK == nil {
		s.TopK = TopK(DefaultTopK)
	}
	if s.MaxHistoryLen == 0 {
		s.MaxHistoryLen = DefaultMaxHistoryLen
	}
	if s.AgentName == "" {
		s.AgentName = DefaultAgentName
	}
}

// Validate checks the bundle after Normalize.
func (s *Setting) Validate() error {
	if s.APIKey == "" {
		return configError("api_key", "is required")
	}
	if _, err := url.ParseRequestURI(s.BaseURL); err != nil {
		return configError("base_url", "is not a valid URL")
	}
	if s.VectorDBURL != "" {
		if _, err := url.ParseRequestURI(s.VectorDBURL); err != nil {
			return configError("vector_db_url", "is not a valid URL")
		}
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		return configError("temperature", "must be in [0, 2]")
	}
	if s.TopP < 0 || s.TopP > 1 {
		return configError("top_p", "must be in [0, 1]")
	}
	if s.TopK != nil && *s.TopK < 0 {
		return configError("top_k", "must not be negative")
	}
	if err := s.StateMachine.Validate(); err != nil {
		return configError("state_machine", err.Error())
	}
	return nil
}

// LLMConfig maps the setting onto the LLM client config key.
func (s *Setting) LLMConfig() llms.Config {
	return llms.Config{
		Model:       s.ChatModel,
		BaseURL:     s.BaseURL,
		APIKey:      s.APIKey,
		Temperature: s.Temperature,
		TopP:        s.TopP,
		MaxTokens:   s.MaxCompletionTokens,
		Timeout:     s.LLMTimeout,
		Stream:      s.Stream,
	}
}

// EmbedderConfig maps the setting onto the embedding client config. The
// chat API key is the fallback credential.
func (s *Setting) EmbedderConfig() embedders.Config {
	apiKey := s.EmbeddingAPIKey
	if apiKey == "" {
		apiKey = s.APIKey
	}
	return embedders.Config{
		APIKey:    apiKey,
		BaseURL:   s.EmbeddingBaseURL,
		Model:     s.EmbeddingModel,
		Dimension: s.EmbeddingDimensions,
		BatchSize: s.EmbeddingBatchSize,
	}
}

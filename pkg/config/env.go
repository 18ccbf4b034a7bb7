package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnv loads a dotenv file if present. A missing file is not an error.
func LoadEnv(path string) {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("failed to load env file", "path", path, "error", err)
		}
		return
	}
	slog.Debug("loaded env file", "path", path)
}

// FromEnv builds a Setting from process environment variables, normalized
// with defaults.
func FromEnv() *Setting {
	s := &Setting{
		APIKey:              os.Getenv("LLM_API_KEY"),
		ChatModel:           os.Getenv("LLM_MODEL"),
		BaseURL:             os.Getenv("LLM_BASE_URL"),
		Temperature:         envFloat("LLM_TEMPERATURE", 0),
		TopP:                envFloat("LLM_TOP_P", 0),
		VectorDBURL:         os.Getenv("WEAVIATE_URL"),
		EmbeddingAPIKey:     os.Getenv("EMBEDDING_API_KEY"),
		EmbeddingModel:      os.Getenv("EMBEDDING_MODEL"),
		EmbeddingBaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
		EmbeddingDimensions: envInt("EMBEDDING_DIMENSIONS", 0),
		EmbeddingBatchSize:  envInt("EMBEDDING_BATCH_SIZE", 0),
		MaxCompletionTokens: envInt("LLM_MAX_COMPLETION_TOKENS", 0),
		Stream:              envBool("LLM_STREAM", false),
		LLMTimeout:          envDuration("LLM_TIMEOUT", 0),
	}
	s.Normalize()
	return s
}

func envFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("invalid float env var", "key", key, "value", raw)
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid int env var", "key", key, "value", raw)
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("invalid bool env var", "key", key, "value", raw)
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("invalid duration env var", "key", key, "value", raw)
		return fallback
	}
	return d
}

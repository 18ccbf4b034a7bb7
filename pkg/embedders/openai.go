// Package embedders provides the text-to-vector client used for feedback
// recall.
package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ospa-ai/relay/pkg/httpclient"
)

const defaultBatchSize = 10

// Embedder is the contract the feedback store consumes.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string, concurrent bool) ([][]float32, error)
	Dimension() int
}

// Config for an OpenAI-compatible embeddings endpoint.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
	BatchSize int
	Timeout   time.Duration
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	config     Config
	httpClient *httpclient.Client
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewOpenAIEmbedder(config Config) (*OpenAIEmbedder, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key is required for the embedder")
	}
	if config.Model == "" {
		config.Model = "text-embedding-3-small"
	}
	if config.Dimension == 0 {
		config.Dimension = 1024
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaultBatchSize
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	hc := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: config.Timeout}),
		httpclient.WithMaxRetries(3),
	)

	return &OpenAIEmbedder{config: config, httpClient: hc}, nil
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.config.Dimension
}

func (e *OpenAIEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("received empty embedding response")
	}
	return vectors[0], nil
}

// EmbedTexts embeds texts in batches. With concurrent=true, batches are
// dispatched in parallel and the result is reassembled in input order.
func (e *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string, concurrent bool) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	type span struct{ start, end int }
	var spans []span
	for i := 0; i < len(texts); i += e.config.BatchSize {
		end := i + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		spans = append(spans, span{i, end})
	}

	results := make([][]float32, len(texts))

	if !concurrent {
		for _, s := range spans {
			vectors, err := e.embedBatch(ctx, texts[s.start:s.end])
			if err != nil {
				return nil, err
			}
			copy(results[s.start:], vectors)
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, s := range spans {
		s := s
		g.Go(func() error {
			vectors, err := e.embedBatch(gctx, texts[s.start:s.end])
			if err != nil {
				return err
			}
			copy(results[s.start:], vectors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = SanitizeInput(t)
	}

	body, err := json.Marshal(embedRequest{Model: e.config.Model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(e.config.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return nil, fmt.Errorf("embedding API error: %s", parsed.Error.Message)
		}
		return nil, fmt.Errorf("embedding API returned status %d", resp.StatusCode)
	}

	// Reassemble by index to match input order.
	vectors := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index >= 0 && item.Index < len(vectors) {
			vectors[item.Index] = item.Embedding
		}
	}
	return vectors, nil
}

// SanitizeInput cleans text before embedding: zero-width characters are
// stripped, line breaks become spaces, and control characters other than
// tab are dropped.
func SanitizeInput(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff':
			continue
		case '\n':
			b.WriteRune(' ')
		case '\r':
			continue
		case '\t':
			b.WriteRune(r)
		default:
			if r < 0x20 || r == 0x7f {
				continue
			}
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

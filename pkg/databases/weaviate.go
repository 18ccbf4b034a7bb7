// Package databases implements the vector-store wire client. Weaviate is
// addressed over its REST and GraphQL APIs; vectors are supplied by the
// caller (vectorizer "none").
package databases

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ospa-ai/relay/pkg/httpclient"
)

// WeaviateConfig locates one Weaviate instance.
type WeaviateConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// WeaviateClient is a minimal REST + GraphQL Weaviate client.
type WeaviateClient struct {
	config     WeaviateConfig
	httpClient *httpclient.Client
}

// Property declares one field of a collection schema.
type Property struct {
	Name     string   `json:"name"`
	DataType []string `json:"dataType"`
}

// Object is one stored row: its properties plus the supplied vector.
type Object struct {
	ID         string                 `json:"id,omitempty"`
	Class      string                 `json:"class"`
	Properties map[string]interface{} `json:"properties"`
	Vector     []float32              `json:"vector,omitempty"`
}

func NewWeaviateClient(config WeaviateConfig) (*WeaviateClient, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("weaviate URL is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	hc := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: config.Timeout}),
		httpclient.WithMaxRetries(2),
	)

	return &WeaviateClient{config: config, httpClient: hc}, nil
}

func (c *WeaviateClient) baseURL() string {
	return strings.TrimRight(c.config.URL, "/")
}

func (c *WeaviateClient) do(ctx context.Context, method, path string, body interface{}) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL()+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("weaviate request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

// CollectionExists checks whether a class is present in the schema.
func (c *WeaviateClient) CollectionExists(ctx context.Context, name string) (bool, error) {
	_, status, err := c.do(ctx, http.MethodGet, "/v1/schema/"+name, nil)
	if err != nil {
		return false, err
	}
	return status == http.StatusOK, nil
}

// CreateCollection creates a class with the given properties and manual
// vectors (vectorizer "none", hnsw cosine). Creating an existing class is
// a no-op.
func (c *WeaviateClient) CreateCollection(ctx context.Context, name string, properties []Property) error {
	exists, err := c.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	schema := map[string]interface{}{
		"class":           name,
		"vectorizer":      "none",
		"vectorIndexType": "hnsw",
		"vectorIndexConfig": map[string]interface{}{
			"distance": "cosine",
		},
		"properties": properties,
	}

	body, status, err := c.do(ctx, http.MethodPost, "/v1/schema", schema)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("create collection %s: status %d: %s", name, status, string(body))
	}
	return nil
}

// DeleteCollection removes a class and all its objects.
func (c *WeaviateClient) DeleteCollection(ctx context.Context, name string) error {
	body, status, err := c.do(ctx, http.MethodDelete, "/v1/schema/"+name, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent && status != http.StatusNotFound {
		return fmt.Errorf("delete collection %s: status %d: %s", name, status, string(body))
	}
	return nil
}

// UpsertObject writes one object. A missing ID gets a fresh UUID.
func (c *WeaviateClient) UpsertObject(ctx context.Context, obj Object) (string, error) {
	if obj.ID == "" {
		obj.ID = uuid.NewString()
	}

	body, status, err := c.do(ctx, http.MethodPost, "/v1/objects", obj)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", fmt.Errorf("upsert object in %s: status %d: %s", obj.Class, status, string(body))
	}
	return obj.ID, nil
}

// ListObjects pages through a class's objects.
func (c *WeaviateClient) ListObjects(ctx context.Context, class string, offset, limit int) ([]Object, error) {
	query := url.Values{}
	query.Set("class", class)
	query.Set("offset", fmt.Sprintf("%d", offset))
	query.Set("limit", fmt.Sprintf("%d", limit))

	body, status, err := c.do(ctx, http.MethodGet, "/v1/objects?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("list objects in %s: status %d: %s", class, status, string(body))
	}

	var parsed struct {
		Objects []Object `json:"objects"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode objects: %w", err)
	}
	return parsed.Objects, nil
}

// SearchByVector runs a GraphQL nearVector query over a class and returns
// the requested property fields per hit.
func (c *WeaviateClient) SearchByVector(ctx context.Context, class string, vector []float32, fields []string, topK int) ([]map[string]interface{}, error) {
	if topK <= 0 {
		return nil, nil
	}

	vectorJSON, err := json.Marshal(vector)
	if err != nil {
		return nil, fmt.Errorf("marshal vector: %w", err)
	}

	gql := fmt.Sprintf(`{
  Get {
    %s(nearVector: {vector: %s}, limit: %d) {
      %s
      _additional { distance }
    }
  }
}`, class, string(vectorJSON), topK, strings.Join(fields, "\n      "))

	body, status, err := c.do(ctx, http.MethodPost, "/v1/graphql", map[string]string{"query": gql})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("vector search in %s: status %d: %s", class, status, string(body))
	}

	var parsed struct {
		Data   map[string]map[string][]map[string]interface{} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("vector search in %s: %s", class, parsed.Errors[0].Message)
	}

	return parsed.Data["Get"][class], nil
}

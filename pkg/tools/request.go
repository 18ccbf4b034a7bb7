package tools

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

	"github.com/ospa-ai/relay/pkg/httpclient"
)

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// RequestConfig declares an HTTP tool. RequestParams and RequestJSON are
// JSON object schemas; their properties are merged into the tool-calling
// schema, and at execution time arguments are routed to the query string
// or the JSON body according to which schema declared them.
type RequestConfig struct {
	Name          string
	Description   string
	URL           string
	Method        string
	Headers       map[string]string
	RequestParams map[string]interface{}
	RequestJSON   map[string]interface{}
	Timeout       time.Duration
}

// RequestTool performs exactly one HTTP request per action.
type RequestTool struct {
	config     RequestConfig
	httpClient *httpclient.Client
}

func NewRequestTool(config RequestConfig) (*RequestTool, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("request tool name is required")
	}
	method := strings.ToUpper(config.Method)
	if method == "" {
		method = http.MethodGet
	}
	if !allowedMethods[method] {
		return nil, fmt.Errorf("unsupported HTTP method %q for tool %s", config.Method, config.Name)
	}
	config.Method = method

	if _, err := url.Parse(config.URL); err != nil || config.URL == "" {
		return nil, fmt.Errorf("invalid URL %q for tool %s", config.URL, config.Name)
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	hc := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: config.Timeout}),
		httpclient.WithMaxRetries(0),
	)

	return &RequestTool{config: config, httpClient: hc}, nil
}

func (t *RequestTool) GetName() string {
	return t.config.Name
}

func (t *RequestTool) GetDescription() string {
	return t.config.Description
}

// GetParameterSchema merges the query-parameter and body schemas into one
// object schema for the function-calling envelope.
func (t *RequestTool) GetParameterSchema() map[string]interface{} {
	properties := make(map[string]interface{})
	var required []string

	for _, schema := range []map[string]interface{}{t.config.RequestParams, t.config.RequestJSON} {
		for name, prop := range schemaProperties(schema) {
			properties[name] = prop
		}
		required = append(required, schemaRequired(schema)...)
	}

	merged := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		merged["required"] = required
	}
	return merged
}

func (t *RequestTool) Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	target, err := url.Parse(t.config.URL)
	if err != nil {
		return map[string]interface{}{"error": err.Error()}, err
	}

	// Route arguments declared as query params into the URL, preserving
	// any query already present.
	query := target.Query()
	for name := range schemaProperties(t.config.RequestParams) {
		if v, ok := args[name]; ok {
			query.Set(name, fmt.Sprintf("%v", v))
		}
	}
	target.RawQuery = query.Encode()

	var body io.Reader
	if t.config.Method != http.MethodGet {
		bodyArgs := make(map[string]interface{})
		for name := range schemaProperties(t.config.RequestJSON) {
			if v, ok := args[name]; ok {
				bodyArgs[name] = v
			}
		}
		if len(bodyArgs) > 0 {
			encoded, err := json.Marshal(bodyArgs)
			if err != nil {
				return map[string]interface{}{"error": err.Error()}, err
			}
			body = bytes.NewReader(encoded)
		}
	}

	req, err := http.NewRequestWithContext(ctx, t.config.Method, target.String(), body)
	if err != nil {
		return map[string]interface{}{"error": err.Error()}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return map[string]interface{}{"error": err.Error()}, err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return map[string]interface{}{"error": err.Error()}, err
	}

	return map[string]interface{}{
		"status_code": resp.StatusCode,
		"content":     string(content),
	}, nil
}

func schemaProperties(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		return props
	}
	if _, isFullSchema := schema["type"]; isFullSchema {
		return nil
	}
	// A bare property map is accepted as shorthand.
	return schema
}

func schemaRequired(schema map[string]interface{}) []string {
	if schema == nil {
		return nil
	}
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

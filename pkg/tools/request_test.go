package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestToolGET(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "39.9", r.URL.Query().Get("latitude"))
		assert.Equal(t, "116.4", r.URL.Query().Get("longitude"))
		// Query declared on the tool URL survives the merge.
		assert.Equal(t, "cn", r.URL.Query().Get("region"))
		_, _ = w.Write([]byte(`{"time": "12:00"}`))
	}))
	defer server.Close()

	tool, err := NewRequestTool(RequestConfig{
		Name:   "get_time",
		URL:    server.URL + "/current/coordinate?region=cn",
		Method: "GET",
		RequestParams: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"latitude":  map[string]interface{}{"type": "number"},
				"longitude": map[string]interface{}{"type": "number"},
			},
		},
	})
	require.NoError(t, err)

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"latitude":  39.9,
		"longitude": 116.4,
	})
	require.NoError(t, err)
	assert.Equal(t, 200, result["status_code"])
	assert.Contains(t, result["content"], "12:00")
}

func TestRequestToolPOSTBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Beijing", body["city"])
		assert.Equal(t, "token-1", r.Header.Get("X-Api-Key"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	tool, err := NewRequestTool(RequestConfig{
		Name:    "create_record",
		URL:     server.URL,
		Method:  "POST",
		Headers: map[string]string{"X-Api-Key": "token-1"},
		RequestJSON: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"city": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"city"},
		},
	})
	require.NoError(t, err)

	result, err := tool.Execute(context.Background(), map[string]interface{}{"city": "Beijing"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, result["status_code"])
}

func TestRequestToolSchemaMerge(t *testing.T) {
	tool, err := NewRequestTool(RequestConfig{
		Name:   "mixed",
		URL:    "http://example.com",
		Method: "POST",
		RequestParams: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"id": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"id"},
		},
		RequestJSON: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"payload": map[string]interface{}{"type": "object"},
			},
		},
	})
	require.NoError(t, err)

	schema := tool.GetParameterSchema()
	props := schema["properties"].(map[string]interface{})
	assert.Contains(t, props, "id")
	assert.Contains(t, props, "payload")
	assert.Equal(t, []string{"id"}, schema["required"])
}

func TestRequestToolTransportError(t *testing.T) {
	tool, err := NewRequestTool(RequestConfig{
		Name:   "dead",
		URL:    "http://127.0.0.1:1",
		Method: "GET",
	})
	require.NoError(t, err)

	result, execErr := tool.Execute(context.Background(), nil)
	assert.Error(t, execErr)
	assert.NotEmpty(t, result["error"])
}

func TestRequestToolRejectsBadMethod(t *testing.T) {
	_, err := NewRequestTool(RequestConfig{Name: "x", URL: "http://example.com", Method: "TRACE"})
	assert.Error(t, err)
}

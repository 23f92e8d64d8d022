package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"salesengine/pkg/genai"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(genai.ClientConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	return c
}

func TestGenerate(t *testing.T) {
	t.Run("文本、工具调用与用量", func(t *testing.T) {
		var body map[string]any
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"id":"chatcmpl-1","model":"gpt-4o-mini",
				"choices":[{"index":0,"message":{"role":"assistant","content":"",
					"tool_calls":[{"id":"call_1","type":"function","function":{"name":"create_order","arguments":"{\"phone\":\"1\"}"}}]}}],
				"usage":{"prompt_tokens":50,"completion_tokens":12,"total_tokens":62}
			}`))
		})

		res, err := c.Generate(context.Background(), &genai.GenerationRequest{
			Model:             "gpt-4o-mini",
			SystemInstruction: "sys",
			Contents: []genai.Turn{
				{Role: genai.RoleUser, Text: "hi"},
				{Role: genai.RoleModel, ToolCalls: []genai.ToolCall{{ID: "call_0", Name: "create_order", Args: map[string]any{}}}},
				{Role: genai.RoleTool, ToolResult: &genai.ToolResult{CallID: "call_0", Name: "create_order", Payload: map[string]any{"success": false}}},
			},
			Tools: []genai.ToolSchema{{Name: "create_order", Parameters: map[string]any{"type": "object"}}},
		})
		require.NoError(t, err)
		require.Len(t, res.ToolCalls, 1)
		assert.Equal(t, "call_1", res.ToolCalls[0].ID)
		assert.Equal(t, "1", res.ToolCalls[0].Args["phone"])
		require.NotNil(t, res.Usage)
		assert.Equal(t, 50, res.Usage.InputTokens)
		assert.Equal(t, 12, res.Usage.OutputTokens)

		messages := body["messages"].([]any)
		require.Len(t, messages, 4)
		assert.Equal(t, "system", messages[0].(map[string]any)["role"])
		assert.Equal(t, "tool", messages[3].(map[string]any)["role"])
		assert.Equal(t, "call_0", messages[3].(map[string]any)["tool_call_id"])
		assert.Len(t, body["tools"], 1)
	})

	t.Run("无用量时为空", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
		})
		res, err := c.Generate(context.Background(), &genai.GenerationRequest{Model: "gpt-4o"})
		require.NoError(t, err)
		assert.Equal(t, "ok", res.Text)
		assert.Nil(t, res.Usage)
	})

	t.Run("限流可重试", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit_error"}}`))
		})
		_, err := c.Generate(context.Background(), &genai.GenerationRequest{Model: "gpt-4o"})
		var pe *genai.ProviderError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
		assert.True(t, genai.IsTransient(err))
	})

	t.Run("认证失败不可重试", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
		})
		_, err := c.Generate(context.Background(), &genai.GenerationRequest{Model: "gpt-4o"})
		require.Error(t, err)
		assert.False(t, genai.IsTransient(err))
	})
}

package anthropic

import (
	"context"
	"encoding/json"
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
	c, err := NewClient(genai.ClientConfig{APIKey: "sk-ant-test", BaseURL: srv.URL})
	require.NoError(t, err)
	return c
}

func TestGenerate(t *testing.T) {
	t.Run("文本、工具调用与用量", func(t *testing.T) {
		var body map[string]any
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/messages", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-haiku-20241022",
				"content":[
					{"type":"text","text":"Creating your order."},
					{"type":"tool_use","id":"toolu_1","name":"create_order","input":{"phone":"1"}}
				],
				"stop_reason":"tool_use",
				"usage":{"input_tokens":300,"output_tokens":40}
			}`))
		})

		res, err := c.Generate(context.Background(), &genai.GenerationRequest{
			Model:             "claude-3-5-haiku-20241022",
			SystemInstruction: "sys",
			Contents:          []genai.Turn{{Role: genai.RoleUser, Text: "yes"}},
			Tools: []genai.ToolSchema{{
				Name:       "create_order",
				Parameters: map[string]any{"type": "object", "properties": map[string]any{}, "required": []string{"phone"}},
			}},
			Config: genai.GenerationConfig{MaxOutputTokens: 512},
		})
		require.NoError(t, err)
		assert.Equal(t, "Creating your order.", res.Text)
		require.Len(t, res.ToolCalls, 1)
		assert.Equal(t, "toolu_1", res.ToolCalls[0].ID)
		assert.Equal(t, "1", res.ToolCalls[0].Args["phone"])
		require.NotNil(t, res.Usage)
		assert.Equal(t, 300, res.Usage.InputTokens)
		assert.Equal(t, 40, res.Usage.OutputTokens)

		assert.Equal(t, float64(512), body["max_tokens"])
		assert.Len(t, body["tools"], 1)
		assert.NotEmpty(t, body["system"])
	})

	t.Run("服务端错误可重试", func(t *testing.T) {
		calls := 0
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"boom"}}`))
		})
		_, err := c.Generate(context.Background(), &genai.GenerationRequest{Model: "claude-3-5-haiku-20241022"})
		require.Error(t, err)
		assert.True(t, genai.IsTransient(err))
		// SDK 自带重试已关闭
		assert.Equal(t, 1, calls)
	})
}

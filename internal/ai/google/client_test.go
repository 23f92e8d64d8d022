package google

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
	c, err := NewClient(genai.ClientConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(genai.ClientConfig{})
	assert.ErrorIs(t, err, genai.ErrMissingCredentials)
}

func TestGenerate(t *testing.T) {
	t.Run("文本与用量", func(t *testing.T) {
		var got GenerateRequest
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/models/gemini-2.0-flash:generateContent", r.URL.Path)
			assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
			assert.Empty(t, r.URL.RawQuery)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_, _ = w.Write([]byte(`{
				"candidates":[{"content":{"role":"model","parts":[{"text":"Hello "},{"text":"there"}]}}],
				"usageMetadata":{"promptTokenCount":120,"candidatesTokenCount":8,"totalTokenCount":128}
			}`))
		})

		res, err := c.Generate(context.Background(), &genai.GenerationRequest{
			Model:             "gemini-2.0-flash",
			SystemInstruction: "be nice",
			Contents:          []genai.Turn{{Role: genai.RoleUser, Text: "hi"}},
			Config:            genai.GenerationConfig{Temperature: 0.7, MaxOutputTokens: 256},
		})
		require.NoError(t, err)
		assert.Equal(t, "Hello there", res.Text)
		require.NotNil(t, res.Usage)
		assert.Equal(t, 120, res.Usage.InputTokens)
		assert.Equal(t, 8, res.Usage.OutputTokens)

		require.NotNil(t, got.SystemInstruction)
		assert.Equal(t, "be nice", got.SystemInstruction.Parts[0].Text)
		assert.Equal(t, 256, got.GenerationConfig.MaxOutputTokens)
		assert.Nil(t, got.GenerationConfig.TopK)
		assert.Empty(t, got.Tools)
	})

	t.Run("工具调用与回填", func(t *testing.T) {
		var got GenerateRequest
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"functionCall":{"name":"create_order","args":{"phone":"1"}}}]}}]}`))
		})

		res, err := c.Generate(context.Background(), &genai.GenerationRequest{
			Model: "gemini-2.0-flash",
			Contents: []genai.Turn{
				{Role: genai.RoleUser, Text: "order"},
				{Role: genai.RoleModel, ToolCalls: []genai.ToolCall{{Name: "create_order", Args: map[string]any{"a": 1}}}},
				{Role: genai.RoleTool, ToolResult: &genai.ToolResult{Name: "create_order", Payload: map[string]any{"success": true}}},
			},
			Tools: []genai.ToolSchema{{Name: "create_order", Description: "d", Parameters: map[string]any{"type": "object"}}},
		})
		require.NoError(t, err)
		require.Len(t, res.ToolCalls, 1)
		assert.Equal(t, "create_order", res.ToolCalls[0].Name)
		assert.Equal(t, "1", res.ToolCalls[0].Args["phone"])
		assert.NotEmpty(t, res.ToolCalls[0].ID)
		assert.Nil(t, res.Usage)

		require.Len(t, got.Contents, 3)
		assert.Equal(t, "model", got.Contents[1].Role)
		require.NotNil(t, got.Contents[1].Parts[0].FunctionCall)
		require.NotNil(t, got.Contents[2].Parts[0].FunctionResponse)
		assert.Equal(t, true, got.Contents[2].Parts[0].FunctionResponse.Response["success"])
		require.Len(t, got.Tools, 1)
		assert.Equal(t, "create_order", got.Tools[0].FunctionDeclarations[0].Name)
	})

	t.Run("错误状态码分类", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`))
		})

		_, err := c.Generate(context.Background(), &genai.GenerationRequest{Model: "m"})
		var pe *genai.ProviderError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, 503, pe.StatusCode)
		assert.Equal(t, "overloaded", pe.Message)
		assert.True(t, genai.IsTransient(err))
	})

	t.Run("参数错误不可重试", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`bad`))
		})
		_, err := c.Generate(context.Background(), &genai.GenerationRequest{Model: "m"})
		require.Error(t, err)
		assert.False(t, genai.IsTransient(err))
	})
}

func TestGenerateNetworkErrorHidesKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := srv.URL
	srv.Close()

	c, err := NewClient(genai.ClientConfig{APIKey: "SECRET-KEY-123", BaseURL: baseURL})
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), &genai.GenerationRequest{
		Model:    "gemini-2.0-flash",
		Contents: []genai.Turn{{Role: genai.RoleUser, Text: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, genai.IsTransient(err))
	assert.NotContains(t, err.Error(), "SECRET-KEY-123")
}

func TestGenerateImage(t *testing.T) {
	var got GenerateRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{
			"candidates":[{"content":{"parts":[{"text":"Done."},{"inlineData":{"mimeType":"image/png","data":"aW1n"}}]}}],
			"usageMetadata":{"promptTokenCount":300,"candidatesTokenCount":1290}
		}`))
	})
	assert.True(t, c.SupportsImageOutput())

	res, err := c.Generate(context.Background(), &genai.GenerationRequest{
		Model: "gemini-2.0-flash-preview-image-generation",
		Contents: []genai.Turn{{
			Role:   genai.RoleUser,
			Text:   "Use a white background",
			Images: []genai.Image{{MIMEType: "image/jpeg", Data: []byte("raw")}},
		}},
		Config: genai.GenerationConfig{ResponseModalities: []genai.Modality{genai.ModalityText, genai.ModalityImage}},
	})
	require.NoError(t, err)

	require.Len(t, got.Contents, 1)
	parts := got.Contents[0].Parts
	require.Len(t, parts, 2)
	require.NotNil(t, parts[0].InlineData)
	assert.Equal(t, "image/jpeg", parts[0].InlineData.MimeType)
	assert.Equal(t, []byte("raw"), parts[0].InlineData.Data)
	assert.Equal(t, "Use a white background", parts[1].Text)
	assert.Equal(t, []string{"TEXT", "IMAGE"}, got.GenerationConfig.ResponseModalities)

	assert.Equal(t, "Done.", res.Text)
	require.Len(t, res.Images, 1)
	assert.Equal(t, "image/png", res.Images[0].MIMEType)
	assert.Equal(t, []byte("img"), res.Images[0].Data)
	assert.Equal(t, 1290, res.Usage.OutputTokens)
}

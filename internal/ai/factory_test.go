package ai

import (
	"context"
	"errors"
	"testing"

	"salesengine/internal/config"
	"salesengine/pkg/genai"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	result *genai.GenerationResult
	err    error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Generate(ctx context.Context, req *genai.GenerationRequest) (*genai.GenerationResult, error) {
	return s.result, s.err
}

func TestNewProvider(t *testing.T) {
	creds := StaticCredentialProvider{"GEMINI_API_KEY": "g-key", "OPENAI_API_KEY": "o-key"}

	t.Run("按配置选择提供商", func(t *testing.T) {
		cases := map[string]string{"gemini": "gemini", "": "gemini", "google": "gemini", "openai": "openai"}
		for provider, want := range cases {
			p, err := NewProvider(config.AIConfig{
				Provider: provider,
				Gemini:   config.ProviderConfig{APIKeyEnv: "GEMINI_API_KEY"},
				OpenAI:   config.ProviderConfig{APIKeyEnv: "OPENAI_API_KEY"},
			}, creds, nil)
			require.NoError(t, err, provider)
			assert.Equal(t, want, p.Name())
		}
	})

	t.Run("直接配置的凭证", func(t *testing.T) {
		p, err := NewProvider(config.AIConfig{
			Provider:  "anthropic",
			Anthropic: config.ProviderConfig{APIKeyEnv: "MISSING", APIKey: "a-key"},
		}, creds, nil)
		require.NoError(t, err)
		assert.Equal(t, "anthropic", p.Name())
	})

	t.Run("凭证缺失", func(t *testing.T) {
		_, err := NewProvider(config.AIConfig{
			Provider:  "anthropic",
			Anthropic: config.ProviderConfig{APIKeyEnv: "ANTHROPIC_API_KEY"},
		}, creds, nil)
		assert.ErrorIs(t, err, genai.ErrMissingCredentials)
	})

	t.Run("未知提供商", func(t *testing.T) {
		_, err := NewProvider(config.AIConfig{Provider: "mystery"}, creds, nil)
		assert.ErrorIs(t, err, ErrUnsupportedProvider)
	})
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("SALES_TEST_KEY", "  env-key  ")
	assert.Equal(t, "env-key", ResolveAPIKey(nil, config.ProviderConfig{APIKeyEnv: "SALES_TEST_KEY", APIKey: "cfg"}))
	assert.Equal(t, "cfg", ResolveAPIKey(nil, config.ProviderConfig{APIKeyEnv: "SALES_TEST_UNSET", APIKey: "cfg"}))
	assert.Empty(t, ResolveAPIKey(nil, config.ProviderConfig{}))
}

func TestInstrumented(t *testing.T) {
	t.Run("透传结果", func(t *testing.T) {
		want := &genai.GenerationResult{Text: "ok", Usage: &genai.TokenUsage{InputTokens: 1, OutputTokens: 2}}
		p := NewInstrumented(&stubProvider{result: want}, nil)
		got, err := p.Generate(context.Background(), &genai.GenerationRequest{Model: "m"})
		require.NoError(t, err)
		assert.Same(t, want, got)
		assert.Equal(t, "stub", p.Name())
	})

	t.Run("透传错误", func(t *testing.T) {
		boom := genai.NewStatusError("stub", 503, "down", nil)
		p := NewInstrumented(&stubProvider{err: boom}, nil)
		_, err := p.Generate(context.Background(), &genai.GenerationRequest{Model: "m"})
		var pe *genai.ProviderError
		require.True(t, errors.As(err, &pe))
		assert.Same(t, boom, pe)
	})
}

func TestTokenEstimator(t *testing.T) {
	if testing.Short() {
		t.Skip("编码表需要联网加载")
	}
	e := NewTokenEstimator()
	short := e.Estimate("hello")
	long := e.Estimate("hello", "this is a considerably longer sentence about cakes and cookies")
	assert.Greater(t, short, 0)
	assert.Greater(t, long, short)
	assert.Zero(t, e.Estimate(""))
}

func TestGenerationConfig(t *testing.T) {
	gc := GenerationConfig(config.AIConfig{Temperature: 0.7, TopP: 0.9, TopK: 40, MaxOutputTokens: 800})
	assert.Equal(t, 0.7, gc.Temperature)
	assert.Equal(t, 800, gc.MaxOutputTokens)
}

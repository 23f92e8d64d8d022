package ai

import (
	"errors"
	"fmt"
	"strings"

	"salesengine/internal/ai/anthropic"
	"salesengine/internal/ai/google"
	"salesengine/internal/ai/openai"
	"salesengine/internal/config"
	"salesengine/pkg/genai"

	"go.uber.org/zap"
)

// ErrUnsupportedProvider 配置了未知的提供商
var ErrUnsupportedProvider = errors.New("不支持的生成服务提供商")

// 默认 BaseURL
var defaultBaseURLs = map[string]string{
	"gemini":    "https://generativelanguage.googleapis.com/v1beta",
	"openai":    "https://api.openai.com/v1",
	"anthropic": "https://api.anthropic.com",
}

func providerConfig(cfg config.AIConfig, provider string) (config.ProviderConfig, error) {
	switch provider {
	case "gemini", "google":
		return cfg.Gemini, nil
	case "openai":
		return cfg.OpenAI, nil
	case "anthropic", "claude":
		return cfg.Anthropic, nil
	default:
		return config.ProviderConfig{}, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
}

func normalize(provider string) string {
	p := strings.ToLower(strings.TrimSpace(provider))
	switch p {
	case "", "google":
		return "gemini"
	case "claude":
		return "anthropic"
	}
	return p
}

// NewProvider 根据配置创建提供商客户端，凭证缺失时返回 genai.ErrMissingCredentials
func NewProvider(cfg config.AIConfig, creds CredentialProvider, log *zap.Logger) (genai.Provider, error) {
	name := normalize(cfg.Provider)
	pc, err := providerConfig(cfg, name)
	if err != nil {
		return nil, err
	}

	apiKey := ResolveAPIKey(creds, pc)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s (%s)", genai.ErrMissingCredentials, name, pc.APIKeyEnv)
	}

	clientCfg := genai.ClientConfig{
		Provider: name,
		APIKey:   apiKey,
		BaseURL:  pc.BaseURL,
		OrgID:    pc.OrgID,
		Timeout:  cfg.TimeoutSeconds,
	}
	if clientCfg.BaseURL == "" {
		clientCfg.BaseURL = defaultBaseURLs[name]
	}

	var p genai.Provider
	switch name {
	case "gemini":
		p, err = google.NewClient(clientCfg)
	case "openai":
		p, err = openai.NewClient(clientCfg)
	case "anthropic":
		p, err = anthropic.NewClient(clientCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("创建客户端失败: %w", err)
	}
	return NewInstrumented(p, log), nil
}

// GenerationConfig 配置中的默认采样参数
func GenerationConfig(cfg config.AIConfig) genai.GenerationConfig {
	return genai.GenerationConfig{
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		TopK:            cfg.TopK,
		MaxOutputTokens: cfg.MaxOutputTokens,
	}
}

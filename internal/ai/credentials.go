package ai

import (
	"fmt"
	"os"
	"strings"

	"salesengine/internal/config"
)

// CredentialProvider 凭证提供者接口，允许后续接入外部密钥服务
type CredentialProvider interface {
	Get(key string) (string, error)
}

// EnvCredentialProvider 默认实现：从环境变量读取凭证
type EnvCredentialProvider struct{}

// Get 按键名读取环境变量并返回修剪后的值
func (EnvCredentialProvider) Get(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("凭证键名不能为空")
	}
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("环境变量 %s 未设置", key)
	}
	return strings.TrimSpace(value), nil
}

// StaticCredentialProvider 固定键值，用于测试
type StaticCredentialProvider map[string]string

func (p StaticCredentialProvider) Get(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", fmt.Errorf("凭证 %s 不存在", key)
	}
	return strings.TrimSpace(v), nil
}

// ResolveAPIKey 优先读取 api_key_env 指向的凭证，其次使用配置中的 api_key
func ResolveAPIKey(creds CredentialProvider, pc config.ProviderConfig) string {
	if creds == nil {
		creds = EnvCredentialProvider{}
	}
	if pc.APIKeyEnv != "" {
		if value, err := creds.Get(pc.APIKeyEnv); err == nil && value != "" {
			return value
		}
	}
	return strings.TrimSpace(pc.APIKey)
}

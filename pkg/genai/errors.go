package genai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrMissingCredentials 提供商凭证缺失（配置错误，不可恢复）
var ErrMissingCredentials = errors.New("生成服务凭证未配置")

// ErrorType 错误类型
type ErrorType string

const (
	ErrorTypeAuth          ErrorType = "auth"           // 认证错误
	ErrorTypeRateLimit     ErrorType = "rate_limit"     // 速率限制
	ErrorTypeInvalidParams ErrorType = "invalid_params" // 参数错误
	ErrorTypeServerError   ErrorType = "server_error"   // 服务器错误
	ErrorTypeTimeout       ErrorType = "timeout"        // 请求超时 (408)
	ErrorTypeNetwork       ErrorType = "network"        // 网络错误
	ErrorTypeUnknown       ErrorType = "unknown"        // 未知错误
)

// ProviderError 提供商调用错误
type ProviderError struct {
	Provider   string
	StatusCode int // HTTP 状态码，网络错误时为 0
	Type       ErrorType
	Message    string
	Err        error
}

// Error 实现 error 接口
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Message)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap 返回原始错误
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable 网络错误、5xx、408、429 可重试
func (e *ProviderError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError, ErrorTypeTimeout:
		return true
	}
	return false
}

// NewStatusError 根据 HTTP 状态码构造错误
func NewStatusError(provider string, status int, message string, err error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: status,
		Type:       ClassifyStatus(status),
		Message:    message,
		Err:        err,
	}
}

// NewNetworkError 构造网络错误
func NewNetworkError(provider string, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Type:     ErrorTypeNetwork,
		Message:  "网络请求失败",
		Err:      err,
	}
}

// ClassifyStatus HTTP 状态码到错误类型
func ClassifyStatus(status int) ErrorType {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorTypeAuth
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusRequestTimeout:
		return ErrorTypeTimeout
	case status >= 500:
		return ErrorTypeServerError
	case status >= 400:
		return ErrorTypeInvalidParams
	default:
		return ErrorTypeUnknown
	}
}

// IsTransient 默认重试判定：网络故障或 5xx/408/429
// 上下文取消不视为瞬时错误
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.IsRetryable()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

package genai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	t.Run("5xx/408/429 可重试", func(t *testing.T) {
		for _, status := range []int{500, 502, 503, 504, 408, 429} {
			err := NewStatusError("gemini", status, "失败", nil)
			assert.True(t, IsTransient(err), "status %d", status)
		}
	})

	t.Run("4xx 不重试", func(t *testing.T) {
		for _, status := range []int{400, 401, 403, 404, 422} {
			err := NewStatusError("gemini", status, "失败", nil)
			assert.False(t, IsTransient(err), "status %d", status)
		}
	})

	t.Run("包装后的网络错误可重试", func(t *testing.T) {
		var netErr net.Error = &net.DNSError{Err: "no such host", IsTimeout: true}
		err := fmt.Errorf("调用失败: %w", netErr)
		assert.True(t, IsTransient(err))
		assert.True(t, IsTransient(NewNetworkError("openai", errors.New("connection reset"))))
	})

	t.Run("上下文取消不重试", func(t *testing.T) {
		assert.False(t, IsTransient(context.Canceled))
		assert.False(t, IsTransient(fmt.Errorf("x: %w", context.DeadlineExceeded)))
		assert.False(t, IsTransient(nil))
	})
}

func TestProviderError(t *testing.T) {
	cause := errors.New("boom")
	err := NewStatusError("openai", 503, "服务不可用", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrorTypeServerError, err.Type)
	assert.Contains(t, err.Error(), "HTTP 503")
}

func TestGenerationResult(t *testing.T) {
	t.Run("缺失用量返回零值", func(t *testing.T) {
		r := &GenerationResult{Text: " hi "}
		assert.Equal(t, TokenUsage{}, r.UsageOrZero())
		assert.Equal(t, "hi", r.TrimmedText())
		assert.False(t, r.HasToolCalls())
	})

	t.Run("工具调用", func(t *testing.T) {
		r := &GenerationResult{
			Usage:     &TokenUsage{InputTokens: 3, OutputTokens: 4},
			ToolCalls: []ToolCall{{Name: "createOrder"}},
		}
		assert.True(t, r.HasToolCalls())
		assert.Equal(t, 7, r.UsageOrZero().Total())
	})
}

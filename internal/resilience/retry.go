package resilience

import (
	"context"
	"errors"
	"time"

	"salesengine/internal/config"
	"salesengine/internal/logger"
	"salesengine/internal/metrics"
	"salesengine/pkg/genai"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryPolicy 重试策略
// 总尝试次数 = 1 + MaxRetries
type RetryPolicy struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            float64 // 随机抖动比例，0.3 即 ±30%
	ShouldRetry       func(error) bool
}

// DefaultRetryPolicy 默认策略
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
		Jitter:            0.3,
		ShouldRetry:       genai.IsTransient,
	}
}

// PolicyFromConfig 从配置构造重试策略
func PolicyFromConfig(cfg config.ResilienceConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxRetries >= 0 {
		p.MaxRetries = cfg.MaxRetries
	}
	if cfg.InitialDelayMs > 0 {
		p.InitialDelay = time.Duration(cfg.InitialDelayMs) * time.Millisecond
	}
	if cfg.MaxDelayMs > 0 {
		p.MaxDelay = time.Duration(cfg.MaxDelayMs) * time.Millisecond
	}
	if cfg.BackoffMultiplier >= 1 {
		p.BackoffMultiplier = cfg.BackoffMultiplier
	}
	if cfg.Jitter >= 0 && cfg.Jitter < 1 {
		p.Jitter = cfg.Jitter
	}
	return p
}

// newBackOff 第 i 次等待为 min(initial × multiplier^i, max) ± jitter
func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.Multiplier = p.BackoffMultiplier
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (p RetryPolicy) retryable(err error) bool {
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if p.ShouldRetry == nil {
		return genai.IsTransient(err)
	}
	return p.ShouldRetry(err)
}

// Retry 按策略执行 fn，最后一次失败的错误原样返回
func Retry[T any](ctx context.Context, p RetryPolicy, log *zap.Logger, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	bo := p.newBackOff()
	log = logger.Scoped(ctx, log)

	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= p.MaxRetries || !p.retryable(err) {
			return zero, err
		}

		delay := bo.NextBackOff()
		log.Warn("调用失败，准备重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", p.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		metrics.ProviderRetries.WithLabelValues(operation).Inc()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"salesengine/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("salesengine/resilience")

// Invoker 组合重试与熔断：每次尝试都经过提供商的熔断器
type Invoker struct {
	policy   RetryPolicy
	settings BreakerSettings
	logger   *zap.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewInvoker 创建调用器
func NewInvoker(policy RetryPolicy, settings BreakerSettings, log *zap.Logger) *Invoker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Invoker{
		policy:   policy,
		settings: settings,
		logger:   log,
		breakers: make(map[string]*Breaker),
	}
}

// NewInvokerFromConfig 按配置创建调用器
func NewInvokerFromConfig(cfg config.ResilienceConfig, log *zap.Logger) *Invoker {
	settings := DefaultBreakerSettings()
	if cfg.BreakerThreshold > 0 {
		settings.Threshold = cfg.BreakerThreshold
	}
	if cfg.BreakerResetSeconds > 0 {
		settings.ResetTimeout = time.Duration(cfg.BreakerResetSeconds) * time.Second
	}
	return NewInvoker(PolicyFromConfig(cfg), settings, log)
}

// Breaker 获取（或懒创建）提供商对应的熔断器
func (i *Invoker) Breaker(provider string) *Breaker {
	i.mu.Lock()
	defer i.mu.Unlock()

	b, ok := i.breakers[provider]
	if !ok {
		b = NewBreaker(provider, i.settings, i.logger)
		i.breakers[provider] = b
	}
	return b
}

// Invoke 以 retry(breaker(fn)) 的方式执行一次远程调用
func Invoke[T any](ctx context.Context, i *Invoker, provider, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := tracer.Start(ctx, "resilience.Invoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
	)

	b := i.Breaker(provider)
	out, err := Retry(ctx, i.policy, i.logger, operation, func(ctx context.Context) (T, error) {
		return Execute(b, func() (T, error) {
			return fn(ctx)
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrCircuitOpen) {
			span.SetAttributes(attribute.Bool("circuit_open", true))
		}
	}
	return out, err
}

package ai

import (
	"context"
	"time"

	"salesengine/internal/logger"
	"salesengine/internal/metrics"
	"salesengine/pkg/genai"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("salesengine/ai")

// Instrumented 为提供商调用附加指标、追踪与日志
type Instrumented struct {
	inner  genai.Provider
	logger *zap.Logger
}

// NewInstrumented 包装提供商
func NewInstrumented(p genai.Provider, log *zap.Logger) *Instrumented {
	if log == nil {
		log = zap.NewNop()
	}
	return &Instrumented{inner: p, logger: log}
}

// Name 返回底层提供商名称
func (c *Instrumented) Name() string {
	return c.inner.Name()
}

// SupportsImageOutput 透传底层提供商能力
func (c *Instrumented) SupportsImageOutput() bool {
	return genai.SupportsImageOutput(c.inner)
}

// Generate 调用底层提供商
func (c *Instrumented) Generate(ctx context.Context, req *genai.GenerationRequest) (*genai.GenerationResult, error) {
	provider := c.inner.Name()
	ctx, span := tracer.Start(ctx, "genai.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", provider),
		attribute.String("model", req.Model),
		attribute.Int("tools", len(req.Tools)),
		attribute.Int("turns", len(req.Contents)),
	)

	start := time.Now()
	result, err := c.inner.Generate(ctx, req)
	elapsed := time.Since(start)

	metrics.ProviderCallsTotal.WithLabelValues(provider, req.Model, metrics.StatusLabel(err)).Inc()
	metrics.ProviderCallDuration.WithLabelValues(provider, req.Model).Observe(elapsed.Seconds())

	log := logger.Scoped(ctx, c.logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("生成服务调用失败",
			zap.String("provider", provider),
			zap.String("model", req.Model),
			zap.Duration("latency", elapsed),
			zap.Error(err),
		)
		return nil, err
	}

	usage := result.UsageOrZero()
	span.SetAttributes(
		attribute.Int("input_tokens", usage.InputTokens),
		attribute.Int("output_tokens", usage.OutputTokens),
		attribute.Int("tool_calls", len(result.ToolCalls)),
		attribute.Int("images", len(result.Images)),
	)
	log.Debug("生成服务调用完成",
		zap.String("provider", provider),
		zap.String("model", req.Model),
		zap.Duration("latency", elapsed),
		zap.Int("input_tokens", usage.InputTokens),
		zap.Int("output_tokens", usage.OutputTokens),
		zap.Bool("usage_reported", result.Usage != nil),
	)
	return result, nil
}

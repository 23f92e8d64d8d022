package tools

import (
	"context"
	"fmt"
	"time"

	"salesengine/internal/logger"
	"salesengine/internal/metrics"
	"salesengine/pkg/genai"

	"go.uber.org/zap"
)

// Phase 生成阶段
type Phase int

const (
	PhaseInitial  Phase = iota + 1 // 携带工具声明
	PhaseFollowup                  // 回填工具结果，不再携带工具
)

// GenerateFunc 单次生成调用，重试与记账由调用方负责
type GenerateFunc func(ctx context.Context, req *genai.GenerationRequest, phase Phase) (*genai.GenerationResult, error)

// Outcome 编排结果
type Outcome struct {
	Text    string
	OrderID string

	Invoked bool // 是否执行了工具
	Tool    ToolID
	Result  Result
	Ignored int // 被丢弃的多余工具调用数
}

// Orchestrator 两阶段工具调用编排
type Orchestrator struct {
	registry *Registry
	timeout  time.Duration
	logger   *zap.Logger
}

// NewOrchestrator 创建编排器
func NewOrchestrator(registry *Registry, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{registry: registry, timeout: 30 * time.Second, logger: log}
}

// Run 第一阶段携带工具声明；模型请求工具时仅执行第一个，结果回填后进行第二阶段
func (o *Orchestrator) Run(ctx context.Context, req *genai.GenerationRequest, scope Scope, enabled []ToolID, generate GenerateFunc) (*Outcome, error) {
	log := logger.Scoped(ctx, o.logger)

	initial := *req
	initial.Tools = o.registry.Schemas(enabled)

	first, err := generate(ctx, &initial, PhaseInitial)
	if err != nil {
		return nil, err
	}
	if !first.HasToolCalls() {
		return &Outcome{Text: first.TrimmedText()}, nil
	}

	call := first.ToolCalls[0]
	out := &Outcome{Invoked: true, Ignored: len(first.ToolCalls) - 1}
	if out.Ignored > 0 {
		log.Warn("模型一次请求了多个工具调用，仅执行第一个",
			zap.String("tool", call.Name),
			zap.Int("ignored", out.Ignored),
		)
	}

	out.Tool, out.Result = o.Dispatch(ctx, scope, call, enabled)

	followup := *req
	followup.Tools = nil
	followup.Contents = make([]genai.Turn, 0, len(req.Contents)+2)
	followup.Contents = append(followup.Contents, req.Contents...)
	followup.Contents = append(followup.Contents,
		genai.Turn{Role: genai.RoleModel, Text: first.Text, ToolCalls: []genai.ToolCall{call}},
		genai.Turn{Role: genai.RoleTool, ToolResult: &genai.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Payload: out.Result.Payload(),
		}},
	)

	second, err := generate(ctx, &followup, PhaseFollowup)
	if err != nil {
		return nil, err
	}

	out.Text = second.TrimmedText()
	if out.Result.Success {
		out.OrderID = out.Result.OrderID
	}
	return out, nil
}

// Dispatch 解析并执行单个工具调用，任何失败都转为失败结果
func (o *Orchestrator) Dispatch(ctx context.Context, scope Scope, call genai.ToolCall, enabled []ToolID) (ToolID, Result) {
	log := logger.Scoped(ctx, o.logger).With(zap.String("tool", call.Name))

	id, err := o.registry.Resolve(call.Name)
	if err != nil {
		log.Warn("工具调用被拒绝", zap.Error(err))
		metrics.ToolCallsTotal.WithLabelValues(call.Name, "unknown").Inc()
		return 0, Failure(err)
	}
	if !contains(enabled, id) {
		err := fmt.Errorf("%w: %s", ErrToolDisabled, call.Name)
		log.Warn("工具调用被拒绝", zap.Error(err))
		metrics.ToolCallsTotal.WithLabelValues(id.String(), "disabled").Inc()
		return id, Failure(err)
	}

	handler, def, _ := o.registry.handler(id)
	if err := def.Validate(call.Args); err != nil {
		log.Warn("工具参数校验失败", zap.Error(err))
		metrics.ToolCallsTotal.WithLabelValues(id.String(), "invalid").Inc()
		return id, Failure(err)
	}

	if scope.Quota != nil {
		ok, err := scope.Quota.Reserve(ctx)
		if err != nil {
			log.Error("占用下单名额失败", zap.Error(err))
			metrics.ToolCallsTotal.WithLabelValues(id.String(), "error").Inc()
			return id, Failure(err)
		}
		if !ok {
			log.Info("下单名额已用完，拒绝执行工具")
			metrics.ToolCallsTotal.WithLabelValues(id.String(), "quota").Inc()
			return id, Failure(ErrQuotaExhausted)
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	result := handler.Handle(execCtx, scope, call.Args)
	if result.Success && result.OrderID == "" {
		result = Result{Success: false, Error: "未返回订单号"}
	}
	if !result.Success && scope.Quota != nil {
		scope.Quota.Release(context.WithoutCancel(ctx))
	}

	status := "success"
	if !result.Success {
		status = "failed"
	}
	metrics.ToolCallsTotal.WithLabelValues(id.String(), status).Inc()
	log.Info("工具执行完成",
		zap.Bool("success", result.Success),
		zap.String("order_id", result.OrderID),
		zap.String("error", result.Error),
		zap.Duration("duration", time.Since(start)),
	)
	return id, result
}

func contains(ids []ToolID, id ToolID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

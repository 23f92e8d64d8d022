package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"salesengine/internal/ai"
	"salesengine/internal/budget"
	"salesengine/internal/commerce"
	"salesengine/internal/config"
	"salesengine/internal/ledger"
	"salesengine/internal/logger"
	"salesengine/internal/metrics"
	"salesengine/internal/prompt"
	"salesengine/internal/resilience"
	"salesengine/internal/shop"
	"salesengine/internal/strategy"
	"salesengine/internal/tools"
	"salesengine/pkg/genai"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("salesengine/engine")

// BudgetGovernor 预算准入与成本优化
type BudgetGovernor interface {
	EstimatedCost() float64
	CanAdmit(ctx context.Context, shopID string, estimatedCost float64) (budget.Admission, error)
	Release(ctx context.Context, shopID string, reserved float64) error
	Optimize(ctx context.Context, shopID, currentModel string, historyLength int) (budget.Optimization, error)
}

// CommerceGate 自主下单额度
type CommerceGate interface {
	Evaluate(ctx context.Context, shopID string, ent commerce.Entitlement, now time.Time) (commerce.Decision, error)
	ReserveSlot(ctx context.Context, shopID string, limit *int, now time.Time) (bool, error)
	ReleaseSlot(ctx context.Context, shopID string, now time.Time) error
}

// UsageRecorder 用量账本
type UsageRecorder interface {
	Record(ctx context.Context, in ledger.RecordInput) (*ledger.Entry, error)
}

// TokenEstimator 提示词 Token 估算
type TokenEstimator interface {
	Estimate(texts ...string) int
}

// Deps 引擎依赖，Estimator、Logger、Now 可为空
type Deps struct {
	Shops     shop.ConfigReader
	Commerce  CommerceGate
	Budget    BudgetGovernor
	Ledger    UsageRecorder
	Composer  *prompt.Composer
	Tools     *tools.Registry
	Provider  genai.Provider
	Invoker   *resilience.Invoker
	AI        config.AIConfig
	Estimator TokenEstimator
	Logger    *zap.Logger
	Now       func() time.Time
}

// Engine 对话回复与成本管控管线
type Engine struct {
	shops        shop.ConfigReader
	gate         CommerceGate
	budget       BudgetGovernor
	ledger       UsageRecorder
	composer     *prompt.Composer
	orchestrator *tools.Orchestrator
	provider     genai.Provider
	invoker      *resilience.Invoker
	ai           config.AIConfig
	genConfig    genai.GenerationConfig
	estimator    TokenEstimator
	logger       *zap.Logger
	now          func() time.Time
}

// New 创建引擎，缺少提供商时返回 *ConfigError
func New(d Deps) (*Engine, error) {
	if d.Provider == nil {
		return nil, &ConfigError{Reason: "未配置生成服务", Err: genai.ErrMissingCredentials}
	}
	switch {
	case d.Shops == nil:
		return nil, &ConfigError{Reason: "缺少店铺配置读取"}
	case d.Commerce == nil:
		return nil, &ConfigError{Reason: "缺少下单额度闸门"}
	case d.Budget == nil:
		return nil, &ConfigError{Reason: "缺少预算服务"}
	case d.Ledger == nil:
		return nil, &ConfigError{Reason: "缺少用量账本"}
	case d.Invoker == nil:
		return nil, &ConfigError{Reason: "缺少调用器"}
	case d.Tools == nil:
		return nil, &ConfigError{Reason: "缺少工具注册表"}
	}

	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	composer := d.Composer
	if composer == nil {
		composer = prompt.NewComposer()
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		shops:        d.Shops,
		gate:         d.Commerce,
		budget:       d.Budget,
		ledger:       d.Ledger,
		composer:     composer,
		orchestrator: tools.NewOrchestrator(d.Tools, log),
		provider:     d.Provider,
		invoker:      d.Invoker,
		ai:           d.AI,
		genConfig:    ai.GenerationConfig(d.AI),
		estimator:    d.Estimator,
		logger:       log,
		now:          now,
	}, nil
}

// Request 一条顾客消息
type Request struct {
	ShopID         string       `json:"shopId"`
	ConversationID string       `json:"conversationId"`
	History        []genai.Turn `json:"history"`
	Message        string       `json:"message"`
	Language       string       `json:"language,omitempty"`
	Tone           string       `json:"tone,omitempty"`
	UserName       string       `json:"userName,omitempty"`
}

// Result 回复结果，Kind 不为 KindNone 时 Text 为固定文案
type Result struct {
	Text     string            `json:"text"`
	OrderID  string            `json:"orderId,omitempty"`
	Kind     ErrorKind         `json:"-"`
	Reason   string            `json:"reason,omitempty"`
	Model    string            `json:"model,omitempty"`
	Strategy strategy.Strategy `json:"strategy,omitempty"`
	Mode     commerce.Mode     `json:"mode,omitempty"`
}

// GenerateResponse 处理一条顾客消息
// 预算、额度、工具失败与提供商故障都以 Result.Kind 返回；error 仅用于配置与存储故障
func (e *Engine) GenerateResponse(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	ctx = logger.WithConversation(ctx, req.ShopID, req.ConversationID)
	ctx, span := tracer.Start(ctx, "engine.GenerateResponse", trace.WithAttributes(
		attribute.String("shop_id", req.ShopID),
		attribute.Int("history_length", len(req.History)),
	))
	defer func() { e.finish(span, "respond", start, res, err) }()

	log := logger.Scoped(ctx, e.logger)

	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: 消息不能为空", ErrInvalidRequest)
	}

	cfg, err := e.shops.GetShopConfig(ctx, req.ShopID)
	if err != nil {
		return nil, fmt.Errorf("读取店铺配置失败: %w", err)
	}

	strat := strategy.ForShop(cfg)
	decision, err := e.gate.Evaluate(ctx, req.ShopID, commerce.EntitlementFrom(cfg.Commerce), e.now())
	if err != nil {
		return nil, err
	}
	if decision.Mode == commerce.ModeQuotaExceeded {
		return &Result{Text: MessageQuotaExceeded, Kind: KindQuotaExceeded, Strategy: strat, Mode: decision.Mode}, nil
	}

	in := prompt.InputFromConfig(cfg, strat, decision.Mode)
	in.Language = req.Language
	in.Tone = req.Tone
	in.UserName = req.UserName
	system := e.composer.Compose(in)

	adm, err := e.budget.CanAdmit(ctx, req.ShopID, e.budget.EstimatedCost())
	if err != nil {
		return nil, err
	}
	if !adm.Allowed {
		return &Result{Text: MessageBudgetExceeded, Kind: KindBudgetExceeded, Reason: adm.Reason, Strategy: strat, Mode: decision.Mode}, nil
	}
	defer e.release(ctx, req.ShopID, adm.Reserved)

	opt, err := e.budget.Optimize(ctx, req.ShopID, e.ai.ModelForTier(cfg.Profile.ModelTier), len(req.History))
	if err != nil {
		return nil, err
	}
	if opt.Block {
		log.Warn("预算即将耗尽", zap.String("rule", opt.Rule), zap.Float64("percent_used", opt.PercentUsed))
	}
	if opt.ModelSwitched || opt.HistoryLimit > 0 {
		log.Info("已应用成本优化",
			zap.String("rule", opt.Rule),
			zap.String("model", opt.Model),
			zap.Int("history_limit", opt.HistoryLimit),
		)
	}
	history := budget.TrimHistory(req.History, opt.HistoryLimit)
	span.SetAttributes(attribute.String("model", opt.Model), attribute.String("mode", string(decision.Mode)))

	genReq := &genai.GenerationRequest{
		Model:             opt.Model,
		SystemInstruction: system,
		Contents:          withMessage(history, req.Message),
		Config:            e.genConfig,
	}
	call := callScope{
		shopID:         req.ShopID,
		conversationID: req.ConversationID,
		metadata:       e.metadata(cfg, system, req.Message, len(history)),
	}
	if opt.ModelSwitched {
		call.metadata["optimization_rule"] = opt.Rule
	}

	res = &Result{Model: opt.Model, Strategy: strat, Mode: decision.Mode}

	var enabled []tools.ToolID
	if decision.ToolsAllowed() {
		enabled = tools.EnabledTools(cfg.OrderFlowEnabled, cfg.BookingFlowEnabled)
	}
	if len(enabled) == 0 {
		out, err := e.generate(ctx, call, ledger.OpChat, genReq)
		if err != nil {
			return e.providerFailure(ctx, res, err)
		}
		res.Text = e.textOrFallback(ctx, out.TrimmedText())
		return res, nil
	}

	scope := tools.Scope{
		ShopID:         req.ShopID,
		ConversationID: req.ConversationID,
		Quota:          &orderQuota{gate: e.gate, shopID: req.ShopID, limit: decision.Limit, now: e.now(), logger: log},
	}
	outcome, err := e.orchestrator.Run(ctx, genReq, scope, enabled, func(ctx context.Context, r *genai.GenerationRequest, phase tools.Phase) (*genai.GenerationResult, error) {
		op := ledger.OpChat
		if phase == tools.PhaseFollowup {
			op = ledger.OpChatToolFollowup
		}
		return e.generate(ctx, call, op, r)
	})
	if err != nil {
		return e.providerFailure(ctx, res, err)
	}

	res.Text = e.textOrFallback(ctx, outcome.Text)
	res.OrderID = outcome.OrderID
	return res, nil
}

// orderQuota 本轮对话的下单名额
type orderQuota struct {
	gate   CommerceGate
	shopID string
	limit  *int
	now    time.Time
	logger *zap.Logger
}

func (q *orderQuota) Reserve(ctx context.Context) (bool, error) {
	return q.gate.ReserveSlot(ctx, q.shopID, q.limit, q.now)
}

func (q *orderQuota) Release(ctx context.Context) {
	if err := q.gate.ReleaseSlot(ctx, q.shopID, q.now); err != nil {
		q.logger.Error("归还下单名额失败", zap.Error(err))
	}
}

// callScope 同一轮对话内所有调用共享的记账信息
type callScope struct {
	shopID         string
	conversationID string
	metadata       map[string]any
}

// generate 经重试与熔断调用提供商，成功后写入账本
func (e *Engine) generate(ctx context.Context, call callScope, op ledger.OperationType, req *genai.GenerationRequest) (*genai.GenerationResult, error) {
	out, err := resilience.Invoke(ctx, e.invoker, e.provider.Name(), string(op), func(ctx context.Context) (*genai.GenerationResult, error) {
		return e.provider.Generate(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	meta := make(map[string]any, len(call.metadata)+1)
	for k, v := range call.metadata {
		meta[k] = v
	}
	if out.Usage == nil {
		meta["usage_missing"] = true
	}

	// 调用已发生，记账失败只记录日志
	if _, err := e.ledger.Record(ctx, ledger.RecordInput{
		ShopID:         call.shopID,
		ConversationID: call.conversationID,
		Operation:      op,
		Model:          req.Model,
		Usage:          out.UsageOrZero(),
		Metadata:       meta,
	}); err != nil {
		logger.Scoped(ctx, e.logger).Error("写入用量账本失败",
			zap.String("operation", string(op)),
			zap.String("model", req.Model),
			zap.Error(err),
		)
	}
	return out, nil
}

func (e *Engine) providerFailure(ctx context.Context, res *Result, err error) (*Result, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	log := logger.Scoped(ctx, e.logger)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		log.Warn("熔断器打开，跳过生成", zap.Error(err))
		res.Text = MessageServiceUnavailable
		res.Kind = KindServiceUnavailable
		return res, nil
	}
	log.Error("生成失败，返回兜底回复", zap.Error(err))
	res.Text = MessageFallback
	res.Kind = KindProviderFailure
	return res, nil
}

func (e *Engine) textOrFallback(ctx context.Context, text string) string {
	if text != "" {
		return text
	}
	logger.Scoped(ctx, e.logger).Warn("模型返回空文本")
	return MessageFallback
}

func (e *Engine) release(ctx context.Context, shopID string, reserved float64) {
	if err := e.budget.Release(context.WithoutCancel(ctx), shopID, reserved); err != nil {
		logger.Scoped(ctx, e.logger).Error("释放预算预留失败", zap.Error(err))
	}
}

func (e *Engine) metadata(cfg *shop.Config, system, message string, historyLength int) map[string]any {
	knowledge := 0
	for _, s := range cfg.Knowledge {
		knowledge += len(s.Content) + len(s.Entries)
	}
	meta := map[string]any{
		"message_length": len(message),
		"history_length": historyLength,
		"knowledge_size": knowledge,
	}
	if e.estimator != nil {
		meta["estimated_prompt_tokens"] = e.estimator.Estimate(system, message)
	}
	return meta
}

func (e *Engine) finish(span trace.Span, operation string, start time.Time, res *Result, err error) {
	outcome := "error"
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case res != nil:
		outcome = res.Kind.String()
		span.SetAttributes(attribute.String("outcome", outcome))
		if res.OrderID != "" {
			span.SetAttributes(attribute.String("order_id", res.OrderID))
		}
	}
	metrics.ResponsesTotal.WithLabelValues(operation, outcome).Inc()
	metrics.ResponseDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	span.End()
}

func withMessage(history []genai.Turn, message string) []genai.Turn {
	contents := make([]genai.Turn, 0, len(history)+1)
	contents = append(contents, history...)
	return append(contents, genai.Turn{Role: genai.RoleUser, Text: message})
}

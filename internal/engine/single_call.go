package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"salesengine/internal/budget"
	"salesengine/internal/ledger"
	"salesengine/internal/logger"
	"salesengine/internal/prompt"
	"salesengine/pkg/genai"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultSuggestionCount = 3
	maxSuggestionCount     = 5
)

// DescriptionRequest 商品描述生成
type DescriptionRequest struct {
	ShopID   string
	Product  prompt.ProductBrief
	Language string
	Tone     string
}

// SuggestionRequest 回复建议
type SuggestionRequest struct {
	ShopID         string
	ConversationID string
	History        []genai.Turn
	Count          int
	Language       string
	Tone           string
}

// Suggestions 回复建议结果
type Suggestions struct {
	Result
	Replies []string `json:"replies"`
}

// GenerateProductDescription 单次调用生成商品描述
func (e *Engine) GenerateProductDescription(ctx context.Context, req DescriptionRequest) (res *Result, err error) {
	start := time.Now()
	ctx = logger.WithConversation(ctx, req.ShopID, "")
	ctx, span := tracer.Start(ctx, "engine.GenerateProductDescription", trace.WithAttributes(
		attribute.String("shop_id", req.ShopID),
	))
	defer func() { e.finish(span, string(ledger.OpProductDescription), start, res, err) }()

	if strings.TrimSpace(req.Product.Name) == "" {
		return nil, fmt.Errorf("%w: 商品名称不能为空", ErrInvalidRequest)
	}

	cfg, err := e.shops.GetShopConfig(ctx, req.ShopID)
	if err != nil {
		return nil, fmt.Errorf("读取店铺配置失败: %w", err)
	}
	system := prompt.DescriptionInstruction(cfg.Profile, req.Language, req.Tone, req.Product)
	contents := []genai.Turn{{Role: genai.RoleUser, Text: "Write the product description now."}}

	out, res, err := e.singleCall(ctx, callSpec{
		shopID:   req.ShopID,
		op:       ledger.OpProductDescription,
		tier:     cfg.Profile.ModelTier,
		system:   system,
		contents: contents,
	})
	if err != nil || res.Kind != KindNone {
		return res, err
	}
	res.Text = e.textOrFallback(ctx, out.TrimmedText())
	return res, nil
}

// SuggestReplies 单次调用生成若干条候选回复，模型需返回 JSON 字符串数组
func (e *Engine) SuggestReplies(ctx context.Context, req SuggestionRequest) (res *Suggestions, err error) {
	start := time.Now()
	ctx = logger.WithConversation(ctx, req.ShopID, req.ConversationID)
	ctx, span := tracer.Start(ctx, "engine.SuggestReplies", trace.WithAttributes(
		attribute.String("shop_id", req.ShopID),
		attribute.Int("history_length", len(req.History)),
	))
	defer func() {
		var r *Result
		if res != nil {
			r = &res.Result
		}
		e.finish(span, string(ledger.OpReplySuggestions), start, r, err)
	}()

	count := req.Count
	if count <= 0 {
		count = defaultSuggestionCount
	}
	if count > maxSuggestionCount {
		count = maxSuggestionCount
	}
	if len(req.History) == 0 {
		return nil, fmt.Errorf("%w: 会话历史不能为空", ErrInvalidRequest)
	}

	cfg, err := e.shops.GetShopConfig(ctx, req.ShopID)
	if err != nil {
		return nil, fmt.Errorf("读取店铺配置失败: %w", err)
	}
	system := prompt.SuggestionsInstruction(cfg.Profile, req.Language, req.Tone, count)

	out, base, err := e.singleCall(ctx, callSpec{
		shopID:         req.ShopID,
		conversationID: req.ConversationID,
		op:             ledger.OpReplySuggestions,
		tier:           cfg.Profile.ModelTier,
		system:         system,
		contents:       req.History,
	})
	if err != nil {
		return nil, err
	}
	res = &Suggestions{Result: *base}
	if base.Kind != KindNone {
		return res, nil
	}

	replies, err := ParseReplies(out.Text)
	if err != nil {
		res.Kind = KindParse
		return res, err
	}
	if len(replies) > count {
		replies = replies[:count]
	}
	res.Replies = replies
	return res, nil
}

// callSpec 单次调用参数
type callSpec struct {
	shopID         string
	conversationID string
	op             ledger.OperationType
	tier           string
	model          string // 非空时固定模型，不参与成本降级
	modalities     []genai.Modality
	system         string
	contents       []genai.Turn
	metadata       map[string]any
}

// singleCall 准入、优化、调用与记账，Kind 不为 KindNone 时 out 为空
func (e *Engine) singleCall(ctx context.Context, cs callSpec) (*genai.GenerationResult, *Result, error) {
	adm, err := e.budget.CanAdmit(ctx, cs.shopID, e.budget.EstimatedCost())
	if err != nil {
		return nil, nil, err
	}
	if !adm.Allowed {
		return nil, &Result{Text: MessageBudgetExceeded, Kind: KindBudgetExceeded, Reason: adm.Reason}, nil
	}
	defer e.release(ctx, cs.shopID, adm.Reserved)

	opt, err := e.budget.Optimize(ctx, cs.shopID, e.ai.ModelForTier(cs.tier), len(cs.contents))
	if err != nil {
		return nil, nil, err
	}
	contents := budget.TrimHistory(cs.contents, opt.HistoryLimit)
	model := opt.Model
	if cs.model != "" {
		model = cs.model
	}

	genCfg := e.genConfig
	genCfg.ResponseModalities = cs.modalities
	req := &genai.GenerationRequest{
		Model:             model,
		SystemInstruction: cs.system,
		Contents:          contents,
		Config:            genCfg,
	}
	call := callScope{shopID: cs.shopID, conversationID: cs.conversationID, metadata: map[string]any{
		"history_length": len(contents),
	}}
	for k, v := range cs.metadata {
		call.metadata[k] = v
	}
	if e.estimator != nil {
		call.metadata["estimated_prompt_tokens"] = e.estimator.Estimate(cs.system)
	}

	res := &Result{Model: model}
	out, err := e.generate(ctx, call, cs.op, req)
	if err != nil {
		res, err = e.providerFailure(ctx, res, err)
		return nil, res, err
	}
	return out, res, nil
}

var codeFence = regexp.MustCompile("(?s)^\\s*```[a-zA-Z]*\\s*(.*?)\\s*```\\s*$")

// ParseReplies 解析 JSON 字符串数组，失败时去掉 markdown 代码块后再试一次
func ParseReplies(raw string) ([]string, error) {
	var replies []string
	err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &replies)
	if err != nil {
		m := codeFence.FindStringSubmatch(raw)
		if m == nil {
			return nil, &ParseError{Operation: string(ledger.OpReplySuggestions), Raw: raw, Err: err}
		}
		replies = nil
		if err := json.Unmarshal([]byte(m[1]), &replies); err != nil {
			return nil, &ParseError{Operation: string(ledger.OpReplySuggestions), Raw: raw, Err: err}
		}
	}

	cleaned := make([]string, 0, len(replies))
	for _, r := range replies {
		if r = strings.TrimSpace(r); r != "" {
			cleaned = append(cleaned, r)
		}
	}
	return cleaned, nil
}

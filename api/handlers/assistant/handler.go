package assistant

import (
	"context"
	"errors"
	"net/http"

	"salesengine/api/handlers/common"
	"salesengine/internal/engine"
	"salesengine/internal/prompt"
	"salesengine/internal/shop"
	"salesengine/pkg/genai"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Assistant 引擎能力抽象，便于注入 mock
type Assistant interface {
	GenerateResponse(ctx context.Context, req engine.Request) (*engine.Result, error)
	GenerateProductDescription(ctx context.Context, req engine.DescriptionRequest) (*engine.Result, error)
	SuggestReplies(ctx context.Context, req engine.SuggestionRequest) (*engine.Suggestions, error)
	EditProductImage(ctx context.Context, req engine.ImageEditRequest) (*engine.ImageResult, error)
}

// Handler 对话回复 Handler
type Handler struct {
	engine Assistant
	logger *zap.Logger
}

// NewHandler 创建 Handler
func NewHandler(e Assistant, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: e, logger: logger}
}

// RespondRequest 顾客消息
type RespondRequest struct {
	Message  string       `json:"message" binding:"required"`
	History  []genai.Turn `json:"history"`
	Language string       `json:"language"`
	Tone     string       `json:"tone"`
	UserName string       `json:"userName"`
}

// DescribeRequest 商品描述
type DescribeRequest struct {
	Name     string   `json:"name" binding:"required"`
	Category string   `json:"category"`
	Price    string   `json:"price"`
	Features []string `json:"features"`
	Keywords []string `json:"keywords"`
	Language string   `json:"language"`
	Tone     string   `json:"tone"`
}

// SuggestionsRequest 回复建议
type SuggestionsRequest struct {
	History  []genai.Turn `json:"history" binding:"required"`
	Count    int          `json:"count"`
	Language string       `json:"language"`
	Tone     string       `json:"tone"`
}

// ImageEditRequest 商品图片编辑，image 为 base64
type ImageEditRequest struct {
	Instruction string `json:"instruction" binding:"required"`
	Image       []byte `json:"image" binding:"required"`
	MIMEType    string `json:"mimeType" binding:"required"`
}

// ResultPayload 回复结果，kind 为 ok 以外的值时 text 为固定文案
type ResultPayload struct {
	*engine.Result
	Kind string `json:"kind"`
}

// SuggestionsPayload 回复建议结果
type SuggestionsPayload struct {
	*engine.Suggestions
	Kind string `json:"kind"`
}

// Respond 生成回复
// @Summary 生成对话回复
// @Tags Assistant
// @Accept json
// @Produce json
// @Router /api/shops/{shopId}/conversations/{conversationId}/respond [post]
func (h *Handler) Respond(c *gin.Context) {
	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := h.engine.GenerateResponse(c.Request.Context(), engine.Request{
		ShopID:         c.Param("shopId"),
		ConversationID: c.Param("conversationId"),
		History:        req.History,
		Message:        req.Message,
		Language:       req.Language,
		Tone:           req.Tone,
		UserName:       req.UserName,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, statusFor(res.Kind), ResultPayload{Result: res, Kind: res.Kind.String()})
}

// Describe 生成商品描述
func (h *Handler) Describe(c *gin.Context) {
	var req DescribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := h.engine.GenerateProductDescription(c.Request.Context(), engine.DescriptionRequest{
		ShopID: c.Param("shopId"),
		Product: prompt.ProductBrief{
			Name:     req.Name,
			Category: req.Category,
			Price:    req.Price,
			Features: req.Features,
			Keywords: req.Keywords,
		},
		Language: req.Language,
		Tone:     req.Tone,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, statusFor(res.Kind), ResultPayload{Result: res, Kind: res.Kind.String()})
}

// Suggestions 生成候选回复
func (h *Handler) Suggestions(c *gin.Context) {
	var req SuggestionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := h.engine.SuggestReplies(c.Request.Context(), engine.SuggestionRequest{
		ShopID:         c.Param("shopId"),
		ConversationID: c.Param("conversationId"),
		History:        req.History,
		Count:          req.Count,
		Language:       req.Language,
		Tone:           req.Tone,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, statusFor(res.Kind), SuggestionsPayload{Suggestions: res, Kind: res.Kind.String()})
}

// ImagePayload 图片编辑结果
type ImagePayload struct {
	*engine.ImageResult
	Kind string `json:"kind"`
}

// EditImage 编辑商品图片
// @Router /api/shops/{shopId}/products/image-edit [post]
func (h *Handler) EditImage(c *gin.Context) {
	var req ImageEditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := h.engine.EditProductImage(c.Request.Context(), engine.ImageEditRequest{
		ShopID:      c.Param("shopId"),
		Instruction: req.Instruction,
		Image:       genai.Image{MIMEType: req.MIMEType, Data: req.Image},
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, statusFor(res.Kind), ImagePayload{ImageResult: res, Kind: res.Kind.String()})
}

// statusFor 软失败仍返回 200，熔断打开返回 503
func statusFor(kind engine.ErrorKind) int {
	if kind == engine.KindServiceUnavailable {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func (h *Handler) fail(c *gin.Context, err error) {
	var parseErr *engine.ParseError
	var configErr *engine.ConfigError
	switch {
	case errors.Is(err, engine.ErrInvalidRequest):
		common.Fail(c, http.StatusBadRequest, "invalid_request", "invalid request")
	case errors.Is(err, shop.ErrShopNotFound):
		common.Fail(c, http.StatusNotFound, "shop_not_found", "shop assistant is not configured")
	case errors.As(err, &parseErr):
		common.Fail(c, http.StatusBadGateway, engine.KindParse.String(), "model returned an unreadable response")
	case errors.As(err, &configErr):
		h.logger.Error("引擎配置错误", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, engine.KindConfiguration.String(), "assistant is misconfigured")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		common.Fail(c, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		h.logger.Error("生成回复失败", zap.String("path", c.FullPath()), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

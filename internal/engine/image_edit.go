package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"salesengine/internal/ledger"
	"salesengine/internal/logger"
	"salesengine/internal/prompt"
	"salesengine/pkg/genai"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// MaxImageBytes 单张待编辑图片上限
const MaxImageBytes = 7 << 20

var imageMIMETypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

// ImageEditRequest 商品图片编辑
type ImageEditRequest struct {
	ShopID      string
	Instruction string
	Image       genai.Image
}

// ImageResult 图片编辑结果，Image 为空时 Text 为说明或兜底文案
type ImageResult struct {
	Result
	Image *genai.Image `json:"image,omitempty"`
}

// EditProductImage 按店主指令编辑一张商品图片
// 固定使用图片模型，不参与成本降级
func (e *Engine) EditProductImage(ctx context.Context, req ImageEditRequest) (res *ImageResult, err error) {
	start := time.Now()
	ctx = logger.WithConversation(ctx, req.ShopID, "")
	ctx, span := tracer.Start(ctx, "engine.EditProductImage", trace.WithAttributes(
		attribute.String("shop_id", req.ShopID),
		attribute.Int("image_bytes", len(req.Image.Data)),
	))
	defer func() {
		var r *Result
		if res != nil {
			r = &res.Result
		}
		e.finish(span, string(ledger.OpImageEdit), start, r, err)
	}()

	switch {
	case strings.TrimSpace(req.Instruction) == "":
		return nil, fmt.Errorf("%w: 编辑指令不能为空", ErrInvalidRequest)
	case len(req.Image.Data) == 0:
		return nil, fmt.Errorf("%w: 图片不能为空", ErrInvalidRequest)
	case len(req.Image.Data) > MaxImageBytes:
		return nil, fmt.Errorf("%w: 图片超过 %d 字节", ErrInvalidRequest, MaxImageBytes)
	case !imageMIMETypes[req.Image.MIMEType]:
		return nil, fmt.Errorf("%w: 不支持的图片类型 %q", ErrInvalidRequest, req.Image.MIMEType)
	}

	if e.ai.ImageModel == "" {
		return nil, &ConfigError{Reason: "未配置图片模型"}
	}
	if !genai.SupportsImageOutput(e.provider) {
		return nil, &ConfigError{Reason: fmt.Sprintf("生成服务 %s 不支持图片输出", e.provider.Name())}
	}

	cfg, err := e.shops.GetShopConfig(ctx, req.ShopID)
	if err != nil {
		return nil, fmt.Errorf("读取店铺配置失败: %w", err)
	}

	out, base, err := e.singleCall(ctx, callSpec{
		shopID:     req.ShopID,
		op:         ledger.OpImageEdit,
		tier:       cfg.Profile.ModelTier,
		model:      e.ai.ImageModel,
		modalities: []genai.Modality{genai.ModalityText, genai.ModalityImage},
		system:     prompt.ImageEditInstruction(cfg.Profile),
		contents: []genai.Turn{{
			Role:   genai.RoleUser,
			Text:   req.Instruction,
			Images: []genai.Image{req.Image},
		}},
		metadata: map[string]any{
			"image_bytes": len(req.Image.Data),
			"mime_type":   req.Image.MIMEType,
		},
	})
	if err != nil {
		return nil, err
	}
	res = &ImageResult{Result: *base}
	if base.Kind != KindNone {
		return res, nil
	}

	if len(out.Images) == 0 {
		// 已计费但没有图片，按提供商故障处理
		logger.Scoped(ctx, e.logger).Warn("图片模型未返回图片",
			zap.String("model", base.Model),
			zap.Int("text_length", len(out.Text)),
		)
		res.Text = MessageImageFallback
		res.Kind = KindProviderFailure
		return res, nil
	}
	img := out.Images[0]
	res.Image = &img
	res.Text = out.TrimmedText()
	return res, nil
}

package prompt

import (
	"strings"

	"salesengine/internal/commerce"
	"salesengine/internal/shop"
	"salesengine/internal/strategy"
	"salesengine/internal/tools"
)

// LayerKind 指令层，按声明顺序拼接
type LayerKind int

const (
	LayerLocationQuery LayerKind = iota + 1
	LayerStrategy
	LayerCommerce
	LayerBase
	LayerLanguage
	LayerPersona
	LayerKnowledge
	LayerStyle
	LayerSafety // 始终最后，优先级高于人设
)

var layerNames = map[LayerKind]string{
	LayerLocationQuery: "location_query",
	LayerStrategy:      "strategy",
	LayerCommerce:      "commerce",
	LayerBase:          "base",
	LayerLanguage:      "language",
	LayerPersona:       "persona",
	LayerKnowledge:     "knowledge",
	LayerStyle:         "style",
	LayerSafety:        "safety",
}

func (k LayerKind) String() string {
	return layerNames[k]
}

// Layer 单层指令
type Layer struct {
	Kind    LayerKind
	Content string
}

// Input 组装指令所需的全部输入
type Input struct {
	Strategy             strategy.Strategy
	Mode                 commerce.Mode
	HasPhysicalLocations bool
	OrderFlowEnabled     bool
	BookingFlowEnabled   bool

	Profile        shop.Profile
	Permissions    shop.Permissions
	Knowledge      []shop.KnowledgeSection
	PaymentMethods []shop.PaymentMethod

	Language string // 覆盖店铺主语言
	Tone     string // 覆盖店铺语气
	UserName string
}

// InputFromConfig 由店铺配置快照填充输入
func InputFromConfig(cfg *shop.Config, s strategy.Strategy, mode commerce.Mode) Input {
	return Input{
		Strategy:             s,
		Mode:                 mode,
		HasPhysicalLocations: strategy.HasPhysicalLocations(cfg.Knowledge),
		OrderFlowEnabled:     cfg.OrderFlowEnabled,
		BookingFlowEnabled:   cfg.BookingFlowEnabled,
		Profile:              cfg.Profile,
		Permissions:          cfg.Permissions,
		Knowledge:            cfg.Knowledge,
		PaymentMethods:       cfg.PaymentMethods,
	}
}

// Composer 分层指令组装器，无状态，可并发使用
type Composer struct{}

// NewComposer 创建组装器
func NewComposer() *Composer {
	return &Composer{}
}

// Layers 按顺序返回所有生效的指令层
func (c *Composer) Layers(in Input) []Layer {
	builders := []struct {
		kind  LayerKind
		build func(Input) string
	}{
		{LayerLocationQuery, locationQueryLayer},
		{LayerStrategy, strategyLayer},
		{LayerCommerce, commerceLayer},
		{LayerBase, func(Input) string { return baseInstruction }},
		{LayerLanguage, languageLayer},
		{LayerPersona, personaLayer},
		{LayerKnowledge, knowledgeLayer},
		{LayerStyle, styleLayer},
		{LayerSafety, safetyLayer},
	}

	layers := make([]Layer, 0, len(builders))
	for _, b := range builders {
		content := strings.TrimSpace(b.build(in))
		if content == "" {
			continue
		}
		layers = append(layers, Layer{Kind: b.kind, Content: content})
	}
	return layers
}

// Compose 拼接为完整系统指令
func (c *Composer) Compose(in Input) string {
	layers := c.Layers(in)
	parts := make([]string, len(layers))
	for i, l := range layers {
		parts[i] = l.Content
	}
	return strings.Join(parts, "\n\n")
}

// locationQueryLayer 仅在门店列表实际输出时生效
func locationQueryLayer(in Input) string {
	if !in.HasPhysicalLocations || !in.Permissions.ShareLocations {
		return ""
	}
	if locationsBlock(in.Knowledge) == "" {
		return ""
	}
	return locationQueryDirective
}

func strategyLayer(in Input) string {
	switch in.Strategy {
	case strategy.Omnichannel:
		return omnichannelDirective
	case strategy.PhysicalOnly:
		return physicalOnlyDirective
	case strategy.InformationalOnly:
		return informationalDirective
	default:
		// 纯线上由下单指令覆盖
		return ""
	}
}

func commerceLayer(in Input) string {
	switch in.Mode {
	case commerce.ModeAutonomous:
		if !in.OrderFlowEnabled && !in.BookingFlowEnabled {
			return ""
		}
		return render(autonomousTmpl, map[string]any{
			"Order":       in.OrderFlowEnabled,
			"Booking":     in.BookingFlowEnabled,
			"OrderTool":   tools.NameCreateOrder,
			"BookingTool": tools.NameCreateBooking,
			"HasPayments": len(enabledPaymentMethods(in)) > 0,
		})
	case commerce.ModeAssisted, commerce.ModeQuotaExceeded:
		if !in.OrderFlowEnabled && !in.BookingFlowEnabled {
			return ""
		}
		return assistedInstruction
	default:
		return ""
	}
}

func languageLayer(in Input) string {
	primary := pickLanguage(in.Language, in.Profile)
	secondary := strings.TrimSpace(in.Profile.SecondaryLanguage)
	if secondary == "" {
		secondary = DefaultLanguage
	}
	return render(languageTmpl, map[string]any{
		"Primary":   primary,
		"Secondary": secondary,
		"Single":    strings.EqualFold(primary, secondary),
	})
}

func personaLayer(in Input) string {
	return in.Profile.Persona
}

func styleLayer(in Input) string {
	return render(styleTmpl, map[string]any{
		"Directive": toneDirective(pickTone(in.Tone, in.Profile)),
		"UserName":  strings.TrimSpace(in.UserName),
	})
}

func toneDirective(tone string) string {
	if directive, ok := toneDirectives[strings.ToLower(tone)]; ok {
		return directive
	}
	return "Use a " + tone + " tone."
}

func safetyLayer(in Input) string {
	refusal := strings.TrimSpace(in.Profile.RefusalText)
	if refusal == "" {
		refusal = DefaultRefusalText
	}
	return render(safetyTmpl, map[string]any{
		"Topics":  strings.Join(in.Profile.Topics(), ", "),
		"Refusal": refusal,
	})
}

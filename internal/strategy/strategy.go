package strategy

import "salesengine/internal/shop"

// Strategy 销售策略
type Strategy string

const (
	Omnichannel       Strategy = "omnichannel"        // 线上下单 + 实体门店
	OnlineOnly        Strategy = "online_only"        // 仅线上
	PhysicalOnly      Strategy = "physical_only"      // 仅实体门店
	InformationalOnly Strategy = "informational_only" // 仅咨询
)

// Resolve 根据店铺的下单/预约开关和门店信息确定销售策略
func Resolve(orderFlowEnabled, bookingFlowEnabled, hasPhysicalLocations bool) Strategy {
	online := orderFlowEnabled || bookingFlowEnabled
	switch {
	case online && hasPhysicalLocations:
		return Omnichannel
	case online:
		return OnlineOnly
	case hasPhysicalLocations:
		return PhysicalOnly
	default:
		return InformationalOnly
	}
}

// HasPhysicalLocations 任一知识分段为门店列表且至少包含一个门店
func HasPhysicalLocations(sections []shop.KnowledgeSection) bool {
	for _, s := range sections {
		if s.Kind == shop.SectionLocations && len(s.Locations()) > 0 {
			return true
		}
	}
	return false
}

// ForShop 便捷方法
func ForShop(cfg *shop.Config) Strategy {
	return Resolve(cfg.OrderFlowEnabled, cfg.BookingFlowEnabled, HasPhysicalLocations(cfg.Knowledge))
}

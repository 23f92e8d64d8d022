package tools

import (
	"context"

	"salesengine/internal/shop"
)

func fromOutcome(o shop.OrderOutcome) Result {
	return Result{Success: o.Success, OrderID: o.OrderID, Error: o.Error}
}

// NewCommerceRegistry 注册下单与预约工具
func NewCommerceRegistry(api shop.OrderAPI) (*Registry, error) {
	r := NewRegistry()

	order := HandlerFunc(func(ctx context.Context, scope Scope, args map[string]any) Result {
		return fromOutcome(api.CreateOrder(ctx, scope.ShopID, scope.ConversationID, args))
	})
	if err := r.Register(OrderDefinition, order); err != nil {
		return nil, err
	}

	booking := HandlerFunc(func(ctx context.Context, scope Scope, args map[string]any) Result {
		return fromOutcome(api.CreateBooking(ctx, scope.ShopID, scope.ConversationID, args))
	})
	if err := r.Register(BookingDefinition, booking); err != nil {
		return nil, err
	}
	return r, nil
}

// EnabledTools 按店铺开关返回可用工具
func EnabledTools(orderFlow, bookingFlow bool) []ToolID {
	var ids []ToolID
	if orderFlow {
		ids = append(ids, ToolCreateOrder)
	}
	if bookingFlow {
		ids = append(ids, ToolCreateBooking)
	}
	return ids
}

package tasks

import (
	"encoding/json"

	"salesengine/internal/budget"

	"github.com/hibiken/asynq"
)

// Task Types
const (
	TypeBudgetAlert     = "budget:alert"
	TypeRolloverDaily   = "budget:rollover_daily"
	TypeRolloverMonthly = "budget:rollover_monthly"
	TypeReconcile       = "budget:reconcile"
)

// 队列
const (
	QueueAlerts      = "alerts"
	QueueMaintenance = "maintenance"
)

// BudgetAlertPayload 预算告警任务载荷
type BudgetAlertPayload struct {
	Alert budget.Alert `json:"alert"`
}

// RolloverPayload 结转任务载荷，At 为空时使用处理时刻
type RolloverPayload struct {
	At int64 `json:"at,omitempty"`
}

// ReconcilePayload 对账任务载荷，ShopID 为空时对账所有店铺
type ReconcilePayload struct {
	ShopID string `json:"shop_id,omitempty"`
}

// NewBudgetAlertTask 构造告警任务
func NewBudgetAlertTask(alert budget.Alert) (*asynq.Task, error) {
	data, err := json.Marshal(BudgetAlertPayload{Alert: alert})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeBudgetAlert, data), nil
}

// NewReconcileTask 构造对账任务
func NewReconcileTask(shopID string) (*asynq.Task, error) {
	data, err := json.Marshal(ReconcilePayload{ShopID: shopID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeReconcile, data), nil
}

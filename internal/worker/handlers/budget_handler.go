package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"salesengine/internal/budget"
	"salesengine/internal/notification"
	"salesengine/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// BudgetMaintainer 预算服务抽象，便于注入 mock
type BudgetMaintainer interface {
	RolloverDaily(ctx context.Context, now time.Time) (int64, error)
	RolloverMonthly(ctx context.Context, now time.Time) (int64, error)
	Reconcile(ctx context.Context, source budget.SpendSource, shopID string, now time.Time) error
	ShopIDs(ctx context.Context) ([]string, error)
}

type BudgetHandler struct {
	budgets  BudgetMaintainer
	spend    budget.SpendSource
	notifier notification.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewBudgetHandler(budgets BudgetMaintainer, spend budget.SpendSource, notifier notification.Notifier, logger *zap.Logger) *BudgetHandler {
	return &BudgetHandler{
		budgets:  budgets,
		spend:    spend,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

func (h *BudgetHandler) HandleBudgetAlert(ctx context.Context, t *asynq.Task) error {
	var p tasks.BudgetAlertPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}
	if p.Alert.ShopID == "" {
		return fmt.Errorf("告警缺少 shop_id: %w", asynq.SkipRetry)
	}

	if err := h.notifier.Notify(ctx, p.Alert); err != nil {
		h.logger.Error("预算告警投递失败",
			zap.String("shop_id", p.Alert.ShopID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (h *BudgetHandler) HandleRolloverDaily(ctx context.Context, t *asynq.Task) error {
	now, err := h.rolloverTime(t)
	if err != nil {
		return err
	}
	rows, err := h.budgets.RolloverDaily(ctx, now)
	if err != nil {
		return err
	}
	h.logger.Info("日结转任务完成", zap.Int64("rows", rows))
	return nil
}

func (h *BudgetHandler) HandleRolloverMonthly(ctx context.Context, t *asynq.Task) error {
	now, err := h.rolloverTime(t)
	if err != nil {
		return err
	}
	rows, err := h.budgets.RolloverMonthly(ctx, now)
	if err != nil {
		return err
	}
	h.logger.Info("月结转任务完成", zap.Int64("rows", rows))
	return nil
}

func (h *BudgetHandler) HandleReconcile(ctx context.Context, t *asynq.Task) error {
	var p tasks.ReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("json unmarshal failed: %w", err)
		}
	}

	shopIDs := []string{p.ShopID}
	if p.ShopID == "" {
		ids, err := h.budgets.ShopIDs(ctx)
		if err != nil {
			return err
		}
		shopIDs = ids
	}

	now := h.now()
	var errs []error
	for _, id := range shopIDs {
		if err := h.budgets.Reconcile(ctx, h.spend, id, now); err != nil {
			h.logger.Error("店铺对账失败", zap.String("shop_id", id), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *BudgetHandler) rolloverTime(t *asynq.Task) (time.Time, error) {
	if len(t.Payload()) == 0 {
		return h.now(), nil
	}
	var p tasks.RolloverPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return time.Time{}, fmt.Errorf("json unmarshal failed: %w", err)
	}
	if p.At == 0 {
		return h.now(), nil
	}
	return time.Unix(p.At, 0).UTC(), nil
}

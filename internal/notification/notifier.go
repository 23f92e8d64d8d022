package notification

import (
	"context"
	"errors"
	"fmt"

	"salesengine/internal/budget"

	"go.uber.org/zap"
)

// 事件类型
const (
	EventBudgetAlert = "budget.alert"
)

// Notifier 预算告警通知器
type Notifier interface {
	Notify(ctx context.Context, alert budget.Alert) error
}

// MultiNotifier 依次投递到所有通道，单个通道失败不影响其他通道
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier 创建多通道通知器
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	m := &MultiNotifier{}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Notify 投递告警，返回所有通道的错误
func (m *MultiNotifier) Notify(ctx context.Context, alert budget.Alert) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier 只写日志
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier 创建日志通知器
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, alert budget.Alert) error {
	n.logger.Warn("店铺预算告警",
		zap.String("shop_id", alert.ShopID),
		zap.String("period", string(alert.Period)),
		zap.Float64("percent", alert.Percent),
		zap.Float64("spent", alert.Spent),
		zap.Float64("budget", alert.Budget),
		zap.Float64("threshold", alert.Threshold),
	)
	return nil
}

// Sink 同步投递的告警出口，未启用任务队列时使用
type Sink struct {
	notifier Notifier
}

// NewSink 创建同步告警出口
func NewSink(notifier Notifier) *Sink {
	return &Sink{notifier: notifier}
}

// EmitBudgetAlert 实现 budget.AlertSink
func (s *Sink) EmitBudgetAlert(ctx context.Context, alert budget.Alert) error {
	if err := s.notifier.Notify(ctx, alert); err != nil {
		return fmt.Errorf("投递预算告警失败: %w", err)
	}
	return nil
}

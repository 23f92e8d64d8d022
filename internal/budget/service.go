package budget

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"salesengine/internal/config"
	"salesengine/internal/logger"
	"salesengine/internal/metrics"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidSettings 预算设置不合法
var ErrInvalidSettings = errors.New("预算设置不合法")

// 拒绝原因（返回给调用方）
const (
	ReasonExceeded = "budget exceeded"
)

// AlertSink 告警投递
type AlertSink interface {
	EmitBudgetAlert(ctx context.Context, alert Alert) error
}

// SpendSource 账本汇总，用于对账
type SpendSource interface {
	SumCost(ctx context.Context, shopID string, from, to time.Time) (float64, error)
}

// Service 预算管控服务
type Service struct {
	db     *gorm.DB
	cfg    config.BudgetConfig
	rules  []*Rule
	alerts AlertSink
	logger *zap.Logger
	now    func() time.Time
}

// NewService 创建预算服务，alerts 可为 nil
func NewService(db *gorm.DB, cfg config.BudgetConfig, alerts AlertSink, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ruleCfgs := cfg.OptimizationRules
	if len(ruleCfgs) == 0 {
		ruleCfgs = config.DefaultOptimizationRules()
	}
	rules, err := CompileRules(ruleCfgs)
	if err != nil {
		return nil, err
	}
	return &Service{
		db:     db,
		cfg:    cfg,
		rules:  rules,
		alerts: alerts,
		logger: log,
		now:    time.Now,
	}, nil
}

// AutoMigrate 自动迁移表结构
func (s *Service) AutoMigrate() error {
	return s.db.AutoMigrate(&Budget{})
}

// EstimatedCost 单次请求的预估成本
func (s *Service) EstimatedCost() float64 {
	return s.cfg.EstimatedCost
}

func (s *Service) defaults(shopID string) Budget {
	now := s.now().UTC()
	return Budget{
		ShopID:                  shopID,
		DailyBudget:             s.cfg.DefaultDaily,
		MonthlyBudget:           s.cfg.DefaultMonthly,
		DailyResetDate:          now,
		MonthlyResetDate:        now,
		AlertThreshold:          s.cfg.DefaultAlertThreshold,
		AutoOptimizationEnabled: s.cfg.DefaultAutoOptimize,
		FallbackModel:           s.cfg.FallbackModel,
	}
}

// GetOrCreate 获取预算，不存在时以默认值创建
func (s *Service) GetOrCreate(ctx context.Context, shopID string) (*Budget, error) {
	return s.getOrCreate(s.db.WithContext(ctx), shopID)
}

// getOrCreate 并发的首次访问由 ON CONFLICT DO NOTHING 去重，再统一读取
func (s *Service) getOrCreate(db *gorm.DB, shopID string) (*Budget, error) {
	var b Budget
	err := db.Where("shop_id = ?", shopID).Limit(1).Find(&b).Error
	if err != nil {
		return nil, fmt.Errorf("获取店铺预算失败: %w", err)
	}
	if b.ShopID != "" {
		return &b, nil
	}

	row := s.defaults(shopID)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("创建店铺预算失败: %w", err)
	}
	if err := db.Where("shop_id = ?", shopID).First(&b).Error; err != nil {
		return nil, fmt.Errorf("获取店铺预算失败: %w", err)
	}
	return &b, nil
}

// CanAdmit 准入检查
// 单条条件 UPDATE 同时完成检查与预留，同一店铺的并发请求不会同时越过剩余额度
func (s *Service) CanAdmit(ctx context.Context, shopID string, estimatedCost float64) (Admission, error) {
	if _, err := s.GetOrCreate(ctx, shopID); err != nil {
		return Admission{}, err
	}

	res := s.db.WithContext(ctx).Model(&Budget{}).
		Where("shop_id = ? AND is_budget_exceeded = ?", shopID, false).
		Where("daily_spent + reserved_cost + ? <= daily_budget", estimatedCost).
		Where("monthly_spent + reserved_cost + ? <= monthly_budget", estimatedCost).
		UpdateColumn("reserved_cost", gorm.Expr("reserved_cost + ?", estimatedCost))
	if res.Error != nil {
		return Admission{}, fmt.Errorf("预算准入检查失败: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		metrics.BudgetDecisions.WithLabelValues("admission", "admitted").Inc()
		return Admission{Allowed: true, Reserved: estimatedCost}, nil
	}

	b, err := s.GetOrCreate(ctx, shopID)
	if err != nil {
		return Admission{}, err
	}
	reason := rejectReason(b, estimatedCost)
	metrics.BudgetDecisions.WithLabelValues("admission", "rejected").Inc()
	logger.Scoped(ctx, s.logger).Info("预算准入拒绝",
		zap.String("shop_id", shopID),
		zap.String("reason", reason),
		zap.Float64("daily_spent", b.DailySpent),
		zap.Float64("monthly_spent", b.MonthlySpent),
	)
	return Admission{Allowed: false, Reason: reason}, nil
}

func rejectReason(b *Budget, est float64) string {
	switch {
	case b.IsBudgetExceeded:
		return ReasonExceeded
	case b.DailySpent+b.ReservedCost+est > b.DailyBudget:
		return fmt.Sprintf("daily budget of $%.2f would be exceeded (spent $%.4f)", b.DailyBudget, b.DailySpent)
	case b.MonthlySpent+b.ReservedCost+est > b.MonthlyBudget:
		return fmt.Sprintf("monthly budget of $%.2f would be exceeded (spent $%.4f)", b.MonthlyBudget, b.MonthlySpent)
	default:
		// 条件 UPDATE 与重新读取之间其他请求释放了预留
		return "budget temporarily reserved by concurrent requests"
	}
}

// Release 释放准入预留
func (s *Service) Release(ctx context.Context, shopID string, reserved float64) error {
	if reserved <= 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&Budget{}).
		Where("shop_id = ?", shopID).
		UpdateColumn("reserved_cost", gorm.Expr("CASE WHEN reserved_cost > ? THEN reserved_cost - ? ELSE 0 END", reserved, reserved)).
		Error
	if err != nil {
		return fmt.Errorf("释放预算预留失败: %w", err)
	}
	return nil
}

// ApplySpend 在账本事务内累加花费并维护超支标记
func (s *Service) ApplySpend(tx *gorm.DB, shopID string, cost float64) error {
	if _, err := s.getOrCreate(tx, shopID); err != nil {
		return err
	}
	err := tx.Model(&Budget{}).
		Where("shop_id = ?", shopID).
		UpdateColumns(map[string]any{
			"daily_spent":   gorm.Expr("daily_spent + ?", cost),
			"monthly_spent": gorm.Expr("monthly_spent + ?", cost),
			"is_budget_exceeded": gorm.Expr(
				"CASE WHEN is_budget_exceeded = ? OR daily_spent + ? > daily_budget OR monthly_spent + ? > monthly_budget THEN ? ELSE ? END",
				true, cost, cost, true, false,
			),
		}).Error
	if err != nil {
		return fmt.Errorf("累加预算花费失败: %w", err)
	}
	return nil
}

// CheckAlerts 越过告警阈值时发出告警，每个周期只发一次
func (s *Service) CheckAlerts(ctx context.Context, shopID string) error {
	b, err := s.GetOrCreate(ctx, shopID)
	if err != nil {
		return err
	}

	checks := []struct {
		period  Period
		column  string
		sent    bool
		percent float64
		spent   float64
		budget  float64
	}{
		{PeriodDaily, "daily_alert_sent", b.DailyAlertSent, b.DailyPercent(), b.DailySpent, b.DailyBudget},
		{PeriodMonthly, "monthly_alert_sent", b.MonthlyAlertSent, b.MonthlyPercent(), b.MonthlySpent, b.MonthlyBudget},
	}

	for _, c := range checks {
		if c.sent || c.percent < b.AlertThreshold {
			continue
		}

		// 条件更新抢占发送权
		res := s.db.WithContext(ctx).Model(&Budget{}).
			Where("shop_id = ? AND "+c.column+" = ?", shopID, false).
			UpdateColumn(c.column, true)
		if res.Error != nil {
			return fmt.Errorf("更新告警标记失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}

		alert := Alert{
			ShopID:    shopID,
			Period:    c.period,
			Percent:   c.percent,
			Spent:     c.spent,
			Budget:    c.budget,
			Threshold: b.AlertThreshold,
			At:        s.now().UTC(),
		}
		metrics.BudgetAlerts.WithLabelValues(string(c.period)).Inc()
		logger.Scoped(ctx, s.logger).Warn("预算告警",
			zap.String("shop_id", shopID),
			zap.String("period", string(c.period)),
			zap.Float64("percent", c.percent),
		)
		if s.alerts != nil {
			if err := s.alerts.EmitBudgetAlert(ctx, alert); err != nil {
				s.logger.Error("投递预算告警失败", zap.String("shop_id", shopID), zap.Error(err))
			}
		}
	}
	return nil
}

// Optimize 成本优化，按规则顺序匹配第一条
func (s *Service) Optimize(ctx context.Context, shopID, currentModel string, historyLength int) (Optimization, error) {
	b, err := s.GetOrCreate(ctx, shopID)
	if err != nil {
		return Optimization{}, err
	}

	opt := Optimization{Model: currentModel, PercentUsed: b.PercentUsed()}
	if !b.AutoOptimizationEnabled {
		return opt, nil
	}

	params := map[string]interface{}{
		"percent_used":    opt.PercentUsed,
		"daily_percent":   b.DailyPercent(),
		"monthly_percent": b.MonthlyPercent(),
		"history_length":  float64(historyLength),
	}

	for _, rule := range s.rules {
		matched, err := rule.Matches(params)
		if err != nil {
			return opt, err
		}
		if !matched {
			continue
		}

		opt.Rule = rule.Name
		opt.Block = rule.Block
		if rule.SwitchModel {
			fallback := b.FallbackModel
			if fallback == "" {
				fallback = s.cfg.FallbackModel
			}
			if fallback != "" && fallback != currentModel {
				opt.Model = fallback
				opt.ModelSwitched = true
			}
		}
		if rule.MaxHistory > 0 && historyLength > rule.MaxHistory {
			opt.HistoryLimit = rule.MaxHistory
		}
		break
	}

	result := "unchanged"
	if opt.Rule != "" {
		result = opt.Rule
	}
	metrics.BudgetDecisions.WithLabelValues("optimization", result).Inc()
	return opt, nil
}

// GetStatus 预算状态
func (s *Service) GetStatus(ctx context.Context, shopID string) (*Status, error) {
	b, err := s.GetOrCreate(ctx, shopID)
	if err != nil {
		return nil, err
	}

	dailyRemaining := math.Max(0, b.DailyBudget-b.DailySpent)
	monthlyRemaining := math.Max(0, b.MonthlyBudget-b.MonthlySpent)

	remainingRequests := 0
	if est := s.cfg.EstimatedCost; est > 0 && !b.IsBudgetExceeded {
		remainingRequests = int(math.Floor(math.Min(dailyRemaining, monthlyRemaining) / est))
	}

	return &Status{
		ShopID:                     b.ShopID,
		DailyBudget:                b.DailyBudget,
		MonthlyBudget:              b.MonthlyBudget,
		DailySpent:                 b.DailySpent,
		MonthlySpent:               b.MonthlySpent,
		DailyRemaining:             dailyRemaining,
		MonthlyRemaining:           monthlyRemaining,
		DailyPercent:               b.DailyPercent(),
		MonthlyPercent:             b.MonthlyPercent(),
		PercentUsed:                b.PercentUsed(),
		IsBudgetExceeded:           b.IsBudgetExceeded,
		AlertThreshold:             b.AlertThreshold,
		AutoOptimizationEnabled:    b.AutoOptimizationEnabled,
		FallbackModel:              b.FallbackModel,
		EstimatedCostPerRequest:    s.cfg.EstimatedCost,
		EstimatedRemainingRequests: remainingRequests,
		DailyResetDate:             b.DailyResetDate,
		MonthlyResetDate:           b.MonthlyResetDate,
	}, nil
}

// UpdateSettings 更新预算设置
// 超支标记保持不变，由结转清除
func (s *Service) UpdateSettings(ctx context.Context, shopID string, patch SettingsPatch) (*Budget, error) {
	updates := make(map[string]any)
	if patch.DailyBudget != nil {
		if *patch.DailyBudget < 0 {
			return nil, fmt.Errorf("%w: 日预算不能为负", ErrInvalidSettings)
		}
		updates["daily_budget"] = *patch.DailyBudget
	}
	if patch.MonthlyBudget != nil {
		if *patch.MonthlyBudget < 0 {
			return nil, fmt.Errorf("%w: 月预算不能为负", ErrInvalidSettings)
		}
		updates["monthly_budget"] = *patch.MonthlyBudget
	}
	if patch.AlertThreshold != nil {
		if *patch.AlertThreshold <= 0 || *patch.AlertThreshold > 100 {
			return nil, fmt.Errorf("%w: 告警阈值需在 (0, 100] 之间", ErrInvalidSettings)
		}
		updates["alert_threshold"] = *patch.AlertThreshold
	}
	if patch.AutoOptimizationEnabled != nil {
		updates["auto_optimization_enabled"] = *patch.AutoOptimizationEnabled
	}
	if patch.FallbackModel != nil {
		updates["fallback_model"] = *patch.FallbackModel
	}

	if _, err := s.GetOrCreate(ctx, shopID); err != nil {
		return nil, err
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&Budget{}).Where("shop_id = ?", shopID).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("更新预算设置失败: %w", err)
		}
	}
	return s.GetOrCreate(ctx, shopID)
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// RolloverDaily 日结转，只处理重置日期早于今天的记录，可重复执行
func (s *Service) RolloverDaily(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&Budget{}).
		Where("daily_reset_date < ?", dayStart(now)).
		UpdateColumns(map[string]any{
			"daily_spent":        0,
			"daily_alert_sent":   false,
			"reserved_cost":      0,
			"daily_reset_date":   now.UTC(),
			"is_budget_exceeded": gorm.Expr("CASE WHEN monthly_spent > monthly_budget THEN ? ELSE ? END", true, false),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("日预算结转失败: %w", res.Error)
	}
	s.logger.Info("日预算结转完成", zap.Int64("rows", res.RowsAffected))
	return res.RowsAffected, nil
}

// RolloverMonthly 月结转
func (s *Service) RolloverMonthly(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&Budget{}).
		Where("monthly_reset_date < ?", monthStart(now)).
		UpdateColumns(map[string]any{
			"monthly_spent":      0,
			"monthly_alert_sent": false,
			"monthly_reset_date": now.UTC(),
			"is_budget_exceeded": gorm.Expr("CASE WHEN daily_spent > daily_budget THEN ? ELSE ? END", true, false),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("月预算结转失败: %w", res.Error)
	}
	s.logger.Info("月预算结转完成", zap.Int64("rows", res.RowsAffected))
	return res.RowsAffected, nil
}

// Reconcile 按账本汇总重算当前日/月花费
// 只在管理员清理账本后调用，超额标记随重算结果更新，这是结转之外唯一会清除它的路径
func (s *Service) Reconcile(ctx context.Context, source SpendSource, shopID string, now time.Time) error {
	end := now.UTC().Add(time.Second)
	daily, err := source.SumCost(ctx, shopID, dayStart(now), end)
	if err != nil {
		return fmt.Errorf("汇总日花费失败: %w", err)
	}
	monthly, err := source.SumCost(ctx, shopID, monthStart(now), end)
	if err != nil {
		return fmt.Errorf("汇总月花费失败: %w", err)
	}

	b, err := s.GetOrCreate(ctx, shopID)
	if err != nil {
		return err
	}
	exceeded := daily > b.DailyBudget || monthly > b.MonthlyBudget

	err = s.db.WithContext(ctx).Model(&Budget{}).
		Where("shop_id = ?", shopID).
		UpdateColumns(map[string]any{
			"daily_spent":        daily,
			"monthly_spent":      monthly,
			"is_budget_exceeded": exceeded,
		}).Error
	if err != nil {
		return fmt.Errorf("对账更新预算失败: %w", err)
	}
	s.logger.Info("预算对账完成",
		zap.String("shop_id", shopID),
		zap.Float64("daily_spent", daily),
		zap.Float64("monthly_spent", monthly),
	)
	return nil
}

// ShopIDs 所有已有预算的店铺
func (s *Service) ShopIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&Budget{}).Pluck("shop_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("查询店铺预算失败: %w", err)
	}
	return ids, nil
}

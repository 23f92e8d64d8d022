package commerce

import (
	"context"
	"fmt"
	"time"

	"salesengine/internal/metrics"
	"salesengine/internal/shop"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Mode 下单指令模式
type Mode string

const (
	ModeAutonomous    Mode = "autonomous"     // 助手可直接创建订单/预约
	ModeAssisted      Mode = "assisted"       // 仅收集信息，转人工
	ModeQuotaExceeded Mode = "quota_exceeded" // 本月额度已用完，直接返回升级提示
)

// Entitlement 套餐下单权益
type Entitlement struct {
	Enabled bool
	Limit   *int // nil 表示不限量
	PlanID  string
}

// EntitlementFrom 由店铺配置构造权益
func EntitlementFrom(s shop.CommerceSettings) Entitlement {
	return Entitlement{Enabled: s.Enabled, Limit: s.MonthlyLimit, PlanID: s.PlanID}
}

// Usage 自主下单用量
type Usage struct {
	ShopID         string    `json:"shopId" gorm:"primaryKey;size:64"`
	Count          int       `json:"count" gorm:"not null;default:0"`
	CycleResetDate time.Time `json:"cycleResetDate" gorm:"not null"`
	UpdatedAt      time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (Usage) TableName() string {
	return "commerce_usages"
}

// Decision 决策结果
type Decision struct {
	Mode           Mode
	EffectiveCount int
	Limit          *int
}

// ToolsAllowed 仅自主模式下向模型暴露工具
func (d Decision) ToolsAllowed() bool {
	return d.Mode == ModeAutonomous
}

// EffectiveCount 本周期内的有效计数
// 周期在读取时判定：重置日期不在当前年月则视为 0，不写库
func EffectiveCount(u *Usage, now time.Time) int {
	if u == nil {
		return 0
	}
	reset := u.CycleResetDate.UTC()
	now = now.UTC()
	if reset.Year() != now.Year() || reset.Month() != now.Month() {
		return 0
	}
	return u.Count
}

func monthStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Gate 下单用量闸门
type Gate struct {
	db           *gorm.DB
	assistedOnly map[string]struct{}
	logger       *zap.Logger
}

// NewGate 创建闸门，assistedOnlyPlans 中的套餐强制协助模式
func NewGate(db *gorm.DB, assistedOnlyPlans []string, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	deny := make(map[string]struct{}, len(assistedOnlyPlans))
	for _, p := range assistedOnlyPlans {
		deny[p] = struct{}{}
	}
	return &Gate{db: db, assistedOnly: deny, logger: logger}
}

// AutoMigrate 自动迁移表结构
func (g *Gate) AutoMigrate() error {
	return g.db.AutoMigrate(&Usage{})
}

// Decide 纯函数判定
func (g *Gate) Decide(ent Entitlement, usage *Usage, now time.Time) Decision {
	if _, denied := g.assistedOnly[ent.PlanID]; denied && ent.PlanID != "" {
		return Decision{Mode: ModeAssisted, Limit: ent.Limit}
	}
	if !ent.Enabled {
		return Decision{Mode: ModeAssisted, Limit: ent.Limit}
	}
	if ent.Limit == nil {
		return Decision{Mode: ModeAutonomous}
	}

	count := EffectiveCount(usage, now)
	if count >= *ent.Limit {
		return Decision{Mode: ModeQuotaExceeded, EffectiveCount: count, Limit: ent.Limit}
	}
	return Decision{Mode: ModeAutonomous, EffectiveCount: count, Limit: ent.Limit}
}

// Evaluate 读取用量并判定
func (g *Gate) Evaluate(ctx context.Context, shopID string, ent Entitlement, now time.Time) (Decision, error) {
	var usage *Usage
	if ent.Enabled && ent.Limit != nil {
		u, err := g.GetUsage(ctx, shopID, now)
		if err != nil {
			return Decision{}, err
		}
		usage = u
	}

	d := g.Decide(ent, usage, now)
	metrics.CommerceDecisions.WithLabelValues(string(d.Mode)).Inc()
	if d.Mode == ModeQuotaExceeded {
		g.logger.Info("自主下单额度已用完",
			zap.String("shop_id", shopID),
			zap.Int("count", d.EffectiveCount),
			zap.Int("limit", *d.Limit),
		)
	}
	return d, nil
}

// GetUsage 获取用量，不存在时以默认值创建
func (g *Gate) GetUsage(ctx context.Context, shopID string, now time.Time) (*Usage, error) {
	return g.ensureUsage(g.db.WithContext(ctx), shopID, now)
}

// ensureUsage 懒创建用量行，并发的首次访问由 ON CONFLICT DO NOTHING 去重
func (g *Gate) ensureUsage(db *gorm.DB, shopID string, now time.Time) (*Usage, error) {
	var u Usage
	if err := db.Where("shop_id = ?", shopID).Limit(1).Find(&u).Error; err != nil {
		return nil, fmt.Errorf("获取下单用量失败: %w", err)
	}
	if u.ShopID != "" {
		return &u, nil
	}

	row := Usage{ShopID: shopID, CycleResetDate: now.UTC()}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("创建下单用量失败: %w", err)
	}
	if err := db.Where("shop_id = ?", shopID).First(&u).Error; err != nil {
		return nil, fmt.Errorf("获取下单用量失败: %w", err)
	}
	return &u, nil
}

// ReserveSlot 执行下单工具前占用一个名额
// 单条条件 UPDATE 同时完成额度判定与计数，跨周期时从 1 重新计数；limit 为 nil 时只计数
func (g *Gate) ReserveSlot(ctx context.Context, shopID string, limit *int, now time.Time) (bool, error) {
	db := g.db.WithContext(ctx)
	if _, err := g.ensureUsage(db, shopID, now); err != nil {
		return false, err
	}

	start := monthStart(now)
	now = now.UTC()
	q := db.Model(&Usage{}).Where("shop_id = ?", shopID)
	if limit != nil {
		q = q.Where("((cycle_reset_date < ? AND ? > 0) OR count < ?)", start, *limit, *limit)
	}
	res := q.Updates(map[string]any{
		"count":            gorm.Expr("CASE WHEN cycle_reset_date >= ? THEN count + 1 ELSE 1 END", start),
		"cycle_reset_date": gorm.Expr("CASE WHEN cycle_reset_date >= ? THEN cycle_reset_date ELSE ? END", start, now),
	})
	if res.Error != nil {
		return false, fmt.Errorf("占用下单名额失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		metrics.CommerceDecisions.WithLabelValues("slot_rejected").Inc()
		return false, nil
	}
	return true, nil
}

// ReleaseSlot 未产生订单时归还名额，跨周期后的旧名额不再归还
func (g *Gate) ReleaseSlot(ctx context.Context, shopID string, now time.Time) error {
	err := g.db.WithContext(ctx).Model(&Usage{}).
		Where("shop_id = ? AND count > 0 AND cycle_reset_date >= ?", shopID, monthStart(now)).
		UpdateColumn("count", gorm.Expr("count - 1")).Error
	if err != nil {
		return fmt.Errorf("归还下单名额失败: %w", err)
	}
	return nil
}

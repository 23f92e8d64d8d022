package shop

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrShopNotFound 店铺未配置 AI 助手
var ErrShopNotFound = errors.New("店铺 AI 配置不存在")

// CommerceSettings 下单权益
type CommerceSettings struct {
	Enabled      bool   `json:"enabled"`
	MonthlyLimit *int   `json:"monthlyLimit,omitempty"`
	PlanID       string `json:"planId"`
}

// Permissions 数据共享开关
type Permissions struct {
	ShareKnowledge      bool `json:"shareKnowledge"`
	ShareLocations      bool `json:"shareLocations"`
	ShareCatalog        bool `json:"shareCatalog"`
	SharePaymentMethods bool `json:"sharePaymentMethods"`
}

// Config 一次对话所需的店铺配置快照
type Config struct {
	ShopID             string             `json:"shopId"`
	Profile            Profile            `json:"profile"`
	Commerce           CommerceSettings   `json:"commerce"`
	OrderFlowEnabled   bool               `json:"orderFlowEnabled"`
	BookingFlowEnabled bool               `json:"bookingFlowEnabled"`
	Permissions        Permissions        `json:"permissions"`
	Knowledge          []KnowledgeSection `json:"knowledge"`
	PaymentMethods     []PaymentMethod    `json:"paymentMethods"`
}

// NewConfig 由配置行组装快照
func NewConfig(p Profile, knowledge []KnowledgeSection, methods []PaymentMethod) *Config {
	return &Config{
		ShopID:  p.ShopID,
		Profile: p,
		Commerce: CommerceSettings{
			Enabled:      p.CommerceEnabled,
			MonthlyLimit: p.CommerceMonthlyLimit,
			PlanID:       p.PlanID,
		},
		OrderFlowEnabled:   p.OrderFlowEnabled,
		BookingFlowEnabled: p.BookingFlowEnabled,
		Permissions: Permissions{
			ShareKnowledge:      p.ShareKnowledge,
			ShareLocations:      p.ShareLocations,
			ShareCatalog:        p.ShareCatalog,
			SharePaymentMethods: p.SharePaymentMethods,
		},
		Knowledge:      knowledge,
		PaymentMethods: methods,
	}
}

// ConfigReader 店铺配置读取
type ConfigReader interface {
	GetShopConfig(ctx context.Context, shopID string) (*Config, error)
}

// Repository 基于 GORM 的配置读取
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建仓储
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// AutoMigrate 自动迁移表结构
func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(AllModels()...)
}

// GetShopConfig 读取店铺配置、知识分段与收款方式
func (r *Repository) GetShopConfig(ctx context.Context, shopID string) (*Config, error) {
	var profile Profile
	if err := r.db.WithContext(ctx).Where("shop_id = ?", shopID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrShopNotFound
		}
		return nil, fmt.Errorf("查询店铺配置失败: %w", err)
	}

	var sections []KnowledgeSection
	if err := r.db.WithContext(ctx).
		Where("shop_id = ?", shopID).
		Order("position ASC, created_at ASC").
		Find(&sections).Error; err != nil {
		return nil, fmt.Errorf("查询知识分段失败: %w", err)
	}

	var methods []PaymentMethod
	if err := r.db.WithContext(ctx).
		Where("shop_id = ?", shopID).
		Order("position ASC, created_at ASC").
		Find(&methods).Error; err != nil {
		return nil, fmt.Errorf("查询收款方式失败: %w", err)
	}

	return NewConfig(profile, sections, methods), nil
}

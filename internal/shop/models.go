package shop

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// SectionKind 知识分段类型
type SectionKind string

const (
	SectionText      SectionKind = "text"      // 自由文本
	SectionLocations SectionKind = "locations" // 门店列表
	SectionCatalog   SectionKind = "catalog"   // 商品/服务目录摘要
)

// Profile 店铺 AI 助手配置
// 由控制台写入，对话引擎只读
type Profile struct {
	ShopID               string         `json:"shopId" gorm:"primaryKey;size:64"`
	ShopName             string         `json:"shopName" gorm:"size:200"`
	Persona              string         `json:"persona" gorm:"type:text"`
	PrimaryLanguage      string         `json:"primaryLanguage" gorm:"size:50;default:English"`
	SecondaryLanguage    string         `json:"secondaryLanguage" gorm:"size:50"`
	Tone                 string         `json:"tone" gorm:"size:50"`
	ResponseDelaySeconds int            `json:"responseDelaySeconds" gorm:"default:0"`
	ModelTier            string         `json:"modelTier" gorm:"size:50"`
	ForbiddenTopics      datatypes.JSON `json:"forbiddenTopics" gorm:"type:json"`
	RefusalText          string         `json:"refusalText" gorm:"type:text"`

	// 下单能力
	PlanID               string `json:"planId" gorm:"size:64"`
	CommerceEnabled      bool   `json:"commerceEnabled" gorm:"default:false"`
	CommerceMonthlyLimit *int   `json:"commerceMonthlyLimit"` // nil 表示不限量
	OrderFlowEnabled     bool   `json:"orderFlowEnabled" gorm:"default:false"`
	BookingFlowEnabled   bool   `json:"bookingFlowEnabled" gorm:"default:false"`

	// 数据共享开关
	ShareKnowledge      bool `json:"shareKnowledge"`
	ShareLocations      bool `json:"shareLocations"`
	ShareCatalog        bool `json:"shareCatalog"`
	SharePaymentMethods bool `json:"sharePaymentMethods"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (Profile) TableName() string {
	return "shop_ai_profiles"
}

// Topics 禁止话题列表
func (p *Profile) Topics() []string {
	if len(p.ForbiddenTopics) == 0 {
		return nil
	}
	var topics []string
	if err := json.Unmarshal(p.ForbiddenTopics, &topics); err != nil {
		return nil
	}
	return topics
}

// KnowledgeSection 知识分段
type KnowledgeSection struct {
	ID        string         `json:"id" gorm:"primaryKey;size:36"`
	ShopID    string         `json:"shopId" gorm:"size:64;not null;index"`
	Title     string         `json:"title" gorm:"size:200"`
	Kind      SectionKind    `json:"kind" gorm:"size:20;not null;default:text"`
	Content   string         `json:"content" gorm:"type:text"`
	Entries   datatypes.JSON `json:"entries" gorm:"type:json"` // 门店列表
	Enabled   bool           `json:"enabled"`
	Position  int            `json:"position" gorm:"default:0"`
	CreatedAt time.Time      `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (KnowledgeSection) TableName() string {
	return "shop_knowledge_sections"
}

// Location 门店
type Location struct {
	Name    string `json:"name"`
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
	Address string `json:"address,omitempty"`
	Hours   string `json:"hours,omitempty"`
	Phone   string `json:"phone,omitempty"`
	MapURL  string `json:"mapUrl,omitempty"`
}

// Locations 解析门店列表，非门店分段或格式错误时返回 nil
func (s *KnowledgeSection) Locations() []Location {
	if s.Kind != SectionLocations || len(s.Entries) == 0 {
		return nil
	}
	var locs []Location
	if err := json.Unmarshal(s.Entries, &locs); err != nil {
		return nil
	}
	return locs
}

// PaymentMethod 收款方式
type PaymentMethod struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	ShopID       string    `json:"shopId" gorm:"size:64;not null;index"`
	Name         string    `json:"name" gorm:"size:100;not null"`
	Instructions string    `json:"instructions" gorm:"type:text"`
	Enabled      bool      `json:"enabled"`
	Position     int       `json:"position" gorm:"default:0"`
	CreatedAt    time.Time `json:"createdAt" gorm:"autoCreateTime"`
}

func (PaymentMethod) TableName() string {
	return "shop_payment_methods"
}

// AllModels 需要迁移的表
func AllModels() []any {
	return []any{&Profile{}, &KnowledgeSection{}, &PaymentMethod{}}
}

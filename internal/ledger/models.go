package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// OperationType 调用类型
type OperationType string

const (
	OpChat               OperationType = "chat"                // 对话第一阶段
	OpChatToolFollowup   OperationType = "chat_tool_followup"  // 工具结果回填后的第二阶段
	OpProductDescription OperationType = "product_description" // 商品描述生成
	OpReplySuggestions   OperationType = "reply_suggestions"   // 回复建议
	OpImageEdit          OperationType = "image_edit"          // 商品图片编辑
)

// Entry 用量账本记录，写入后不可修改
type Entry struct {
	ID             string            `json:"id" gorm:"primaryKey;size:36"`
	ShopID         string            `json:"shopId" gorm:"size:64;not null;index:idx_ledger_shop_time,priority:1"`
	ConversationID *string           `json:"conversationId,omitempty" gorm:"size:64;index"`
	OperationType  OperationType     `json:"operationType" gorm:"size:50;not null"`
	ModelName      string            `json:"modelName" gorm:"size:100;not null"`
	InputTokens    int               `json:"inputTokens" gorm:"not null;default:0"`
	OutputTokens   int               `json:"outputTokens" gorm:"not null;default:0"`
	Cost           decimal.Decimal   `json:"cost" gorm:"type:decimal(14,8);not null"`
	Timestamp      time.Time         `json:"timestamp" gorm:"column:recorded_at;not null;index:idx_ledger_shop_time,priority:2"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:json"`
}

func (Entry) TableName() string {
	return "usage_ledger_entries"
}

// Summary 汇总
type Summary struct {
	ShopID       string                     `json:"shopId"`
	From         time.Time                  `json:"from"`
	To           time.Time                  `json:"to"`
	Calls        int64                      `json:"calls"`
	InputTokens  int64                      `json:"inputTokens"`
	OutputTokens int64                      `json:"outputTokens"`
	Cost         float64                    `json:"cost"`
	ByOperation  map[OperationType]OpTotals `json:"byOperation"`
}

// OpTotals 按调用类型的汇总
type OpTotals struct {
	Calls        int64   `json:"calls"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	Cost         float64 `json:"cost"`
}

// Query 导出条件
type Query struct {
	ShopID string
	From   *time.Time
	To     *time.Time
	Limit  int
}

package budget

import (
	"math"
	"time"
)

// Budget 店铺预算
// 已花费只增不减，仅由定时结转清零；超支标记同样只由结转清除
type Budget struct {
	ShopID                  string    `json:"shopId" gorm:"primaryKey;size:64"`
	DailyBudget             float64   `json:"dailyBudget" gorm:"type:decimal(12,6);not null"`
	MonthlyBudget           float64   `json:"monthlyBudget" gorm:"type:decimal(12,6);not null"`
	DailySpent              float64   `json:"dailySpent" gorm:"type:decimal(12,6);not null;default:0"`
	MonthlySpent            float64   `json:"monthlySpent" gorm:"type:decimal(12,6);not null;default:0"`
	ReservedCost            float64   `json:"reservedCost" gorm:"type:decimal(12,6);not null;default:0"` // 进行中请求的预留
	DailyResetDate          time.Time `json:"dailyResetDate" gorm:"not null"`
	MonthlyResetDate        time.Time `json:"monthlyResetDate" gorm:"not null"`
	AlertThreshold          float64   `json:"alertThreshold" gorm:"not null"` // 百分比
	AutoOptimizationEnabled bool      `json:"autoOptimizationEnabled"`
	FallbackModel           string    `json:"fallbackModel" gorm:"size:100"`
	IsBudgetExceeded        bool      `json:"isBudgetExceeded"`
	DailyAlertSent          bool      `json:"dailyAlertSent"`
	MonthlyAlertSent        bool      `json:"monthlyAlertSent"`
	CreatedAt               time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt               time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (Budget) TableName() string {
	return "shop_budgets"
}

// DailyPercent 日预算使用百分比
func (b *Budget) DailyPercent() float64 {
	return percent(b.DailySpent, b.DailyBudget)
}

// MonthlyPercent 月预算使用百分比
func (b *Budget) MonthlyPercent() float64 {
	return percent(b.MonthlySpent, b.MonthlyBudget)
}

// PercentUsed 取日/月较大者
func (b *Budget) PercentUsed() float64 {
	return math.Max(b.DailyPercent(), b.MonthlyPercent())
}

// 预算为 0 时：有花费视为 100%，否则 0%
func percent(spent, budget float64) float64 {
	if budget <= 0 {
		if spent > 0 {
			return 100
		}
		return 0
	}
	return spent / budget * 100
}

// Period 预算周期
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

// Alert 预算告警事件
type Alert struct {
	ShopID    string    `json:"shopId"`
	Period    Period    `json:"period"`
	Percent   float64   `json:"percent"`
	Spent     float64   `json:"spent"`
	Budget    float64   `json:"budget"`
	Threshold float64   `json:"threshold"`
	At        time.Time `json:"at"`
}

// Status 预算状态
type Status struct {
	ShopID                     string    `json:"shopId"`
	DailyBudget                float64   `json:"dailyBudget"`
	MonthlyBudget              float64   `json:"monthlyBudget"`
	DailySpent                 float64   `json:"dailySpent"`
	MonthlySpent               float64   `json:"monthlySpent"`
	DailyRemaining             float64   `json:"dailyRemaining"`
	MonthlyRemaining           float64   `json:"monthlyRemaining"`
	DailyPercent               float64   `json:"dailyPercent"`
	MonthlyPercent             float64   `json:"monthlyPercent"`
	PercentUsed                float64   `json:"percentUsed"`
	IsBudgetExceeded           bool      `json:"isBudgetExceeded"`
	AlertThreshold             float64   `json:"alertThreshold"`
	AutoOptimizationEnabled    bool      `json:"autoOptimizationEnabled"`
	FallbackModel              string    `json:"fallbackModel"`
	EstimatedCostPerRequest    float64   `json:"estimatedCostPerRequest"`
	EstimatedRemainingRequests int       `json:"estimatedRemainingRequests"`
	DailyResetDate             time.Time `json:"dailyResetDate"`
	MonthlyResetDate           time.Time `json:"monthlyResetDate"`
}

// SettingsPatch 预算设置更新，nil 字段保持不变
type SettingsPatch struct {
	DailyBudget             *float64 `json:"dailyBudget"`
	MonthlyBudget           *float64 `json:"monthlyBudget"`
	AlertThreshold          *float64 `json:"alertThreshold"`
	AutoOptimizationEnabled *bool    `json:"autoOptimizationEnabled"`
	FallbackModel           *string  `json:"fallbackModel"`
}

// Admission 准入结果
type Admission struct {
	Allowed  bool    `json:"allowed"`
	Reason   string  `json:"reason,omitempty"`
	Reserved float64 `json:"-"` // 准入时预留的金额，请求结束后释放
}

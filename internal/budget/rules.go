package budget

import (
	"fmt"

	"salesengine/internal/config"

	"github.com/Knetic/govaluate"
)

// Rule 编译后的优化规则
type Rule struct {
	Name        string
	Block       bool
	SwitchModel bool
	MaxHistory  int
	expr        *govaluate.EvaluableExpression
}

// CompileRules 编译规则表达式
// 可用变量: percent_used, daily_percent, monthly_percent, history_length
func CompileRules(cfgs []config.OptimizationRuleConfig) ([]*Rule, error) {
	rules := make([]*Rule, 0, len(cfgs))
	for _, c := range cfgs {
		expr, err := govaluate.NewEvaluableExpression(c.Condition)
		if err != nil {
			return nil, fmt.Errorf("解析优化规则 %s 失败: %w", c.Name, err)
		}
		rules = append(rules, &Rule{
			Name:        c.Name,
			Block:       c.Block,
			SwitchModel: c.SwitchModel,
			MaxHistory:  c.MaxHistory,
			expr:        expr,
		})
	}
	return rules, nil
}

// Matches 评估规则
func (r *Rule) Matches(params map[string]interface{}) (bool, error) {
	result, err := r.expr.Evaluate(params)
	if err != nil {
		return false, fmt.Errorf("评估优化规则 %s 失败: %w", r.Name, err)
	}
	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("优化规则 %s 结果不是布尔值: %v", r.Name, result)
	}
	return matched, nil
}

// Optimization 优化决策
type Optimization struct {
	Model         string  `json:"model"`
	ModelSwitched bool    `json:"modelSwitched"`
	HistoryLimit  int     `json:"historyLimit"` // 0 表示不裁剪
	Block         bool    `json:"block"`        // 仅建议，准入阶段负责真正拦截
	Rule          string  `json:"rule,omitempty"`
	PercentUsed   float64 `json:"percentUsed"`
}

// TrimHistory 只保留最近 limit 条
func TrimHistory[T any](history []T, limit int) []T {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}

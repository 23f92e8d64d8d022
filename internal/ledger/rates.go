package ledger

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"salesengine/internal/config"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var oneMillion = decimal.NewFromInt(1_000_000)

// Rate 每百万 Token 单价
type Rate struct {
	InputPerMillion  decimal.Decimal
	OutputPerMillion decimal.Decimal
}

func rateFrom(c config.RateConfig) Rate {
	return Rate{
		InputPerMillion:  decimal.NewFromFloat(c.InputPerMillion),
		OutputPerMillion: decimal.NewFromFloat(c.OutputPerMillion),
	}
}

// RateTable 模型单价表，未知模型使用默认单价
type RateTable struct {
	rates    map[string]Rate
	prefixes []string // 按长度降序，用于带版本后缀的模型名
	fallback Rate
}

// NewRateTable 创建单价表
func NewRateTable(fallback config.RateConfig, rates map[string]config.RateConfig) *RateTable {
	t := &RateTable{rates: make(map[string]Rate, len(rates)), fallback: rateFrom(fallback)}
	for model, r := range rates {
		key := strings.ToLower(strings.TrimSpace(model))
		t.rates[key] = rateFrom(r)
		t.prefixes = append(t.prefixes, key)
	}
	sort.Slice(t.prefixes, func(i, j int) bool {
		return len(t.prefixes[i]) > len(t.prefixes[j])
	})
	return t
}

type rateFile struct {
	Rates map[string]config.RateConfig `yaml:"rates"`
}

// ParseRates 解析单价 YAML
func ParseRates(data []byte) (map[string]config.RateConfig, error) {
	var f rateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("解析单价文件失败: %w", err)
	}
	return f.Rates, nil
}

// LoadRateTable 按配置加载单价表
func LoadRateTable(cfg config.LedgerConfig) (*RateTable, error) {
	var rates map[string]config.RateConfig
	if cfg.RatesFile != "" {
		data, err := os.ReadFile(cfg.RatesFile)
		if err != nil {
			return nil, fmt.Errorf("读取单价文件失败: %w", err)
		}
		rates, err = ParseRates(data)
		if err != nil {
			return nil, err
		}
	}
	return NewRateTable(cfg.DefaultRate, rates), nil
}

// Rate 查找模型单价：精确匹配，其次最长前缀，最后默认单价
func (t *RateTable) Rate(model string) Rate {
	key := strings.ToLower(strings.TrimSpace(model))
	if r, ok := t.rates[key]; ok {
		return r
	}
	for _, p := range t.prefixes {
		if strings.HasPrefix(key, p) {
			return t.rates[p]
		}
	}
	return t.fallback
}

// Cost 按输入/输出 Token 分别计价
func (t *RateTable) Cost(model string, inputTokens, outputTokens int) decimal.Decimal {
	r := t.Rate(model)
	in := decimal.NewFromInt(int64(inputTokens)).Mul(r.InputPerMillion)
	out := decimal.NewFromInt(int64(outputTokens)).Mul(r.OutputPerMillion)
	return in.Add(out).Div(oneMillion).Round(8)
}

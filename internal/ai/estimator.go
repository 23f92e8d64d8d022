package ai

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator 提示词 Token 估算，仅用于账本元数据，计费以提供商上报为准
type TokenEstimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenEstimator 创建估算器，编码表首次使用时加载
func NewTokenEstimator() *TokenEstimator {
	return &TokenEstimator{}
}

func (e *TokenEstimator) encoding() *tiktoken.Tiktoken {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			e.enc = enc
		}
	})
	return e.enc
}

// Estimate 估算多段文本的 Token 总数，编码表不可用时按 4 字符 1 Token 估算
func (e *TokenEstimator) Estimate(texts ...string) int {
	enc := e.encoding()
	total := 0
	for _, text := range texts {
		if text == "" {
			continue
		}
		if enc != nil {
			total += len(enc.Encode(text, nil, nil))
			continue
		}
		total += (utf8.RuneCountInString(text) + 3) / 4
	}
	return total
}

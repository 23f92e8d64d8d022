package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salesengine/internal/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen 熔断器打开时快速失败
var ErrCircuitOpen = errors.New("熔断器已打开，服务暂不可用")

// State 熔断器状态
type State string

const (
	StateClosed   State = "closed"
	StateHalfOpen State = "half_open"
	StateOpen     State = "open"
)

// BreakerSettings 熔断器配置
type BreakerSettings struct {
	Threshold    int           // 连续失败次数阈值
	ResetTimeout time.Duration // 打开后多久允许一次试探
	IsFailure    func(error) bool
}

// DefaultBreakerSettings 默认配置
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Threshold:    5,
		ResetTimeout: 60 * time.Second,
		IsFailure:    IsBreakerFailure,
	}
}

// IsBreakerFailure 除上下文取消外的任何错误都计入熔断失败
// 重试判定另见 genai.IsTransient
func IsBreakerFailure(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Breaker 单个提供商的熔断器，跨店铺共享
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker 创建熔断器
func NewBreaker(name string, s BreakerSettings, log *zap.Logger) *Breaker {
	if log == nil {
		log = zap.NewNop()
	}
	threshold := s.Threshold
	if threshold <= 0 {
		threshold = 1
	}
	isFailure := s.IsFailure
	if isFailure == nil {
		isFailure = IsBreakerFailure
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     s.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("熔断器状态变化",
				zap.String("provider", name),
				zap.String("from", string(toState(from))),
				zap.String("to", string(toState(to))),
			)
			metrics.CircuitState.WithLabelValues(name).Set(stateGauge(to))
		},
	})
	metrics.CircuitState.WithLabelValues(name).Set(0)

	return &Breaker{name: name, cb: cb}
}

// Name 熔断器名称（提供商）
func (b *Breaker) Name() string {
	return b.name
}

// State 当前状态
func (b *Breaker) State() State {
	return toState(b.cb.State())
}

// Execute 经熔断器执行 fn；打开状态下不调用 fn，直接返回 ErrCircuitOpen
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	out, err := b.cb.Execute(func() (interface{}, error) {
		v, err := fn()
		return v, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return zero, fmt.Errorf("%w: %s", ErrCircuitOpen, b.name)
	}
	if err != nil {
		return zero, err
	}
	v, _ := out.(T)
	return v, nil
}

func toState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func stateGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

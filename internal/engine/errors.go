package engine

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest 请求参数不合法
var ErrInvalidRequest = errors.New("请求参数不合法")

// ErrorKind 回复结果分类
type ErrorKind int

const (
	KindNone               ErrorKind = iota
	KindConfiguration                // 启动配置错误，管线无法继续
	KindBudgetExceeded               // 预算准入拒绝
	KindQuotaExceeded                // 本月自主下单额度已用完
	KindServiceUnavailable           // 熔断打开
	KindProviderFailure              // 重试耗尽或不可重试的提供商错误
	KindParse                        // 结构化输出无法解析
)

var kindNames = map[ErrorKind]string{
	KindNone:               "ok",
	KindConfiguration:      "configuration",
	KindBudgetExceeded:     "budget_exceeded",
	KindQuotaExceeded:      "quota_exceeded",
	KindServiceUnavailable: "service_unavailable",
	KindProviderFailure:    "provider_failure",
	KindParse:              "parse_error",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// 返回给顾客的固定文案
const (
	MessageBudgetExceeded     = "Our assistant is taking a short break right now. A team member will get back to you as soon as possible."
	MessageQuotaExceeded      = "Thanks for your interest! Our team will help you complete this order directly. Shop owners can upgrade their plan to let the assistant create more orders this month."
	MessageFallback           = "Sorry, I'm having trouble answering right now. Please try again in a moment or wait for our team to reply."
	MessageServiceUnavailable = "Our assistant is temporarily unavailable. Please try again in a few minutes."
	MessageImageFallback      = "We couldn't edit this image right now. Please try again with a clearer photo or a simpler request."
)

// ConfigError 配置错误，通常在启动阶段出现
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("配置错误: %s: %v", e.Reason, e.Err)
	}
	return "配置错误: " + e.Reason
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ParseError 模型返回的结构化内容无法解析
type ParseError struct {
	Operation string
	Raw       string
	Err       error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("解析 %s 输出失败: %v", e.Operation, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

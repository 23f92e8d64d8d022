package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesengine_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "salesengine_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// APIRateLimited 被限流的请求数
	APIRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesengine_api_rate_limited_total",
			Help: "被店铺级限流拒绝的请求数",
		},
		[]string{"path"},
	)
)

// 对话管线指标
var (
	// ResponsesTotal 按结果分类的回复数
	ResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesengine_responses_total",
			Help: "对话回复总数（按结果分类）",
		},
		[]string{"operation", "outcome"},
	)

	// ResponseDuration 单次回复管线耗时（秒）
	ResponseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "salesengine_response_duration_seconds",
			Help:    "回复管线耗时分布",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"operation"},
	)

	// CommerceDecisions 下单模式决策
	CommerceDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesengine_commerce_decisions_total",
			Help: "自主/协助/超额 决策次数",
		},
		[]string{"mode"},
	)

	// ToolCallsTotal 工具调用次数
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesengine_tool_calls_total",
			Help: "模型请求的工具调用次数",
		},
		[]string{"tool", "status"},
	)
)

// 生成服务调用指标
var (
	// ProviderCallsTotal 提供商调用总数
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesengine_provider_calls_total",
			Help: "生成服务调用总数",
		},
		[]string{"provider", "model", "status"},
	)

	// ProviderCallDuration 提供商调用耗时（秒）
	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "salesengine_provider_call_duration_seconds",
			Help:    "生成服务调用耗时分布",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "model"},
	)

	// ProviderRetries 重试次数
	ProviderRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesengine_provider_retries_total",
			Help: "生成服务调用重试次数",
		},
		[]string{"operation"},
	)

	// CircuitState 熔断器状态 0=closed 1=half-open 2=open
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "salesengine_circuit_state",
			Help: "熔断器状态（0 关闭, 1 半开, 2 打开）",
		},
		[]string{"provider"},
	)
)

// 预算与账本指标
var (
	// BudgetDecisions 预算准入/优化决策
	BudgetDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesengine_budget_decisions_total",
			Help: "预算准入与优化决策次数",
		},
		[]string{"stage", "result"}, // stage: admission, optimization
	)

	// BudgetAlerts 预算告警次数
	BudgetAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesengine_budget_alerts_total",
			Help: "预算告警发出次数",
		},
		[]string{"period"},
	)

	// LedgerCost 账本累计成本（美元）
	LedgerCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesengine_ledger_cost_usd_total",
			Help: "账本记录的累计成本",
		},
		[]string{"operation", "model"},
	)

	// LedgerTokens 账本累计 Token
	LedgerTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesengine_ledger_tokens_total",
			Help: "账本记录的累计 Token",
		},
		[]string{"model", "direction"}, // direction: input, output
	)
)

// 后台任务指标
var (
	// WorkerTasksTotal 后台任务执行次数
	WorkerTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesengine_worker_tasks_total",
			Help: "后台任务执行次数",
		},
		[]string{"type", "status"},
	)
)

// 系统指标
var (
	// SQLEvents 失败与慢查询次数
	SQLEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesengine_sql_events_total",
			Help: "SQL 执行失败与慢查询次数",
		},
		[]string{"kind"},
	)

	// BuildInfo 构建信息
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "salesengine_build_info",
			Help: "构建信息",
		},
		[]string{"version", "go_version", "commit"},
	)
)

// RecordBuildInfo 记录构建信息
func RecordBuildInfo(version, goVersion, commit string) {
	BuildInfo.WithLabelValues(version, goVersion, commit).Set(1)
}

// StatusLabel 根据错误返回状态标签
func StatusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

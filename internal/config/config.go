package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Log          LogConfig          `mapstructure:"log"`
	AI           AIConfig           `mapstructure:"ai"`
	Resilience   ResilienceConfig   `mapstructure:"resilience"`
	Budget       BudgetConfig       `mapstructure:"budget"`
	Commerce     CommerceConfig     `mapstructure:"commerce"`
	Ledger       LedgerConfig       `mapstructure:"ledger"`
	Shop         ShopConfig         `mapstructure:"shop"`
	Notification NotificationConfig `mapstructure:"notification"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Admin        AdminConfig        `mapstructure:"admin"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // postgres, sqlite
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	SQLitePath      string `mapstructure:"sqlite_path"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
	SlowQueryMS     int    `mapstructure:"slow_query_ms"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 连接模式: standalone(单节点), sentinel(哨兵), cluster(集群)
	Mode string `mapstructure:"mode"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	MasterName       string   `mapstructure:"master_name"`
	SentinelAddrs    []string `mapstructure:"sentinel_addrs"`
	SentinelPassword string   `mapstructure:"sentinel_password"`

	ClusterAddrs []string `mapstructure:"cluster_addrs"`

	PoolSize     int `mapstructure:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns"`
}

// Addr 单节点地址
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// AIConfig 生成服务配置
type AIConfig struct {
	Provider        string            `mapstructure:"provider"` // gemini, openai, anthropic
	DefaultModel    string            `mapstructure:"default_model"`
	ModelTiers      map[string]string `mapstructure:"model_tiers"` // 店铺档位 -> 模型名
	ImageModel      string            `mapstructure:"image_model"` // 商品图片编辑
	Temperature     float64           `mapstructure:"temperature"`
	TopP            float64           `mapstructure:"top_p"`
	TopK            int               `mapstructure:"top_k"`
	MaxOutputTokens int               `mapstructure:"max_output_tokens"`
	TimeoutSeconds  int               `mapstructure:"timeout_seconds"`

	Gemini    ProviderConfig `mapstructure:"gemini"`
	OpenAI    ProviderConfig `mapstructure:"openai"`
	Anthropic ProviderConfig `mapstructure:"anthropic"`
}

// ProviderConfig 单个提供商的连接配置
type ProviderConfig struct {
	APIKeyEnv string `mapstructure:"api_key_env"` // 凭证所在环境变量名
	APIKey    string `mapstructure:"api_key"`     // 直接配置的凭证（优先级低于环境变量）
	BaseURL   string `mapstructure:"base_url"`
	OrgID     string `mapstructure:"org_id"`
}

// ModelForTier 根据店铺档位选择模型
func (c *AIConfig) ModelForTier(tier string) string {
	if model, ok := c.ModelTiers[strings.ToLower(strings.TrimSpace(tier))]; ok && model != "" {
		return model
	}
	return c.DefaultModel
}

// ResilienceConfig 重试与熔断配置
type ResilienceConfig struct {
	MaxRetries          int     `mapstructure:"max_retries"`
	InitialDelayMs      int     `mapstructure:"initial_delay_ms"`
	MaxDelayMs          int     `mapstructure:"max_delay_ms"`
	BackoffMultiplier   float64 `mapstructure:"backoff_multiplier"`
	Jitter              float64 `mapstructure:"jitter"` // 0.3 表示 ±30%
	BreakerThreshold    int     `mapstructure:"breaker_threshold"`
	BreakerResetSeconds int     `mapstructure:"breaker_reset_seconds"`
}

// BudgetConfig 预算默认值与优化规则
type BudgetConfig struct {
	EstimatedCost         float64                  `mapstructure:"estimated_cost"` // 单次请求平均成本（美元）
	DefaultDaily          float64                  `mapstructure:"default_daily"`
	DefaultMonthly        float64                  `mapstructure:"default_monthly"`
	DefaultAlertThreshold float64                  `mapstructure:"default_alert_threshold"` // 百分比
	DefaultAutoOptimize   bool                     `mapstructure:"default_auto_optimize"`
	FallbackModel         string                   `mapstructure:"fallback_model"`
	OptimizationRules     []OptimizationRuleConfig `mapstructure:"optimization_rules"`
}

// OptimizationRuleConfig 成本优化规则，按配置顺序匹配
type OptimizationRuleConfig struct {
	Name        string `mapstructure:"name"`
	Condition   string `mapstructure:"condition"` // govaluate 表达式
	Block       bool   `mapstructure:"block"`
	SwitchModel bool   `mapstructure:"switch_model"`
	MaxHistory  int    `mapstructure:"max_history"`
}

// CommerceConfig 自主下单配置
type CommerceConfig struct {
	AssistedOnlyPlans []string `mapstructure:"assisted_only_plans"`
}

// LedgerConfig 用量账本配置
// 模型名包含 "."，按模型的单价放在独立的 YAML 文件中
type LedgerConfig struct {
	RatesFile   string     `mapstructure:"rates_file"`
	DefaultRate RateConfig `mapstructure:"default_rate"`
}

// RateConfig 每百万 Token 单价（美元）
type RateConfig struct {
	InputPerMillion  float64 `mapstructure:"input_per_million" yaml:"input_per_million"`
	OutputPerMillion float64 `mapstructure:"output_per_million" yaml:"output_per_million"`
}

// ShopConfig 店铺配置读取
type ShopConfig struct {
	CacheTTLSeconds int            `mapstructure:"cache_ttl_seconds"`
	OrderAPI        OrderAPIConfig `mapstructure:"order_api"`
}

// OrderAPIConfig 下单服务
type OrderAPIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Token          string `mapstructure:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// NotificationConfig 预算告警投递
type NotificationConfig struct {
	WebhookURL    string `mapstructure:"webhook_url"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// WorkerConfig 后台任务配置
type WorkerConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	Concurrency         int    `mapstructure:"concurrency"`
	DailyRolloverCron   string `mapstructure:"daily_rollover_cron"`
	MonthlyRolloverCron string `mapstructure:"monthly_rollover_cron"`
}

// AdminConfig 管理接口
type AdminConfig struct {
	Token string `mapstructure:"token"`
}

// RateLimitConfig 店铺级限流
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

var globalConfig *Config

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == "" {
		v.SetConfigName(env)
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}
	v.SetConfigType("yaml")

	// 环境变量优先级高于配置文件：APP_DATABASE_HOST
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if len(cfg.Budget.OptimizationRules) == 0 {
		cfg.Budget.OptimizationRules = DefaultOptimizationRules()
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// DefaultOptimizationRules 默认三档优化规则（高阈值优先）
func DefaultOptimizationRules() []OptimizationRuleConfig {
	return []OptimizationRuleConfig{
		{Name: "block", Condition: "percent_used >= 90", Block: true},
		{Name: "fallback_and_trim", Condition: "percent_used >= 80", SwitchModel: true, MaxHistory: 5},
		{Name: "trim_history", Condition: "percent_used >= 60", MaxHistory: 10},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 90)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.sqlite_path", "salesengine.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.slow_query_ms", 200)

	v.SetDefault("redis.mode", "standalone")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.default_model", "gemini-2.0-flash")
	v.SetDefault("ai.image_model", "gemini-2.0-flash-preview-image-generation")
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("ai.top_p", 0.95)
	v.SetDefault("ai.top_k", 40)
	v.SetDefault("ai.max_output_tokens", 1024)
	v.SetDefault("ai.timeout_seconds", 60)
	v.SetDefault("ai.gemini.api_key_env", "GEMINI_API_KEY")
	v.SetDefault("ai.openai.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("ai.anthropic.api_key_env", "ANTHROPIC_API_KEY")

	v.SetDefault("resilience.max_retries", 3)
	v.SetDefault("resilience.initial_delay_ms", 1000)
	v.SetDefault("resilience.max_delay_ms", 10000)
	v.SetDefault("resilience.backoff_multiplier", 2.0)
	v.SetDefault("resilience.jitter", 0.3)
	v.SetDefault("resilience.breaker_threshold", 5)
	v.SetDefault("resilience.breaker_reset_seconds", 60)

	v.SetDefault("budget.estimated_cost", 0.01)
	v.SetDefault("budget.default_daily", 10.0)
	v.SetDefault("budget.default_monthly", 200.0)
	v.SetDefault("budget.default_alert_threshold", 80.0)
	v.SetDefault("budget.default_auto_optimize", true)
	v.SetDefault("budget.fallback_model", "gemini-2.0-flash-lite")

	v.SetDefault("ledger.default_rate.input_per_million", 0.10)
	v.SetDefault("ledger.default_rate.output_per_million", 0.40)

	v.SetDefault("shop.cache_ttl_seconds", 60)
	v.SetDefault("shop.order_api.timeout_seconds", 10)

	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.concurrency", 5)
	v.SetDefault("worker.daily_rollover_cron", "0 0 * * *")
	v.SetDefault("worker.monthly_rollover_cron", "5 0 1 * *")

	v.SetDefault("rate_limit.requests_per_second", 5.0)
	v.SetDefault("rate_limit.burst", 10)
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

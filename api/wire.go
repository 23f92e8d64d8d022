package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	adminHandlers "salesengine/api/handlers/admin"
	"salesengine/api/handlers/assistant"
	budgetHandlers "salesengine/api/handlers/budget"
	"salesengine/internal/ai"
	"salesengine/internal/budget"
	"salesengine/internal/commerce"
	"salesengine/internal/config"
	"salesengine/internal/engine"
	"salesengine/internal/ledger"
	"salesengine/internal/middleware"
	"salesengine/internal/notification"
	"salesengine/internal/prompt"
	"salesengine/internal/resilience"
	"salesengine/internal/shop"
	"salesengine/internal/tools"
	"salesengine/internal/worker"
	"salesengine/internal/worker/handlers"
	"salesengine/pkg/genai"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AppContainer 应用容器，集中管理所有服务依赖
type AppContainer struct {
	// 基础设施
	DB          *gorm.DB
	Config      *config.Config
	RedisClient redis.UniversalClient // 可为 nil，此时退回内存缓存与同步告警
	Logger      *zap.Logger

	// 核心服务
	Shops    shop.ConfigReader
	Budget   *budget.Service
	Commerce *commerce.Gate
	Ledger   *ledger.Service
	Engine   *engine.Engine

	// 告警与后台任务
	Notifier     notification.Notifier
	AsyncClient  *worker.AsyncClient
	WorkerServer *worker.Server
	Scheduler    *worker.Scheduler

	RateLimiter *middleware.RateLimiter
}

// Handlers HTTP 处理器集合
type Handlers struct {
	Assistant *assistant.Handler
	Budget    *budgetHandlers.Handler
	Ledger    *adminHandlers.LedgerHandler
}

// shouldAutoMigrate 检查是否应该执行自动迁移
func (c *AppContainer) shouldAutoMigrate() bool {
	return c.Config != nil && c.Config.Database.AutoMigrate
}

// autoMigrate 条件执行自动迁移
func (c *AppContainer) autoMigrate(migrator interface{ AutoMigrate() error }, name string) error {
	if !c.shouldAutoMigrate() {
		return nil
	}
	if err := migrator.AutoMigrate(); err != nil {
		return fmt.Errorf("%s表迁移失败: %w", name, err)
	}
	return nil
}

// InitContainer 初始化应用容器
// provider 为 nil 时返回 *engine.ConfigError
func InitContainer(db *gorm.DB, cfg *config.Config, redisClient redis.UniversalClient, provider genai.Provider, log *zap.Logger) (*AppContainer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &AppContainer{
		DB:          db,
		Config:      cfg,
		RedisClient: redisClient,
		Logger:      log,
	}

	c.initNotification()

	if err := c.initCoreServices(); err != nil {
		return nil, err
	}
	if err := c.initEngine(provider); err != nil {
		return nil, err
	}
	if err := c.initWorker(); err != nil {
		return nil, err
	}

	c.RateLimiter = middleware.NewRateLimiter(&middleware.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.Burst,
	})
	return c, nil
}

// InitHandlers 初始化所有 Handlers
func (c *AppContainer) InitHandlers() *Handlers {
	return &Handlers{
		Assistant: assistant.NewHandler(c.Engine, c.Logger),
		Budget:    budgetHandlers.NewHandler(c.Budget, c.Logger),
		Ledger:    adminHandlers.NewLedgerHandler(c.Ledger, c.reconciler(), c.Logger),
	}
}

// workerEnabled 后台任务依赖 Redis
func (c *AppContainer) workerEnabled() bool {
	return c.Config.Worker.Enabled && c.RedisClient != nil
}

func (c *AppContainer) initNotification() {
	notifiers := []notification.Notifier{notification.NewLogNotifier(c.Logger)}
	if wh := notification.NewWebhookNotifier(notification.WebhookConfig{
		URL:    c.Config.Notification.WebhookURL,
		Secret: c.Config.Notification.WebhookSecret,
	}, c.Logger); wh != nil {
		notifiers = append(notifiers, wh)
	}
	c.Notifier = notification.NewMultiNotifier(notifiers...)
}

func (c *AppContainer) initCoreServices() error {
	cfg := c.Config

	var alerts budget.AlertSink = notification.NewSink(c.Notifier)
	if c.workerEnabled() {
		c.AsyncClient = worker.NewAsyncClient(&cfg.Redis, c.Logger)
		alerts = c.AsyncClient
	} else {
		c.Logger.Info("后台任务未启用，预算告警同步投递")
	}

	budgetSvc, err := budget.NewService(c.DB, cfg.Budget, alerts, c.Logger)
	if err != nil {
		return fmt.Errorf("初始化预算服务失败: %w", err)
	}
	c.Budget = budgetSvc

	rates, err := ledger.LoadRateTable(cfg.Ledger)
	if err != nil {
		return fmt.Errorf("加载模型单价失败: %w", err)
	}
	c.Ledger = ledger.NewService(c.DB, rates, budgetSvc, c.Logger)
	c.Commerce = commerce.NewGate(c.DB, cfg.Commerce.AssistedOnlyPlans, c.Logger)

	repo := shop.NewRepository(c.DB)
	ttl := time.Duration(cfg.Shop.CacheTTLSeconds) * time.Second
	var cache shop.Cache = shop.NewMemoryCache(ttl)
	if c.RedisClient != nil {
		cache = shop.NewRedisCache(c.RedisClient, ttl)
	}
	c.Shops = shop.NewCachedReader(repo, cache, c.Logger)

	migrations := []struct {
		name string
		m    interface{ AutoMigrate() error }
	}{
		{"店铺", repo},
		{"预算", budgetSvc},
		{"账本", c.Ledger},
		{"下单额度", c.Commerce},
	}
	for _, mg := range migrations {
		if err := c.autoMigrate(mg.m, mg.name); err != nil {
			return err
		}
	}
	return nil
}

func (c *AppContainer) initEngine(provider genai.Provider) error {
	cfg := c.Config
	orders := shop.NewOrderClient(
		cfg.Shop.OrderAPI.BaseURL,
		cfg.Shop.OrderAPI.Token,
		time.Duration(cfg.Shop.OrderAPI.TimeoutSeconds)*time.Second,
		c.Logger,
	)
	registry, err := tools.NewCommerceRegistry(orders)
	if err != nil {
		return fmt.Errorf("注册工具失败: %w", err)
	}

	e, err := engine.New(engine.Deps{
		Shops:     c.Shops,
		Commerce:  c.Commerce,
		Budget:    c.Budget,
		Ledger:    c.Ledger,
		Composer:  prompt.NewComposer(),
		Tools:     registry,
		Provider:  provider,
		Invoker:   resilience.NewInvokerFromConfig(cfg.Resilience, c.Logger),
		AI:        cfg.AI,
		Estimator: ai.NewTokenEstimator(),
		Logger:    c.Logger,
	})
	if err != nil {
		return err
	}
	c.Engine = e
	return nil
}

func (c *AppContainer) initWorker() error {
	if !c.workerEnabled() {
		return nil
	}
	h := handlers.NewBudgetHandler(c.Budget, c.Ledger, c.Notifier, c.Logger)
	c.WorkerServer = worker.NewServer(&c.Config.Redis, c.Config.Worker, h, c.Logger)

	scheduler, err := worker.NewScheduler(&c.Config.Redis, c.Config.Worker, c.Logger)
	if err != nil {
		return err
	}
	c.Scheduler = scheduler
	return nil
}

// reconciler 启用后台任务时异步对账，否则同步执行
func (c *AppContainer) reconciler() adminHandlers.Reconciler {
	if c.AsyncClient != nil {
		return queuedReconciler{client: c.AsyncClient}
	}
	return directReconciler{budgets: c.Budget, spend: c.Ledger, now: time.Now}
}

// Close 释放客户端与限流器
func (c *AppContainer) Close() error {
	if c.RateLimiter != nil {
		c.RateLimiter.Stop()
	}
	if c.AsyncClient != nil {
		return c.AsyncClient.Close()
	}
	return nil
}

type queuedReconciler struct {
	client *worker.AsyncClient
}

func (r queuedReconciler) Reconcile(ctx context.Context, shopID string) error {
	_, err := r.client.EnqueueReconcile(ctx, shopID)
	return err
}

type directReconciler struct {
	budgets *budget.Service
	spend   budget.SpendSource
	now     func() time.Time
}

func (r directReconciler) Reconcile(ctx context.Context, shopID string) error {
	shopIDs := []string{shopID}
	if shopID == "" {
		ids, err := r.budgets.ShopIDs(ctx)
		if err != nil {
			return err
		}
		shopIDs = ids
	}
	now := r.now()
	var errs []error
	for _, id := range shopIDs {
		if err := r.budgets.Reconcile(ctx, r.spend, id, now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package worker

import (
	"context"
	"fmt"
	"time"

	"salesengine/internal/budget"
	"salesengine/internal/config"
	"salesengine/internal/infra"
	"salesengine/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Enqueuer 任务入队抽象，便于测试替换
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsyncClient 异步任务客户端，同时实现 budget.AlertSink
type AsyncClient struct {
	client Enqueuer
	closer func() error
	logger *zap.Logger
}

// NewAsyncClient 创建异步客户端
func NewAsyncClient(redisCfg *config.RedisConfig, logger *zap.Logger) *AsyncClient {
	client := asynq.NewClient(infra.AsynqConnOpt(redisCfg))
	c := NewAsyncClientWith(client, logger)
	c.closer = client.Close
	return c
}

// NewAsyncClientWith 基于已有入队实现创建客户端
func NewAsyncClientWith(client Enqueuer, logger *zap.Logger) *AsyncClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsyncClient{client: client, logger: logger}
}

// EmitBudgetAlert 将告警投递任务加入队列
func (c *AsyncClient) EmitBudgetAlert(ctx context.Context, alert budget.Alert) error {
	task, err := tasks.NewBudgetAlertTask(alert)
	if err != nil {
		return fmt.Errorf("序列化告警任务失败: %w", err)
	}

	// 告警保留 24 小时，最多重试 5 次
	info, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(tasks.QueueAlerts),
		asynq.MaxRetry(5),
		asynq.Retention(24*time.Hour),
		asynq.Timeout(30*time.Second))
	if err != nil {
		return fmt.Errorf("could not enqueue budget alert task: %w", err)
	}

	c.logger.Info("预算告警已入队",
		zap.String("task_id", info.ID),
		zap.String("shop_id", alert.ShopID),
		zap.String("period", string(alert.Period)),
	)
	return nil
}

// EnqueueReconcile 将对账任务加入队列
func (c *AsyncClient) EnqueueReconcile(ctx context.Context, shopID string) (string, error) {
	task, err := tasks.NewReconcileTask(shopID)
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(tasks.QueueMaintenance),
		asynq.Retention(time.Hour),
		asynq.Timeout(5*time.Minute))
	if err != nil {
		return "", fmt.Errorf("could not enqueue reconcile task: %w", err)
	}
	return info.ID, nil
}

// Close 关闭客户端
func (c *AsyncClient) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

package worker

import (
	"fmt"
	"time"

	"salesengine/internal/config"
	"salesengine/internal/infra"
	"salesengine/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// 默认结转时间（UTC）
const (
	DefaultDailyRolloverCron   = "0 0 * * *"
	DefaultMonthlyRolloverCron = "5 0 1 * *"
)

// Scheduler 周期任务调度
type Scheduler struct {
	scheduler *asynq.Scheduler
	logger    *zap.Logger
}

// ScheduleEntry 周期任务
type ScheduleEntry struct {
	Cron string
	Type string
}

// Entries 根据配置生成结转计划
func Entries(cfg config.WorkerConfig) []ScheduleEntry {
	daily := cfg.DailyRolloverCron
	if daily == "" {
		daily = DefaultDailyRolloverCron
	}
	monthly := cfg.MonthlyRolloverCron
	if monthly == "" {
		monthly = DefaultMonthlyRolloverCron
	}
	return []ScheduleEntry{
		{Cron: daily, Type: tasks.TypeRolloverDaily},
		{Cron: monthly, Type: tasks.TypeRolloverMonthly},
	}
}

// NewScheduler 创建调度器并注册结转任务
func NewScheduler(redisCfg *config.RedisConfig, cfg config.WorkerConfig, logger *zap.Logger) (*Scheduler, error) {
	s := asynq.NewScheduler(infra.AsynqConnOpt(redisCfg), &asynq.SchedulerOpts{
		Location: time.UTC,
	})

	for _, e := range Entries(cfg) {
		id, err := s.Register(e.Cron, asynq.NewTask(e.Type, nil),
			asynq.Queue(tasks.QueueMaintenance),
			asynq.Unique(time.Hour))
		if err != nil {
			return nil, fmt.Errorf("注册周期任务 %s 失败: %w", e.Type, err)
		}
		logger.Info("周期任务已注册",
			zap.String("type", e.Type),
			zap.String("cron", e.Cron),
			zap.String("entry_id", id),
		)
	}
	return &Scheduler{scheduler: s, logger: logger}, nil
}

// Start 非阻塞启动
func (s *Scheduler) Start() error {
	return s.scheduler.Start()
}

// Shutdown 停止调度
func (s *Scheduler) Shutdown() {
	s.logger.Info("调度器停止中...")
	s.scheduler.Shutdown()
}

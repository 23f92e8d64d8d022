package worker

import (
	"context"

	"salesengine/internal/config"
	"salesengine/internal/infra"
	"salesengine/internal/metrics"
	"salesengine/internal/worker/handlers"
	"salesengine/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

func NewServer(
	redisCfg *config.RedisConfig,
	workerCfg config.WorkerConfig,
	budgetHandler *handlers.BudgetHandler,
	logger *zap.Logger,
) *Server {
	concurrency := workerCfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	srv := asynq.NewServer(
		infra.AsynqConnOpt(redisCfg),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				tasks.QueueAlerts:      6, // 告警优先
				tasks.QueueMaintenance: 3,
				"default":              1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("任务执行失败",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.Use(taskMetrics)
	mux.HandleFunc(tasks.TypeBudgetAlert, budgetHandler.HandleBudgetAlert)
	mux.HandleFunc(tasks.TypeRolloverDaily, budgetHandler.HandleRolloverDaily)
	mux.HandleFunc(tasks.TypeRolloverMonthly, budgetHandler.HandleRolloverMonthly)
	mux.HandleFunc(tasks.TypeReconcile, budgetHandler.HandleReconcile)

	return &Server{
		server: srv,
		mux:    mux,
		logger: logger,
	}
}

// Run 启动 Worker 服务器
func (s *Server) Run() error {
	s.logger.Info("Worker 服务器启动中...")
	return s.server.Run(s.mux)
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("Worker 服务器启动中 (后台)...")
	return s.server.Start(s.mux)
}

// Shutdown 停止 Worker 服务器
func (s *Server) Shutdown() {
	s.logger.Info("Worker 服务器停止中...")
	s.server.Shutdown()
}

// taskMetrics 记录任务执行结果
func taskMetrics(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		err := next.ProcessTask(ctx, t)
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.WorkerTasksTotal.WithLabelValues(t.Type(), status).Inc()
		return err
	})
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"salesengine/api"
	"salesengine/internal/ai"
	"salesengine/internal/config"
	"salesengine/internal/engine"
	"salesengine/internal/infra"
	"salesengine/internal/logger"
	"salesengine/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	// 0. 统一加载 .env，便于集中管理 APP_* 环境变量
	loadEnvFile()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 1. 加载配置
	cfg, err := config.Load(env, os.Getenv("APP_CONFIG_FILE"))
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.String("env", env),
		zap.String("mode", cfg.Server.Mode),
		zap.String("provider", cfg.AI.Provider),
	)
	metrics.RecordBuildInfo(version, runtime.Version(), commit)

	// 3. 初始化数据库
	db, err := infra.InitDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("初始化数据库失败", zap.Error(err))
	}
	defer infra.CloseDatabase()

	// 4. Redis 可选，不可用时退回内存缓存并同步投递告警
	var rdb redis.UniversalClient
	if client, err := infra.InitRedis(&cfg.Redis); err != nil {
		logger.Warn("Redis 不可用，后台任务已禁用", zap.Error(err))
	} else {
		rdb = client
		defer infra.CloseRedis()
	}

	// 5. 生成服务，凭证缺失属于启动期配置错误
	provider, err := ai.NewProvider(cfg.AI, ai.EnvCredentialProvider{}, logger.Get())
	if err != nil {
		logger.Fatal("初始化生成服务失败", zap.Error(&engine.ConfigError{Reason: "生成服务不可用", Err: err}))
	}

	// 6. 组装服务
	container, err := api.InitContainer(db, cfg, rdb, provider, logger.Get())
	if err != nil {
		var cfgErr *engine.ConfigError
		if errors.As(err, &cfgErr) {
			logger.Fatal("引擎配置错误", zap.Error(err))
		}
		logger.Fatal("初始化应用容器失败", zap.Error(err))
	}
	defer container.Close()

	gin.SetMode(cfg.Server.Mode)
	router := api.SetupRouter(container)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务器启动失败", zap.Error(err))
		}
	}()

	if container.WorkerServer != nil {
		if err := container.WorkerServer.Start(); err != nil {
			logger.Fatal("Worker 服务器启动失败", zap.Error(err))
		}
	}
	if container.Scheduler != nil {
		if err := container.Scheduler.Start(); err != nil {
			logger.Fatal("调度器启动失败", zap.Error(err))
		}
	}

	gracefulShutdown(server, container)
}

// loadEnvFile 依次尝试加载当前目录及上级目录的 .env 文件
func loadEnvFile() {
	path := resolveEnvPath()
	if path == "" {
		fmt.Println("未找到 .env 文件，将仅使用系统环境变量和 config/* 配置")
		return
	}
	if err := godotenv.Load(path); err != nil {
		fmt.Printf("加载环境变量文件 %s 失败: %v\n", path, err)
		return
	}
	fmt.Printf("已加载环境变量文件: %s\n", path)
}

// resolveEnvPath 从当前工作目录向上查找 .env
func resolveEnvPath() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	dir := filepath.Clean(wd)
	for i := 0; i < 8; i++ {
		candidate := filepath.Join(dir, ".env")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// gracefulShutdown 优雅关闭
func gracefulShutdown(server *http.Server, container *api.AppContainer) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	if container.Scheduler != nil {
		container.Scheduler.Shutdown()
	}
	if container.WorkerServer != nil {
		container.WorkerServer.Shutdown()
	}

	logger.Info("服务器已安全关闭")
}

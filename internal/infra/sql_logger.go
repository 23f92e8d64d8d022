package infra

import (
	"context"
	"errors"
	"time"

	"salesengine/internal/logger"
	"salesengine/internal/metrics"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// maxLoggedSQL 账本元数据写入的语句可能很长，日志里只保留前缀
const maxLoggedSQL = 2048

// SQLLogOptions SQL 日志参数
type SQLLogOptions struct {
	Level         gormLogger.LogLevel
	SlowThreshold time.Duration // 0 表示不记录慢查询
}

// SQLLogger 把 GORM 的语句追踪写入 zap，带上请求里的店铺与会话字段
type SQLLogger struct {
	base *zap.Logger
	opts SQLLogOptions
}

// NewSQLLogger 创建 SQL 日志适配器
func NewSQLLogger(base *zap.Logger, opts SQLLogOptions) *SQLLogger {
	if base == nil {
		base = zap.NewNop()
	}
	return &SQLLogger{base: base.Named("sql"), opts: opts}
}

// LogMode 返回指定级别的副本
func (l *SQLLogger) LogMode(level gormLogger.LogLevel) gormLogger.Interface {
	clone := *l
	clone.opts.Level = level
	return &clone
}

func (l *SQLLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.opts.Level >= gormLogger.Info {
		logger.Scoped(ctx, l.base).Sugar().Infof(msg, data...)
	}
}

func (l *SQLLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.opts.Level >= gormLogger.Warn {
		logger.Scoped(ctx, l.base).Sugar().Warnf(msg, data...)
	}
}

func (l *SQLLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.opts.Level >= gormLogger.Error {
		logger.Scoped(ctx, l.base).Sugar().Errorf(msg, data...)
	}
}

// Trace 记录失败与慢查询，Info 级别下其余语句以 debug 输出
// 记录不存在属于正常分支，不当作错误
func (l *SQLLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.opts.Level <= gormLogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := l.opts.SlowThreshold > 0 && elapsed > l.opts.SlowThreshold

	switch {
	case failed && l.opts.Level >= gormLogger.Error:
		metrics.SQLEvents.WithLabelValues("error").Inc()
		logger.Scoped(ctx, l.base).Error("SQL 执行失败", append(statementFields(elapsed, fc), zap.Error(err))...)
	case slow && l.opts.Level >= gormLogger.Warn:
		metrics.SQLEvents.WithLabelValues("slow").Inc()
		logger.Scoped(ctx, l.base).Warn("SQL 慢查询",
			append(statementFields(elapsed, fc), zap.Duration("threshold", l.opts.SlowThreshold))...)
	case l.opts.Level >= gormLogger.Info:
		logger.Scoped(ctx, l.base).Debug("SQL 执行", statementFields(elapsed, fc)...)
	}
}

func statementFields(elapsed time.Duration, fc func() (string, int64)) []zap.Field {
	sql, rows := fc()
	if len(sql) > maxLoggedSQL {
		sql = sql[:maxLoggedSQL] + "...(truncated)"
	}
	return []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}
}

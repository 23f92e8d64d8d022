package infra

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"salesengine/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

func newObservedSQLLogger(level gormLogger.LogLevel) (*SQLLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewSQLLogger(zap.New(core), SQLLogOptions{Level: level, SlowThreshold: 100 * time.Millisecond}), logs
}

func stmt(sql string, rows int64) func() (string, int64) {
	return func() (string, int64) { return sql, rows }
}

func TestSQLLoggerTrace(t *testing.T) {
	ctx := logger.WithConversation(context.Background(), "shop-1", "conv-1")

	t.Run("执行失败带上会话字段", func(t *testing.T) {
		l, logs := newObservedSQLLogger(gormLogger.Warn)
		l.Trace(ctx, time.Now(), stmt("UPDATE shop_budgets SET reserved_cost = 1", 0), errors.New("database is locked"))

		entries := logs.FilterMessage("SQL 执行失败").All()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.Equal(t, "shop-1", fields["shop_id"])
		assert.Equal(t, "conv-1", fields["conversation_id"])
		assert.Equal(t, "database is locked", fields["error"])
		assert.Equal(t, "sql", entries[0].LoggerName)
	})

	t.Run("记录不存在不当作错误", func(t *testing.T) {
		l, logs := newObservedSQLLogger(gormLogger.Info)
		l.Trace(ctx, time.Now(), stmt("SELECT * FROM commerce_usages", 0), gorm.ErrRecordNotFound)
		assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
		assert.Equal(t, 1, logs.FilterMessage("SQL 执行").Len())
	})

	t.Run("慢查询", func(t *testing.T) {
		l, logs := newObservedSQLLogger(gormLogger.Warn)
		l.Trace(ctx, time.Now().Add(-time.Second), stmt("SELECT * FROM usage_ledger_entries", 42), nil)

		entries := logs.FilterMessage("SQL 慢查询").All()
		require.Len(t, entries, 1)
		assert.EqualValues(t, 42, entries[0].ContextMap()["rows"])
	})

	t.Run("Warn 级别不输出普通语句", func(t *testing.T) {
		l, logs := newObservedSQLLogger(gormLogger.Warn)
		l.Trace(ctx, time.Now(), stmt("SELECT 1", 1), nil)
		assert.Zero(t, logs.Len())
	})

	t.Run("Silent 级别全部忽略", func(t *testing.T) {
		l, logs := newObservedSQLLogger(gormLogger.Silent)
		l.Trace(ctx, time.Now().Add(-time.Second), stmt("SELECT 1", 1), errors.New("boom"))
		assert.Zero(t, logs.Len())
	})

	t.Run("超长语句截断", func(t *testing.T) {
		l, logs := newObservedSQLLogger(gormLogger.Info)
		long := "INSERT INTO usage_ledger_entries (metadata) VALUES ('" + strings.Repeat("x", 5000) + "')"
		l.Trace(ctx, time.Now(), stmt(long, 1), nil)

		entries := logs.All()
		require.Len(t, entries, 1)
		sql := entries[0].ContextMap()["sql"].(string)
		assert.Len(t, sql, maxLoggedSQL+len("...(truncated)"))
		assert.True(t, strings.HasSuffix(sql, "...(truncated)"))
	})
}

func TestSQLLoggerLogMode(t *testing.T) {
	l, logs := newObservedSQLLogger(gormLogger.Warn)
	verbose := l.LogMode(gormLogger.Info)

	verbose.Info(context.Background(), "迁移 %s", "shop_budgets")
	l.Info(context.Background(), "迁移 %s", "commerce_usages")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "迁移 shop_budgets", logs.All()[0].Message)
	assert.Equal(t, gormLogger.Warn, l.opts.Level)
}

package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"salesengine/internal/budget"
	"salesengine/internal/config"
	"salesengine/pkg/genai"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:ledger_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func testRates() *RateTable {
	return NewRateTable(
		config.RateConfig{InputPerMillion: 1, OutputPerMillion: 2},
		map[string]config.RateConfig{
			"gemini-2.0-flash": {InputPerMillion: 0.10, OutputPerMillion: 0.40},
			"gpt-4o":           {InputPerMillion: 2.50, OutputPerMillion: 10},
			"gpt-4o-mini":      {InputPerMillion: 0.15, OutputPerMillion: 0.60},
		},
	)
}

func newTestLedger(t *testing.T) (*Service, *budget.Service) {
	t.Helper()
	db := newTestDB(t)
	bs, err := budget.NewService(db, config.BudgetConfig{
		EstimatedCost:         0.01,
		DefaultDaily:          10,
		DefaultMonthly:        100,
		DefaultAlertThreshold: 80,
	}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, bs.AutoMigrate())

	ls := NewService(db, testRates(), bs, nil)
	require.NoError(t, ls.AutoMigrate())
	return ls, bs
}

func TestRateTable(t *testing.T) {
	rates := testRates()

	t.Run("精确匹配", func(t *testing.T) {
		cost := rates.Cost("gemini-2.0-flash", 1_000_000, 1_000_000)
		assert.Equal(t, "0.5", cost.String())
	})

	t.Run("最长前缀匹配", func(t *testing.T) {
		r := rates.Rate("gpt-4o-mini-2024-07-18")
		assert.Equal(t, "0.15", r.InputPerMillion.String())

		r = rates.Rate("gpt-4o-2024-08-06")
		assert.Equal(t, "2.5", r.InputPerMillion.String())
	})

	t.Run("未知模型使用默认单价", func(t *testing.T) {
		cost := rates.Cost("mystery-model", 500_000, 250_000)
		assert.Equal(t, "1", cost.String())
	})

	t.Run("按方向分别计价", func(t *testing.T) {
		cost := rates.Cost("gpt-4o", 1000, 500)
		// 1000 × 2.5 / 1e6 + 500 × 10 / 1e6
		assert.Equal(t, "0.0075", cost.String())
	})
}

func TestLoadRateTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rates:
  claude-3-5-haiku:
    input_per_million: 0.8
    output_per_million: 4
`), 0o644))

	table, err := LoadRateTable(config.LedgerConfig{
		RatesFile:   path,
		DefaultRate: config.RateConfig{InputPerMillion: 0.1, OutputPerMillion: 0.4},
	})
	require.NoError(t, err)
	assert.Equal(t, "0.8", table.Rate("claude-3-5-haiku-20241022").InputPerMillion.String())
	assert.Equal(t, "0.1", table.Rate("other").InputPerMillion.String())

	_, err = LoadRateTable(config.LedgerConfig{RatesFile: filepath.Join(dir, "missing.yaml")})
	assert.Error(t, err)
}

func TestRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("写入账本并同步预算计数", func(t *testing.T) {
		ls, bs := newTestLedger(t)

		for i := 0; i < 3; i++ {
			_, err := ls.Record(ctx, RecordInput{
				ShopID:         "shop-1",
				ConversationID: "conv-1",
				Operation:      OpChat,
				Model:          "gpt-4o",
				Usage:          genai.TokenUsage{InputTokens: 1000, OutputTokens: 500},
				Metadata:       map[string]any{"history_length": 4},
			})
			require.NoError(t, err)
		}

		now := time.Now().UTC()
		sum, err := ls.SumCost(ctx, "shop-1", now.Add(-time.Hour), now.Add(time.Hour))
		require.NoError(t, err)
		assert.InDelta(t, 0.0225, sum, 1e-9)

		b, err := bs.GetOrCreate(ctx, "shop-1")
		require.NoError(t, err)
		assert.InDelta(t, sum, b.DailySpent, 1e-9)
		assert.InDelta(t, sum, b.MonthlySpent, 1e-9)
	})

	t.Run("无会话 ID 时为空", func(t *testing.T) {
		ls, _ := newTestLedger(t)
		e, err := ls.Record(ctx, RecordInput{
			ShopID:    "shop-1",
			Operation: OpProductDescription,
			Model:     "gemini-2.0-flash",
			Usage:     genai.TokenUsage{InputTokens: 10, OutputTokens: 10},
		})
		require.NoError(t, err)
		assert.Nil(t, e.ConversationID)
		assert.NotEmpty(t, e.ID)
	})
}

func TestAggregateAndExport(t *testing.T) {
	ctx := context.Background()
	ls, _ := newTestLedger(t)

	base := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	tick := base
	ls.now = func() time.Time {
		tick = tick.Add(time.Minute)
		return tick
	}

	inputs := []RecordInput{
		{ShopID: "shop-1", ConversationID: "c1", Operation: OpChat, Model: "gpt-4o", Usage: genai.TokenUsage{InputTokens: 1000, OutputTokens: 100}},
		{ShopID: "shop-1", ConversationID: "c1", Operation: OpChatToolFollowup, Model: "gpt-4o", Usage: genai.TokenUsage{InputTokens: 1200, OutputTokens: 80}},
		{ShopID: "shop-1", Operation: OpReplySuggestions, Model: "gemini-2.0-flash", Usage: genai.TokenUsage{InputTokens: 300, OutputTokens: 60}},
		{ShopID: "shop-2", ConversationID: "c9", Operation: OpChat, Model: "gpt-4o", Usage: genai.TokenUsage{InputTokens: 10, OutputTokens: 10}},
	}
	for _, in := range inputs {
		_, err := ls.Record(ctx, in)
		require.NoError(t, err)
	}

	t.Run("汇总", func(t *testing.T) {
		sum, err := ls.Aggregate(ctx, "shop-1", base, base.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(3), sum.Calls)
		assert.Equal(t, int64(2500), sum.InputTokens)
		assert.Len(t, sum.ByOperation, 3)
		assert.Equal(t, int64(1), sum.ByOperation[OpChatToolFollowup].Calls)
	})

	t.Run("按店铺与时间导出", func(t *testing.T) {
		from := base.Add(90 * time.Second)
		entries, err := ls.Export(ctx, Query{ShopID: "shop-1", From: &from})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, OpChatToolFollowup, entries[0].OperationType)
	})

	t.Run("CSV", func(t *testing.T) {
		entries, err := ls.Export(ctx, Query{ShopID: "shop-1"})
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, WriteCSV(&buf, entries))

		records, err := csv.NewReader(&buf).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 4)
		assert.Equal(t, csvHeader, records[0])
		assert.Equal(t, "c1", records[1][2])
		assert.Equal(t, "", records[3][2])
	})

	t.Run("店铺列表", func(t *testing.T) {
		ids, err := ls.ShopIDs(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"shop-1", "shop-2"}, ids)
	})
}

func TestBulkClear(t *testing.T) {
	ctx := context.Background()

	t.Run("按店铺与截止时间清理后对账", func(t *testing.T) {
		ls, bs := newTestLedger(t)
		now := time.Now().UTC()
		ls.now = func() time.Time { return now }

		for _, shopID := range []string{"shop-1", "shop-1", "shop-2"} {
			_, err := ls.Record(ctx, RecordInput{ShopID: shopID, Operation: OpChat, Model: "gpt-4o", Usage: genai.TokenUsage{InputTokens: 1000}})
			require.NoError(t, err)
		}

		before := now.Add(time.Second)
		n, err := ls.BulkClear(ctx, "shop-1", &before)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		require.NoError(t, bs.Reconcile(ctx, ls, "shop-1", now))
		b, err := bs.GetOrCreate(ctx, "shop-1")
		require.NoError(t, err)
		assert.Zero(t, b.DailySpent)

		rest, err := ls.Export(ctx, Query{})
		require.NoError(t, err)
		assert.Len(t, rest, 1)
	})

	t.Run("无条件清空全部", func(t *testing.T) {
		ls, _ := newTestLedger(t)
		for i := 0; i < 2; i++ {
			_, err := ls.Record(ctx, RecordInput{ShopID: fmt.Sprintf("shop-%d", i), Operation: OpChat, Model: "gpt-4o"})
			require.NoError(t, err)
		}
		n, err := ls.BulkClear(ctx, "", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})
}

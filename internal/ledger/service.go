package ledger

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"salesengine/internal/logger"
	"salesengine/internal/metrics"
	"salesengine/pkg/genai"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SpendRecorder 预算计数器，与账本写入同一事务
type SpendRecorder interface {
	ApplySpend(tx *gorm.DB, shopID string, cost float64) error
	CheckAlerts(ctx context.Context, shopID string) error
}

// RecordInput 一次已完成的生成调用
type RecordInput struct {
	ShopID         string
	ConversationID string
	Operation      OperationType
	Model          string
	Usage          genai.TokenUsage
	Metadata       map[string]any
}

// Service 用量账本
type Service struct {
	db     *gorm.DB
	rates  *RateTable
	spend  SpendRecorder
	logger *zap.Logger
	now    func() time.Time
}

// NewService 创建账本服务，spend 可为 nil
func NewService(db *gorm.DB, rates *RateTable, spend SpendRecorder, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, rates: rates, spend: spend, logger: log, now: time.Now}
}

// AutoMigrate 自动迁移表结构
func (s *Service) AutoMigrate() error {
	return s.db.AutoMigrate(&Entry{})
}

// Record 写入账本并累加预算花费
func (s *Service) Record(ctx context.Context, in RecordInput) (*Entry, error) {
	cost := s.rates.Cost(in.Model, in.Usage.InputTokens, in.Usage.OutputTokens)

	entry := &Entry{
		ID:            uuid.New().String(),
		ShopID:        in.ShopID,
		OperationType: in.Operation,
		ModelName:     in.Model,
		InputTokens:   in.Usage.InputTokens,
		OutputTokens:  in.Usage.OutputTokens,
		Cost:          cost,
		Timestamp:     s.now().UTC(),
	}
	if in.ConversationID != "" {
		conv := in.ConversationID
		entry.ConversationID = &conv
	}
	if len(in.Metadata) > 0 {
		entry.Metadata = datatypes.JSONMap(in.Metadata)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("写入账本失败: %w", err)
		}
		if s.spend != nil {
			if err := s.spend.ApplySpend(tx, in.ShopID, cost.InexactFloat64()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.LedgerCost.WithLabelValues(string(in.Operation), in.Model).Add(cost.InexactFloat64())
	metrics.LedgerTokens.WithLabelValues(in.Model, "input").Add(float64(in.Usage.InputTokens))
	metrics.LedgerTokens.WithLabelValues(in.Model, "output").Add(float64(in.Usage.OutputTokens))

	logger.Scoped(ctx, s.logger).Debug("记录用量",
		zap.String("operation", string(in.Operation)),
		zap.String("model", in.Model),
		zap.Int("input_tokens", in.Usage.InputTokens),
		zap.Int("output_tokens", in.Usage.OutputTokens),
		zap.String("cost", cost.String()),
	)

	if s.spend != nil {
		if err := s.spend.CheckAlerts(ctx, in.ShopID); err != nil {
			s.logger.Warn("预算告警检查失败", zap.String("shop_id", in.ShopID), zap.Error(err))
		}
	}
	return entry, nil
}

// SumCost 区间 [from, to) 内的成本合计
func (s *Service) SumCost(ctx context.Context, shopID string, from, to time.Time) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).Model(&Entry{}).
		Select("COALESCE(SUM(cost), 0)").
		Where("shop_id = ? AND recorded_at >= ? AND recorded_at < ?", shopID, from.UTC(), to.UTC()).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("汇总账本成本失败: %w", err)
	}
	return total, nil
}

// Aggregate 按调用类型汇总
func (s *Service) Aggregate(ctx context.Context, shopID string, from, to time.Time) (*Summary, error) {
	var rows []struct {
		OperationType OperationType
		Calls         int64
		InputTokens   int64
		OutputTokens  int64
		Cost          float64
	}
	err := s.db.WithContext(ctx).Model(&Entry{}).
		Select("operation_type, COUNT(*) AS calls, COALESCE(SUM(input_tokens), 0) AS input_tokens, COALESCE(SUM(output_tokens), 0) AS output_tokens, COALESCE(SUM(cost), 0) AS cost").
		Where("shop_id = ? AND recorded_at >= ? AND recorded_at < ?", shopID, from.UTC(), to.UTC()).
		Group("operation_type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("汇总账本失败: %w", err)
	}

	sum := &Summary{ShopID: shopID, From: from, To: to, ByOperation: make(map[OperationType]OpTotals, len(rows))}
	for _, r := range rows {
		sum.Calls += r.Calls
		sum.InputTokens += r.InputTokens
		sum.OutputTokens += r.OutputTokens
		sum.Cost += r.Cost
		sum.ByOperation[r.OperationType] = OpTotals{
			Calls:        r.Calls,
			InputTokens:  r.InputTokens,
			OutputTokens: r.OutputTokens,
			Cost:         r.Cost,
		}
	}
	return sum, nil
}

func (s *Service) scoped(ctx context.Context, shopID string, from, to *time.Time) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&Entry{})
	if shopID != "" {
		q = q.Where("shop_id = ?", shopID)
	}
	if from != nil {
		q = q.Where("recorded_at >= ?", from.UTC())
	}
	if to != nil {
		q = q.Where("recorded_at < ?", to.UTC())
	}
	return q
}

// Export 按条件导出账本记录，按时间升序
func (s *Service) Export(ctx context.Context, q Query) ([]Entry, error) {
	db := s.scoped(ctx, q.ShopID, q.From, q.To).Order("recorded_at ASC, id ASC")
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}
	var entries []Entry
	if err := db.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("导出账本失败: %w", err)
	}
	return entries, nil
}

// BulkClear 管理员批量清理，shopID 与 before 都为空时清空全部
func (s *Service) BulkClear(ctx context.Context, shopID string, before *time.Time) (int64, error) {
	q := s.scoped(ctx, shopID, nil, before)
	if shopID == "" && before == nil {
		q = q.Session(&gorm.Session{AllowGlobalUpdate: true})
	}
	res := q.Delete(&Entry{})
	if res.Error != nil {
		return 0, fmt.Errorf("清理账本失败: %w", res.Error)
	}
	s.logger.Warn("账本已批量清理",
		zap.String("shop_id", shopID),
		zap.Int64("rows", res.RowsAffected),
	)
	return res.RowsAffected, nil
}

// ShopIDs 账本中出现过的店铺
func (s *Service) ShopIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&Entry{}).Distinct().Pluck("shop_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("查询账本店铺失败: %w", err)
	}
	return ids, nil
}

var csvHeader = []string{
	"id", "shop_id", "conversation_id", "operation_type", "model_name",
	"input_tokens", "output_tokens", "cost", "timestamp",
}

// WriteCSV 以 CSV 写出账本记录
func WriteCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		conv := ""
		if e.ConversationID != nil {
			conv = *e.ConversationID
		}
		record := []string{
			e.ID,
			e.ShopID,
			conv,
			string(e.OperationType),
			e.ModelName,
			strconv.Itoa(e.InputTokens),
			strconv.Itoa(e.OutputTokens),
			e.Cost.StringFixed(8),
			e.Timestamp.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

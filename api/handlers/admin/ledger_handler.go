package admin

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"salesengine/api/handlers/common"
	"salesengine/internal/ledger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LedgerStore 账本导出与清理
type LedgerStore interface {
	Export(ctx context.Context, q ledger.Query) ([]ledger.Entry, error)
	BulkClear(ctx context.Context, shopID string, before *time.Time) (int64, error)
}

// Reconciler 清理账本后按剩余记录重算预算，shopID 为空表示所有店铺
type Reconciler interface {
	Reconcile(ctx context.Context, shopID string) error
}

// LedgerHandler 账本管理 Handler
type LedgerHandler struct {
	store      LedgerStore
	reconciler Reconciler
	logger     *zap.Logger
}

// NewLedgerHandler 创建 Handler
func NewLedgerHandler(store LedgerStore, reconciler Reconciler, logger *zap.Logger) *LedgerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerHandler{store: store, reconciler: reconciler, logger: logger}
}

// ClearResult 清理结果
type ClearResult struct {
	Deleted    int64 `json:"deleted"`
	Reconciled bool  `json:"reconciled"`
}

// Export 导出账本
// @Summary 导出账本记录
// @Tags Admin
// @Param format query string false "json 或 csv"
// @Param shopId query string false "店铺"
// @Param from query string false "起始时间 RFC3339 或 YYYY-MM-DD"
// @Param to query string false "截止时间"
// @Router /api/admin/ledger/export [get]
func (h *LedgerHandler) Export(c *gin.Context) {
	format := c.DefaultQuery("format", "json")
	if format != "json" && format != "csv" {
		common.Fail(c, http.StatusBadRequest, "invalid_request", "format must be json or csv")
		return
	}

	q := ledger.Query{ShopID: c.Query("shopId")}
	var err error
	if q.From, err = parseTime(c.Query("from")); err != nil {
		common.Fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if q.To, err = parseTime(c.Query("to")); err != nil {
		common.Fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			common.Fail(c, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		q.Limit = limit
	}

	entries, err := h.store.Export(c.Request.Context(), q)
	if err != nil {
		h.logger.Error("导出账本失败", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	if format == "csv" {
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="ledger-%s.csv"`, time.Now().UTC().Format("20060102")))
		c.Status(http.StatusOK)
		if err := ledger.WriteCSV(c.Writer, entries); err != nil {
			h.logger.Error("写出 CSV 失败", zap.Error(err))
		}
		return
	}
	common.OK(c, http.StatusOK, common.ListResponse{Items: entries, Total: len(entries)})
}

// Clear 批量清理账本，随后对账
// @Summary 清理账本记录
// @Tags Admin
// @Param shopId query string false "店铺"
// @Param before query string false "清理该时间之前的记录"
// @Router /api/admin/ledger [delete]
func (h *LedgerHandler) Clear(c *gin.Context) {
	shopID := c.Query("shopId")
	before, err := parseTime(c.Query("before"))
	if err != nil {
		common.Fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	deleted, err := h.store.BulkClear(c.Request.Context(), shopID, before)
	if err != nil {
		h.logger.Error("清理账本失败", zap.String("shop_id", shopID), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	result := ClearResult{Deleted: deleted}
	if h.reconciler != nil {
		if err := h.reconciler.Reconcile(c.Request.Context(), shopID); err != nil {
			h.logger.Error("清理后对账失败", zap.String("shop_id", shopID), zap.Error(err))
		} else {
			result.Reconciled = true
		}
	}
	common.OK(c, http.StatusOK, result)
}

// parseTime 解析 RFC3339 或日期，空串返回 nil
func parseTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid time %q, expected RFC3339 or YYYY-MM-DD", raw)
}

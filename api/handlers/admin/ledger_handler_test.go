package admin

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"salesengine/internal/ledger"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	entries     []ledger.Entry
	lastQuery   ledger.Query
	clearShop   string
	clearBefore *time.Time
	deleted     int64
}

func (f *fakeStore) Export(ctx context.Context, q ledger.Query) ([]ledger.Entry, error) {
	f.lastQuery = q
	return f.entries, nil
}

func (f *fakeStore) BulkClear(ctx context.Context, shopID string, before *time.Time) (int64, error) {
	f.clearShop = shopID
	f.clearBefore = before
	return f.deleted, nil
}

type fakeReconciler struct {
	shops  []string
	retErr error
}

func (f *fakeReconciler) Reconcile(ctx context.Context, shopID string) error {
	f.shops = append(f.shops, shopID)
	return f.retErr
}

func newRouter(store LedgerStore, rec Reconciler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewLedgerHandler(store, rec, zap.NewNop())
	r := gin.New()
	r.GET("/api/admin/ledger/export", h.Export)
	r.DELETE("/api/admin/ledger", h.Clear)
	return r
}

func sampleEntries() []ledger.Entry {
	conv := "conv-1"
	return []ledger.Entry{
		{
			ID:             "e1",
			ShopID:         "shop-1",
			ConversationID: &conv,
			OperationType:  ledger.OpChat,
			ModelName:      "gemini-2.0-flash",
			InputTokens:    1200,
			OutputTokens:   300,
			Cost:           decimal.RequireFromString("0.00024"),
			Timestamp:      time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC),
		},
	}
}

func TestLedgerExport(t *testing.T) {
	t.Run("JSON 导出与过滤条件", func(t *testing.T) {
		store := &fakeStore{entries: sampleEntries()}
		w := httptest.NewRecorder()
		newRouter(store, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet,
			"/api/admin/ledger/export?shopId=shop-1&from=2026-10-01&to=2026-10-19T12:00:00Z&limit=50", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "shop-1", store.lastQuery.ShopID)
		require.NotNil(t, store.lastQuery.From)
		assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), *store.lastQuery.From)
		require.NotNil(t, store.lastQuery.To)
		assert.Equal(t, 50, store.lastQuery.Limit)

		var resp struct {
			Success bool `json:"success"`
			Data    struct {
				Items []ledger.Entry `json:"items"`
				Total int            `json:"total"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, 1, resp.Data.Total)
		assert.Equal(t, "e1", resp.Data.Items[0].ID)
	})

	t.Run("CSV 导出", func(t *testing.T) {
		store := &fakeStore{entries: sampleEntries()}
		w := httptest.NewRecorder()
		newRouter(store, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/ledger/export?format=csv", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/csv"))

		records, err := csv.NewReader(w.Body).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "id", records[0][0])
		assert.Equal(t, "e1", records[1][0])
		assert.Equal(t, "conv-1", records[1][2])
	})

	t.Run("非法参数", func(t *testing.T) {
		for _, q := range []string{"format=xml", "from=yesterday", "limit=-1"} {
			w := httptest.NewRecorder()
			newRouter(&fakeStore{}, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/ledger/export?"+q, nil))
			assert.Equal(t, http.StatusBadRequest, w.Code, q)
		}
	})
}

func TestLedgerClear(t *testing.T) {
	t.Run("清理后对账", func(t *testing.T) {
		store := &fakeStore{deleted: 7}
		rec := &fakeReconciler{}
		w := httptest.NewRecorder()
		newRouter(store, rec).ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/admin/ledger?shopId=shop-1&before=2026-10-01", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "shop-1", store.clearShop)
		require.NotNil(t, store.clearBefore)
		assert.Equal(t, []string{"shop-1"}, rec.shops)

		var resp struct {
			Data ClearResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, int64(7), resp.Data.Deleted)
		assert.True(t, resp.Data.Reconciled)
	})

	t.Run("对账失败不影响清理结果", func(t *testing.T) {
		rec := &fakeReconciler{retErr: errors.New("queue down")}
		w := httptest.NewRecorder()
		newRouter(&fakeStore{deleted: 2}, rec).ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/admin/ledger", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Data ClearResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, int64(2), resp.Data.Deleted)
		assert.False(t, resp.Data.Reconciled)
		assert.Equal(t, []string{""}, rec.shops)
	})
}

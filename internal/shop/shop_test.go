package shop

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:shop_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, NewRepository(db).AutoMigrate())
	return db
}

func seedShop(t *testing.T, db *gorm.DB) {
	t.Helper()
	limit := 5
	require.NoError(t, db.Create(&Profile{
		ShopID:               "shop-1",
		ShopName:             "Coffee Corner",
		Persona:              "You are Lina, a friendly barista.",
		PrimaryLanguage:      "Arabic",
		SecondaryLanguage:    "English",
		ForbiddenTopics:      datatypes.JSON(`["politics","religion"]`),
		CommerceEnabled:      true,
		CommerceMonthlyLimit: &limit,
		PlanID:               "growth",
		OrderFlowEnabled:     true,
		ShareKnowledge:       true,
		ShareLocations:       true,
	}).Error)
	require.NoError(t, db.Create(&[]KnowledgeSection{
		{ID: "k2", ShopID: "shop-1", Kind: SectionLocations, Title: "Branches", Enabled: true, Position: 2,
			Entries: datatypes.JSON(`[{"name":"Downtown","city":"Riyadh"}]`)},
		{ID: "k1", ShopID: "shop-1", Kind: SectionText, Title: "About", Content: "Open daily.", Enabled: true, Position: 1},
	}).Error)
	require.NoError(t, db.Create(&PaymentMethod{ID: "p1", ShopID: "shop-1", Name: "Bank transfer", Enabled: true}).Error)
}

func TestRepositoryGetShopConfig(t *testing.T) {
	db := newTestDB(t)
	seedShop(t, db)
	repo := NewRepository(db)

	t.Run("组装完整快照", func(t *testing.T) {
		cfg, err := repo.GetShopConfig(context.Background(), "shop-1")
		require.NoError(t, err)

		assert.Equal(t, "shop-1", cfg.ShopID)
		assert.True(t, cfg.Commerce.Enabled)
		require.NotNil(t, cfg.Commerce.MonthlyLimit)
		assert.Equal(t, 5, *cfg.Commerce.MonthlyLimit)
		assert.True(t, cfg.OrderFlowEnabled)
		assert.False(t, cfg.Permissions.ShareCatalog)
		assert.Equal(t, []string{"politics", "religion"}, cfg.Profile.Topics())

		require.Len(t, cfg.Knowledge, 2)
		assert.Equal(t, "k1", cfg.Knowledge[0].ID)
		assert.Len(t, cfg.Knowledge[1].Locations(), 1)
		assert.Len(t, cfg.PaymentMethods, 1)
	})

	t.Run("店铺不存在", func(t *testing.T) {
		_, err := repo.GetShopConfig(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrShopNotFound)
	})
}

func TestLocations(t *testing.T) {
	t.Run("非门店分段返回 nil", func(t *testing.T) {
		s := KnowledgeSection{Kind: SectionText, Entries: datatypes.JSON(`[{"name":"x"}]`)}
		assert.Nil(t, s.Locations())
	})

	t.Run("格式错误返回 nil", func(t *testing.T) {
		s := KnowledgeSection{Kind: SectionLocations, Entries: datatypes.JSON(`{"name":"x"}`)}
		assert.Nil(t, s.Locations())
	})
}

type countingReader struct {
	calls int
	cfg   *Config
}

func (r *countingReader) GetShopConfig(ctx context.Context, shopID string) (*Config, error) {
	r.calls++
	if r.cfg == nil {
		return nil, ErrShopNotFound
	}
	return r.cfg, nil
}

func TestCachedReader(t *testing.T) {
	t.Run("命中缓存不回源", func(t *testing.T) {
		src := &countingReader{cfg: &Config{ShopID: "shop-1"}}
		r := NewCachedReader(src, NewMemoryCache(time.Minute), nil)

		for i := 0; i < 3; i++ {
			cfg, err := r.GetShopConfig(context.Background(), "shop-1")
			require.NoError(t, err)
			assert.Equal(t, "shop-1", cfg.ShopID)
		}
		assert.Equal(t, 1, src.calls)
	})

	t.Run("过期后回源", func(t *testing.T) {
		src := &countingReader{cfg: &Config{ShopID: "shop-1"}}
		cache := NewMemoryCache(time.Minute)
		now := time.Now()
		cache.now = func() time.Time { return now }
		r := NewCachedReader(src, cache, nil)

		_, _ = r.GetShopConfig(context.Background(), "shop-1")
		now = now.Add(2 * time.Minute)
		_, _ = r.GetShopConfig(context.Background(), "shop-1")
		assert.Equal(t, 2, src.calls)
	})

	t.Run("回源错误不缓存", func(t *testing.T) {
		src := &countingReader{}
		r := NewCachedReader(src, NewMemoryCache(time.Minute), nil)

		_, err := r.GetShopConfig(context.Background(), "shop-1")
		assert.ErrorIs(t, err, ErrShopNotFound)
		_, err = r.GetShopConfig(context.Background(), "shop-1")
		assert.ErrorIs(t, err, ErrShopNotFound)
		assert.Equal(t, 2, src.calls)
	})
}

func TestOrderClient(t *testing.T) {
	t.Run("创建订单成功", func(t *testing.T) {
		var got map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/shops/shop-1/orders", r.URL.Path)
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			_ = json.NewDecoder(r.Body).Decode(&got)
			_ = json.NewEncoder(w).Encode(OrderOutcome{Success: true, OrderID: "ORD-1"})
		}))
		defer srv.Close()

		c := NewOrderClient(srv.URL, "secret", time.Second, nil)
		out := c.CreateOrder(context.Background(), "shop-1", "conv-1", map[string]any{"items": "latte"})

		assert.True(t, out.Success)
		assert.Equal(t, "ORD-1", out.OrderID)
		assert.Equal(t, "conv-1", got["conversationId"])
	})

	t.Run("服务端错误转为软失败", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/shops/shop-1/bookings", r.URL.Path)
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(OrderOutcome{Error: "slot taken"})
		}))
		defer srv.Close()

		c := NewOrderClient(srv.URL, "", time.Second, nil)
		out := c.CreateBooking(context.Background(), "shop-1", "conv-1", nil)

		assert.False(t, out.Success)
		assert.Equal(t, "slot taken", out.Error)
	})

	t.Run("服务不可达", func(t *testing.T) {
		c := NewOrderClient("http://127.0.0.1:1", "", 200*time.Millisecond, nil)
		out := c.CreateOrder(context.Background(), "shop-1", "conv-1", nil)
		assert.False(t, out.Success)
		assert.NotEmpty(t, out.Error)
	})
}

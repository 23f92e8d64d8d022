package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"salesengine/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimitByShop(t *testing.T) {
	t.Run("店铺之间互不影响", func(t *testing.T) {
		limiter := NewRateLimiter(&RateLimiterConfig{RequestsPerSecond: 0.001, BurstSize: 1})
		defer limiter.Stop()

		r := gin.New()
		r.POST("/api/shops/:shopId/respond", RateLimitByShop(limiter), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		do := func(shop string) int {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/shops/"+shop+"/respond", nil))
			return w.Code
		}

		assert.Equal(t, http.StatusOK, do("a"))
		assert.Equal(t, http.StatusTooManyRequests, do("a"))
		assert.Equal(t, http.StatusOK, do("b"))
		assert.Equal(t, 2, limiter.Size())
	})

	t.Run("默认配置", func(t *testing.T) {
		limiter := NewRateLimiter(&RateLimiterConfig{})
		defer limiter.Stop()
		for i := 0; i < 10; i++ {
			assert.True(t, limiter.Allow("k"))
		}
		assert.False(t, limiter.Allow("k"))
	})
}

func TestAdminToken(t *testing.T) {
	newRouter := func(token string) *gin.Engine {
		r := gin.New()
		r.GET("/admin", AdminToken(token), func(c *gin.Context) { c.Status(http.StatusOK) })
		return r
	}

	cases := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"令牌正确", "secret", "secret", http.StatusOK},
		{"令牌错误", "secret", "wrong", http.StatusUnauthorized},
		{"缺少令牌", "secret", "", http.StatusUnauthorized},
		{"未配置令牌", "", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tc.header != "" {
				req.Header.Set(HeaderAdminToken, tc.header)
			}
			w := httptest.NewRecorder()
			newRouter(tc.token).ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestRequestIDAndLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	r := gin.New()
	r.Use(RequestIDMiddleware(), RequestLogger(zap.New(core)))
	r.GET("/api/shops/:shopId/budget", func(c *gin.Context) {
		assert.Equal(t, "trace-1", logger.GetTraceID(c.Request.Context()))
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/shops/shop-1/budget", nil)
	req.Header.Set(HeaderTraceID, "trace-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
	assert.Equal(t, "trace-1", w.Header().Get(HeaderTraceID))

	entries := logs.FilterMessage("HTTP Request").All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "shop-1", fields["shop_id"])
		assert.Equal(t, "trace-1", fields["trace_id"])
	}
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/x", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

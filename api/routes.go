package api

import (
	"salesengine/internal/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册所有 API 路由
func RegisterRoutes(router *gin.Engine, container *AppContainer, h *Handlers) {
	apiGroup := router.Group("/api")

	shops := apiGroup.Group("/shops/:shopId")
	{
		shops.POST("/conversations/:conversationId/respond",
			middleware.RateLimitByShop(container.RateLimiter), h.Assistant.Respond)
		shops.POST("/conversations/:conversationId/suggestions",
			middleware.RateLimitByShop(container.RateLimiter), h.Assistant.Suggestions)
		shops.POST("/products/describe",
			middleware.RateLimitByShop(container.RateLimiter), h.Assistant.Describe)
		shops.POST("/products/image-edit",
			middleware.RateLimitByShop(container.RateLimiter), h.Assistant.EditImage)

		shops.GET("/budget", h.Budget.GetStatus)
		shops.PUT("/budget", h.Budget.UpdateSettings)
	}

	admin := apiGroup.Group("/admin", middleware.AdminToken(container.Config.Admin.Token))
	{
		admin.GET("/ledger/export", h.Ledger.Export)
		admin.DELETE("/ledger", h.Ledger.Clear)
	}
}

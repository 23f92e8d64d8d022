package budget

import (
	"context"
	"errors"
	"net/http"

	"salesengine/api/handlers/common"
	budgetSvc "salesengine/internal/budget"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Service 预算服务抽象
type Service interface {
	GetStatus(ctx context.Context, shopID string) (*budgetSvc.Status, error)
	UpdateSettings(ctx context.Context, shopID string, patch budgetSvc.SettingsPatch) (*budgetSvc.Budget, error)
}

// Handler 店铺预算 Handler
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler 创建 Handler
func NewHandler(service Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

// GetStatus 查询预算状态
// @Summary 查询店铺预算
// @Tags Budget
// @Produce json
// @Router /api/shops/{shopId}/budget [get]
func (h *Handler) GetStatus(c *gin.Context) {
	status, err := h.service.GetStatus(c.Request.Context(), c.Param("shopId"))
	if err != nil {
		h.logger.Error("查询预算失败", zap.String("shop_id", c.Param("shopId")), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	common.OK(c, http.StatusOK, status)
}

// UpdateSettings 更新预算设置，未提供的字段保持不变
// @Summary 更新店铺预算
// @Tags Budget
// @Accept json
// @Produce json
// @Router /api/shops/{shopId}/budget [put]
func (h *Handler) UpdateSettings(c *gin.Context) {
	var patch budgetSvc.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		common.Fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	shopID := c.Param("shopId")
	if _, err := h.service.UpdateSettings(c.Request.Context(), shopID, patch); err != nil {
		if errors.Is(err, budgetSvc.ErrInvalidSettings) {
			common.Fail(c, http.StatusBadRequest, "invalid_settings", "budgets must be non-negative and the alert threshold within (0, 100]")
			return
		}
		h.logger.Error("更新预算失败", zap.String("shop_id", shopID), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	status, err := h.service.GetStatus(c.Request.Context(), shopID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	common.OK(c, http.StatusOK, status)
}

package shop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OrderOutcome 下单/预约结果，失败时不返回 error
type OrderOutcome struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OrderAPI 订单/预约副作用接口
type OrderAPI interface {
	CreateOrder(ctx context.Context, shopID, conversationID string, args map[string]any) OrderOutcome
	CreateBooking(ctx context.Context, shopID, conversationID string, args map[string]any) OrderOutcome
}

// OrderClient 调用控制台订单服务
type OrderClient struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.Logger
}

// NewOrderClient 创建订单服务客户端
func NewOrderClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *OrderClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// CreateOrder 创建订单
func (c *OrderClient) CreateOrder(ctx context.Context, shopID, conversationID string, args map[string]any) OrderOutcome {
	return c.post(ctx, fmt.Sprintf("%s/shops/%s/orders", c.baseURL, shopID), conversationID, args)
}

// CreateBooking 创建预约
func (c *OrderClient) CreateBooking(ctx context.Context, shopID, conversationID string, args map[string]any) OrderOutcome {
	return c.post(ctx, fmt.Sprintf("%s/shops/%s/bookings", c.baseURL, shopID), conversationID, args)
}

func (c *OrderClient) post(ctx context.Context, url, conversationID string, args map[string]any) OrderOutcome {
	payload := map[string]any{
		"conversationId": conversationID,
		"details":        args,
		"source":         "assistant",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return OrderOutcome{Error: "invalid order details"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return OrderOutcome{Error: "failed to build order request"}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("订单服务调用失败", zap.String("url", url), zap.Error(err))
		return OrderOutcome{Error: "order service unreachable"}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var out OrderOutcome
	if err := json.Unmarshal(respBody, &out); err != nil {
		out = OrderOutcome{}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("订单服务返回错误",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
			zap.String("error", out.Error),
		)
		if out.Error == "" {
			out.Error = fmt.Sprintf("order service returned HTTP %d", resp.StatusCode)
		}
		out.Success = false
		return out
	}

	if out.Success && out.OrderID == "" {
		return OrderOutcome{Error: "order service returned no order id"}
	}
	return out
}

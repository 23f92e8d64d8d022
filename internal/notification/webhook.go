package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"salesengine/internal/budget"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WebhookConfig Webhook 配置
type WebhookConfig struct {
	URL     string
	Secret  string // HMAC 签名密钥，为空时不签名
	Timeout time.Duration
}

// WebhookEvent Webhook 事件
type WebhookEvent struct {
	ID        string       `json:"id"`
	Type      string       `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   budget.Alert `json:"payload"`
}

// WebhookNotifier 以 Webhook 投递预算告警
// 失败时返回错误，由任务队列负责重试
type WebhookNotifier struct {
	config WebhookConfig
	client *http.Client
	logger *zap.Logger
}

// NewWebhookNotifier 创建 Webhook 通知器，未配置 URL 时返回 nil
func NewWebhookNotifier(config WebhookConfig, logger *zap.Logger) *WebhookNotifier {
	if config.URL == "" {
		return nil
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookNotifier{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}
}

// Notify 发送告警
func (w *WebhookNotifier) Notify(ctx context.Context, alert budget.Alert) error {
	event := WebhookEvent{
		ID:        "evt_" + uuid.NewString(),
		Type:      EventBudgetAlert,
		Timestamp: time.Now().UTC(),
		Payload:   alert,
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化 Webhook 事件失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("创建 Webhook 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "SalesEngine-Webhook/1.0")
	req.Header.Set("X-Webhook-ID", event.ID)
	req.Header.Set("X-Webhook-Event", event.Type)
	req.Header.Set("X-Webhook-Timestamp", event.Timestamp.Format(time.RFC3339))
	if w.config.Secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(body, w.config.Secret))
	}

	start := time.Now()
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送 Webhook 失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 10*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Webhook 返回状态码 %d: %s", resp.StatusCode, string(respBody))
	}

	w.logger.Debug("Webhook 已投递",
		zap.String("event_id", event.ID),
		zap.String("shop_id", alert.ShopID),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Sign 计算 HMAC-SHA256 签名，格式为 sha256=<hex>
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

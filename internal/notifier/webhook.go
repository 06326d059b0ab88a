package notifier

import (
	"context"
	"fmt"
	"time"

	"wisefido-risk/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookResponse 通知网关响应
type WebhookResponse struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
}

// WebhookNotifier 通过 HTTP 网关投递 email/sms 通知
type WebhookNotifier struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// NewWebhookNotifier 创建网关通知客户端
func NewWebhookNotifier(url string, timeout time.Duration, retries int, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	return &WebhookNotifier{
		httpClient: client,
		url:        url,
		logger:     logger,
	}
}

func (w *WebhookNotifier) Notify(ctx context.Context, n models.Notification) error {
	var response WebhookResponse
	resp, err := w.httpClient.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", idempotencyKey(n)).
		SetBody(n).
		SetResult(&response).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("failed to call notification gateway: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notification gateway returned HTTP %d", resp.StatusCode())
	}
	if response.Status != 0 {
		return fmt.Errorf("notification gateway error: %s (status: %d)", response.Msg, response.Status)
	}

	w.logger.Debug("Notification delivered to gateway",
		zap.String("alert_id", n.AlertID),
		zap.String("channel", string(n.Channel)),
	)
	return nil
}

// idempotencyKey 同一报警、同一升级级别、同一渠道和联系人只投递一次
func idempotencyKey(n models.Notification) string {
	return fmt.Sprintf("%s:%s:%d:%s:%s", n.AlertID, n.Reason, n.EscalationLevel, n.Channel, n.Recipient)
}

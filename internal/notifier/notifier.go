package notifier

import (
	"context"
	"errors"
	"fmt"

	"wisefido-risk/internal/metrics"
	"wisefido-risk/internal/models"

	"go.uber.org/zap"
)

// ErrNoRoute 渠道未配置投递方式
var ErrNoRoute = errors.New("no notifier configured for channel")

// Notifier 通知投递（引擎只负责交付，送达由下游系统保证）
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// NotifierFunc 函数适配
type NotifierFunc func(ctx context.Context, n models.Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n models.Notification) error {
	return f(ctx, n)
}

// ChannelRouter 按渠道分发通知
// 投递失败只记录指标并返回错误，由调用方记录日志
type ChannelRouter struct {
	routes   map[models.Channel]Notifier
	fallback Notifier
}

// NewChannelRouter 创建渠道路由；fallback 用于未配置的渠道，可为 nil
func NewChannelRouter(fallback Notifier) *ChannelRouter {
	return &ChannelRouter{
		routes:   make(map[models.Channel]Notifier),
		fallback: fallback,
	}
}

// Route 注册渠道的投递方式（启动时调用）
func (r *ChannelRouter) Route(channel models.Channel, n Notifier) *ChannelRouter {
	r.routes[channel] = n
	return r
}

// Notify 投递单条通知
func (r *ChannelRouter) Notify(ctx context.Context, n models.Notification) error {
	target, ok := r.routes[n.Channel]
	if !ok {
		target = r.fallback
	}
	if target == nil {
		metrics.RecordNotification(string(n.Channel), string(n.Reason), metrics.ResultError)
		return fmt.Errorf("%w: %s", ErrNoRoute, n.Channel)
	}

	if err := target.Notify(ctx, n); err != nil {
		metrics.RecordNotification(string(n.Channel), string(n.Reason), metrics.ResultError)
		return err
	}

	metrics.RecordNotification(string(n.Channel), string(n.Reason), metrics.ResultOK)
	return nil
}

// LogNotifier 仅记录日志（未配置网关时使用）
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier 创建日志通知
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, n models.Notification) error {
	l.logger.Info("Notification dispatched",
		zap.String("alert_id", n.AlertID),
		zap.String("subject_id", n.SubjectID),
		zap.String("channel", string(n.Channel)),
		zap.String("recipient", string(n.Recipient)),
		zap.String("urgency", string(n.Urgency)),
		zap.String("reason", string(n.Reason)),
		zap.Int("escalation_level", n.EscalationLevel),
	)
	return nil
}

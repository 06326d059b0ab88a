package notifier

import (
	"context"
	"fmt"
	"strings"

	"wisefido-risk/internal/models"
)

// Publisher MQTT 发布接口（由 internal/mqtt.Client 实现）
type Publisher interface {
	PublishJSON(topic string, v interface{}) error
}

// MQTTNotifier 应用内通知：发布到 {prefix}/{channel}/{recipient}
type MQTTNotifier struct {
	publisher   Publisher
	topicPrefix string
}

// NewMQTTNotifier 创建应用内通知
func NewMQTTNotifier(publisher Publisher, topicPrefix string) *MQTTNotifier {
	return &MQTTNotifier{
		publisher:   publisher,
		topicPrefix: strings.TrimSuffix(topicPrefix, "/"),
	}
}

// Topic 通知对应的主题
func (m *MQTTNotifier) Topic(n models.Notification) string {
	return m.topicPrefix + "/" + string(n.Channel) + "/" + string(n.Recipient)
}

func (m *MQTTNotifier) Notify(ctx context.Context, n models.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.publisher.PublishJSON(m.Topic(n), n); err != nil {
		return fmt.Errorf("failed to publish in-app notification: %w", err)
	}
	return nil
}

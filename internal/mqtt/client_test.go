package mqtt

import (
	"testing"

	"wisefido-risk/internal/config"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNewClient_UnreachableBroker(t *testing.T) {
	cfg := &config.MQTTConfig{Broker: "tcp://127.0.0.1:1", ClientID: "test"}

	client, err := NewClient(cfg, zap.NewNop())
	assert.Error(t, err)
	assert.Nil(t, client)
}

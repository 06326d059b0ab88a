package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"wisefido-risk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleNotification(channel models.Channel) models.Notification {
	return models.Notification{
		AlertID:   "a1",
		SubjectID: "subject-1",
		Level:     models.RiskCritical,
		Urgency:   models.UrgencyImmediate,
		Channel:   channel,
		Recipient: models.ContactPrimaryResponder,
		Reason:    models.NotifyInitial,
		Message:   "Critical risk alert",
		CreatedAt: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestChannelRouter_Routes(t *testing.T) {
	var email, inApp, fallback int
	router := NewChannelRouter(NotifierFunc(func(context.Context, models.Notification) error {
		fallback++
		return nil
	})).
		Route(models.ChannelEmail, NotifierFunc(func(context.Context, models.Notification) error {
			email++
			return nil
		})).
		Route(models.ChannelInApp, NotifierFunc(func(context.Context, models.Notification) error {
			inApp++
			return nil
		}))

	ctx := context.Background()
	require.NoError(t, router.Notify(ctx, sampleNotification(models.ChannelEmail)))
	require.NoError(t, router.Notify(ctx, sampleNotification(models.ChannelInApp)))
	require.NoError(t, router.Notify(ctx, sampleNotification(models.ChannelSMS)))

	assert.Equal(t, 1, email)
	assert.Equal(t, 1, inApp)
	assert.Equal(t, 1, fallback)
}

func TestChannelRouter_NoRouteAndFailure(t *testing.T) {
	router := NewChannelRouter(nil).
		Route(models.ChannelEmail, NotifierFunc(func(context.Context, models.Notification) error {
			return errors.New("smtp down")
		}))

	err := router.Notify(context.Background(), sampleNotification(models.ChannelSMS))
	assert.ErrorIs(t, err, ErrNoRoute)

	err = router.Notify(context.Background(), sampleNotification(models.ChannelEmail))
	assert.ErrorContains(t, err, "smtp down")
}

func TestWebhookNotifier_Success(t *testing.T) {
	var got models.Notification
	var key string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":0,"msg":"ok"}`))
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, time.Second, 0, zap.NewNop())
	require.NoError(t, n.Notify(context.Background(), sampleNotification(models.ChannelSMS)))

	assert.Equal(t, "a1", got.AlertID)
	assert.Equal(t, models.ChannelSMS, got.Channel)
	assert.Equal(t, "a1:initial:0:sms:primary_responder", key)
}

func TestWebhookNotifier_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":0}`))
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, time.Second, 2, zap.NewNop())
	require.NoError(t, n.Notify(context.Background(), sampleNotification(models.ChannelEmail)))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestWebhookNotifier_Errors(t *testing.T) {
	t.Run("client error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		n := NewWebhookNotifier(server.URL, time.Second, 0, zap.NewNop())
		assert.ErrorContains(t, n.Notify(context.Background(), sampleNotification(models.ChannelEmail)), "HTTP 400")
	})

	t.Run("gateway status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":7,"msg":"unknown recipient"}`))
		}))
		defer server.Close()

		n := NewWebhookNotifier(server.URL, time.Second, 0, zap.NewNop())
		assert.ErrorContains(t, n.Notify(context.Background(), sampleNotification(models.ChannelEmail)), "unknown recipient")
	})
}

type fakePublisher struct {
	topic   string
	payload interface{}
	err     error
}

func (f *fakePublisher) PublishJSON(topic string, v interface{}) error {
	f.topic = topic
	f.payload = v
	return f.err
}

func TestMQTTNotifier(t *testing.T) {
	pub := &fakePublisher{}
	n := NewMQTTNotifier(pub, "wisefido/risk/notify/")

	require.NoError(t, n.Notify(context.Background(), sampleNotification(models.ChannelInApp)))
	assert.Equal(t, "wisefido/risk/notify/in_app/primary_responder", pub.topic)
	assert.Equal(t, "a1", pub.payload.(models.Notification).AlertID)

	pub.err = errors.New("not connected")
	assert.ErrorContains(t, n.Notify(context.Background(), sampleNotification(models.ChannelInApp)), "not connected")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.Notify(ctx, sampleNotification(models.ChannelInApp)), context.Canceled)
}

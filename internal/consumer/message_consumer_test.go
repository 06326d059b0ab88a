package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"wisefido-risk/internal/models"
	rediscommon "wisefido-risk/internal/redis"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scoredCall struct {
	subjectID string
	text      string
	history   []string
}

type fakeScorer struct {
	mu        sync.Mutex
	calls     []scoredCall
	err       error
	failTimes int // 前 failTimes 次返回持久化错误
	alert     bool
}

func (f *fakeScorer) ScoreMessage(_ context.Context, subjectID, text string, history []string) (models.RiskSignal, *models.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scoredCall{subjectID: subjectID, text: text, history: append([]string(nil), history...)})
	if f.failTimes > 0 {
		f.failTimes--
		return models.RiskSignal{}, nil, fmt.Errorf("%w: connection reset", models.ErrPersistence)
	}
	if f.err != nil {
		return models.RiskSignal{}, nil, f.err
	}
	signal := models.RiskSignal{Score: 10, Level: models.RiskLow}
	if f.alert {
		return models.RiskSignal{Score: 85, Level: models.RiskCritical}, &models.Alert{AlertID: "a-1"}, nil
	}
	return signal, nil, nil
}

func (f *fakeScorer) Calls() []scoredCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scoredCall(nil), f.calls...)
}

func newTestConsumer(t *testing.T, client *redis.Client, scorer MessageScorer) *MessageConsumer {
	t.Helper()
	c := NewMessageConsumer(client, scorer, MessageConsumerOptions{
		Stream:      "risk:chat:messages",
		Group:       "wisefido-risk",
		Consumer:    "test-consumer",
		BatchSize:   10,
		HistoryKey:  "risk:history:",
		HistorySize: 3,
	}, zap.NewNop())
	require.NoError(t, rediscommon.CreateConsumerGroup(context.Background(), client, "risk:chat:messages", "wisefido-risk"))
	return c
}

func publishChat(t *testing.T, client *redis.Client, msg ChatMessage) {
	t.Helper()
	_, err := rediscommon.PublishJSONToStream(context.Background(), client, "risk:chat:messages", msg)
	require.NoError(t, err)
}

func pendingCount(t *testing.T, client *redis.Client) int64 {
	t.Helper()
	p, err := client.XPending(context.Background(), "risk:chat:messages", "wisefido-risk").Result()
	require.NoError(t, err)
	return p.Count
}

func TestMessageConsumer_ScoresWithHistory(t *testing.T) {
	_, client := setupTestRedis(t)
	scorer := &fakeScorer{}
	c := newTestConsumer(t, client, scorer)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		publishChat(t, client, ChatMessage{SubjectID: "subject-1", Text: fmt.Sprintf("message %d", i)})
	}

	n, err := c.ConsumeOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	calls := scorer.Calls()
	require.Len(t, calls, 5)
	assert.Empty(t, calls[0].history)
	assert.Equal(t, []string{"message 1"}, calls[1].history)
	// 历史长度受 HistorySize 限制
	assert.Equal(t, []string{"message 2", "message 3", "message 4"}, calls[4].history)

	history, err := c.History(ctx, "subject-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"message 3", "message 4", "message 5"}, history)

	assert.Equal(t, int64(0), pendingCount(t, client))
}

func TestMessageConsumer_SkipsInvalidMessages(t *testing.T) {
	_, client := setupTestRedis(t)
	scorer := &fakeScorer{}
	c := newTestConsumer(t, client, scorer)
	ctx := context.Background()

	_, err := rediscommon.PublishToStream(ctx, client, "risk:chat:messages", map[string]interface{}{"data": "{broken"})
	require.NoError(t, err)
	_, err = rediscommon.PublishToStream(ctx, client, "risk:chat:messages", map[string]interface{}{"other": "x"})
	require.NoError(t, err)
	publishChat(t, client, ChatMessage{SubjectID: "", Text: "hello there"})
	publishChat(t, client, ChatMessage{SubjectID: "subject-1", Role: "assistant", Text: "how are you feeling?"})

	n, err := c.ConsumeOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Empty(t, scorer.Calls())
	assert.Equal(t, int64(0), pendingCount(t, client))
}

func TestMessageConsumer_InvalidInputAcked(t *testing.T) {
	_, client := setupTestRedis(t)
	scorer := &fakeScorer{err: fmt.Errorf("%w: text too long", models.ErrInvalidInput)}
	c := newTestConsumer(t, client, scorer)

	publishChat(t, client, ChatMessage{SubjectID: "subject-1", Text: "very long text"})

	n, err := c.ConsumeOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(0), pendingCount(t, client))
}

func TestMessageConsumer_TransientErrorLeavesPending(t *testing.T) {
	_, client := setupTestRedis(t)
	scorer := &fakeScorer{err: fmt.Errorf("%w: connection refused", models.ErrPersistence)}
	c := newTestConsumer(t, client, scorer)
	ctx := context.Background()

	publishChat(t, client, ChatMessage{SubjectID: "subject-1", Text: "i have a plan for tonight"})

	n, err := c.ConsumeOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(1), pendingCount(t, client))

	history, err := c.History(ctx, "subject-1")
	require.NoError(t, err)
	assert.Empty(t, history)

	// 恢复后重新处理 pending
	scorer.mu.Lock()
	scorer.err = nil
	scorer.alert = true
	scorer.mu.Unlock()

	failed, err := c.ConsumePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, failed)
	assert.Equal(t, int64(0), pendingCount(t, client))
	assert.Len(t, scorer.Calls(), 2)
}

func TestMessageConsumer_ConsumePendingReportsFailures(t *testing.T) {
	_, client := setupTestRedis(t)
	scorer := &fakeScorer{err: fmt.Errorf("%w: connection refused", models.ErrPersistence)}
	c := newTestConsumer(t, client, scorer)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		publishChat(t, client, ChatMessage{SubjectID: "subject-1", Text: fmt.Sprintf("message %d", i)})
	}
	_, err := c.ConsumeOnce(ctx)
	require.NoError(t, err)

	failed, err := c.ConsumePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, failed)
	// 每条 pending 消息每轮只重试一次
	assert.Len(t, scorer.Calls(), 6)
	assert.Equal(t, int64(3), pendingCount(t, client))
}

func TestMessageConsumer_StartRetriesPending(t *testing.T) {
	tests := []struct {
		name            string
		retryDelay      time.Duration
		pendingInterval time.Duration
	}{
		{"retry after failure", 20 * time.Millisecond, time.Hour},
		{"periodic pending scan", time.Hour, 30 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client := setupTestRedis(t)
			scorer := &fakeScorer{failTimes: 1, alert: true}
			c := newTestConsumer(t, client, scorer)
			c.opts.BlockTime = 10 * time.Millisecond
			c.opts.RetryDelay = tt.retryDelay
			c.opts.PendingInterval = tt.pendingInterval

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- c.Start(ctx) }()

			publishChat(t, client, ChatMessage{SubjectID: "subject-1", Text: "i have a plan for tonight"})

			// 首次失败后在运行期间重试成功
			require.Eventually(t, func() bool {
				p, err := client.XPending(context.Background(), "risk:chat:messages", "wisefido-risk").Result()
				return err == nil && p.Count == 0 && len(scorer.Calls()) == 2
			}, 2*time.Second, 10*time.Millisecond)

			history, err := c.History(context.Background(), "subject-1")
			require.NoError(t, err)
			assert.Equal(t, []string{"i have a plan for tonight"}, history)

			cancel()
			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("consumer did not stop")
			}
		})
	}
}

func TestMessageConsumer_StartStops(t *testing.T) {
	_, client := setupTestRedis(t)
	scorer := &fakeScorer{}
	c := newTestConsumer(t, client, scorer)

	publishChat(t, client, ChatMessage{SubjectID: "subject-9", Text: "feeling okay today"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool { return len(scorer.Calls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestChatMessage_JSON(t *testing.T) {
	var msg ChatMessage
	require.NoError(t, json.Unmarshal([]byte(`{"subject_id":"s1","text":"hi","role":"user","sent_at":1700000000}`), &msg))
	assert.Equal(t, "s1", msg.SubjectID)
	assert.Equal(t, int64(1700000000), msg.SentAt)
}

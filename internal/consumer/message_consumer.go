package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"wisefido-risk/internal/metrics"
	"wisefido-risk/internal/models"
	rediscommon "wisefido-risk/internal/redis"

	"go.uber.org/zap"
)

const idlePollInterval = 200 * time.Millisecond

// MessageScorer 对聊天消息评分并按需创建报警
type MessageScorer interface {
	ScoreMessage(ctx context.Context, subjectID, text string, history []string) (models.RiskSignal, *models.Alert, error)
}

// ChatMessage 聊天消息（stream 消息 data 字段的 JSON）
type ChatMessage struct {
	MessageID string `json:"message_id,omitempty"`
	SubjectID string `json:"subject_id"`
	Role      string `json:"role,omitempty"` // user | assistant，空视为 user
	Text      string `json:"text"`
	SentAt    int64  `json:"sent_at,omitempty"`
}

// MessageConsumerOptions 消费参数
type MessageConsumerOptions struct {
	Stream      string
	Group       string
	Consumer    string
	BatchSize   int64
	BlockTime   time.Duration
	HistoryKey  string // 会话历史键前缀，完整键为 prefix + subject_id
	HistorySize int
	MaxBackoff  time.Duration

	PendingInterval time.Duration // 定期重试未确认消息，默认 30秒
	RetryDelay      time.Duration // 处理失败后首次重试延迟，默认 1秒，连续失败翻倍
}

// MessageConsumer 聊天消息流消费者
// 每条用户消息结合该对象最近的消息评分，需要时创建报警
type MessageConsumer struct {
	redisClient *rediscommon.Client
	scorer      MessageScorer
	opts        MessageConsumerOptions
	logger      *zap.Logger
}

// NewMessageConsumer 创建消息消费者
func NewMessageConsumer(redisClient *rediscommon.Client, scorer MessageScorer, opts MessageConsumerOptions, logger *zap.Logger) *MessageConsumer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 6
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.PendingInterval <= 0 {
		opts.PendingInterval = 30 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &MessageConsumer{
		redisClient: redisClient,
		scorer:      scorer,
		opts:        opts,
		logger:      logger,
	}
}

// Start 启动消费者（阻塞，ctx 取消后返回）
// 未确认的消息在启动时、处理失败后和每个 PendingInterval 重新处理
func (c *MessageConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.opts.Stream, c.opts.Group); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", c.opts.Stream, err)
	}

	c.logger.Info("Chat message consumer started",
		zap.String("stream", c.opts.Stream),
		zap.String("consumer_group", c.opts.Group),
		zap.String("consumer_name", c.opts.Consumer),
	)

	nextPending := time.Now()
	retryDelay := c.opts.RetryDelay
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Chat message consumer stopped")
			return nil
		default:
		}

		if !time.Now().Before(nextPending) {
			failed, err := c.ConsumePending(ctx)
			if err != nil && ctx.Err() == nil {
				c.logger.Error("Failed to consume pending messages", zap.Error(err))
			}
			if err != nil || failed > 0 {
				nextPending = time.Now().Add(retryDelay)
				retryDelay *= 2
				if retryDelay > c.opts.MaxBackoff {
					retryDelay = c.opts.MaxBackoff
				}
			} else {
				nextPending = time.Now().Add(c.opts.PendingInterval)
				retryDelay = c.opts.RetryDelay
			}
		}

		// 阻塞读取不越过下一次 pending 重试
		block := c.opts.BlockTime
		if block > 0 {
			if until := time.Until(nextPending); until < block {
				block = until
			}
			if block < time.Millisecond {
				block = time.Millisecond
			}
		}

		n, failed, err := c.consume(ctx, block)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("Failed to consume stream",
				zap.Error(err),
				zap.Duration("backoff", backoff),
			)

			// 指数退避
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
				backoff *= 2
				if backoff > c.opts.MaxBackoff {
					backoff = c.opts.MaxBackoff
				}
			}
			continue
		}
		backoff = time.Second

		if failed > 0 {
			if retryAt := time.Now().Add(retryDelay); retryAt.Before(nextPending) {
				nextPending = retryAt
			}
		}

		// 非阻塞读取时避免空转
		if n == 0 && failed == 0 && c.opts.BlockTime <= 0 {
			select {
			case <-ctx.Done():
			case <-time.After(idlePollInterval):
			}
		}
	}
}

// ConsumeOnce 读取并处理一批新消息，返回成功处理条数
func (c *MessageConsumer) ConsumeOnce(ctx context.Context) (int, error) {
	n, _, err := c.consume(ctx, c.opts.BlockTime)
	return n, err
}

func (c *MessageConsumer) consume(ctx context.Context, block time.Duration) (int, int, error) {
	messages, err := rediscommon.ReadFromStream(ctx, c.redisClient,
		c.opts.Stream, c.opts.Group, c.opts.Consumer, c.opts.BatchSize, block)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read from stream: %w", err)
	}
	processed, failed := c.handleBatch(ctx, messages)
	return processed, failed, nil
}

// ConsumePending 逐页重试本消费者全部未确认的消息，返回仍然失败的条数
func (c *MessageConsumer) ConsumePending(ctx context.Context) (int, error) {
	after := "0"
	failed := 0
	for {
		messages, err := rediscommon.ReadPendingFromStream(ctx, c.redisClient,
			c.opts.Stream, c.opts.Group, c.opts.Consumer, after, c.opts.BatchSize)
		if err != nil {
			return failed, fmt.Errorf("failed to read pending messages: %w", err)
		}
		if len(messages) == 0 {
			return failed, nil
		}

		c.logger.Info("Reprocessing pending chat messages", zap.Int("count", len(messages)))
		_, f := c.handleBatch(ctx, messages)
		failed += f
		after = messages[len(messages)-1].ID

		if err := ctx.Err(); err != nil {
			return failed, err
		}
	}
}

// handleBatch 逐条处理；可重试的失败不确认，留在 pending 中
func (c *MessageConsumer) handleBatch(ctx context.Context, messages []rediscommon.StreamMessage) (processed, failed int) {
	for _, msg := range messages {
		if err := c.processMessage(ctx, msg); err != nil {
			failed++
			metrics.RecordMessage(metrics.ResultError)
			c.logger.Error("Failed to process chat message",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
			continue
		}
		if err := rediscommon.AckMessage(ctx, c.redisClient, c.opts.Stream, c.opts.Group, msg.ID); err != nil {
			c.logger.Warn("Failed to ack chat message",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
		}
		processed++
	}
	return processed, failed
}

// processMessage 处理单条消息
// 无法解析或内容非法的消息记录后跳过（返回 nil 以确认），只有可重试的错误返回 error
func (c *MessageConsumer) processMessage(ctx context.Context, msg rediscommon.StreamMessage) error {
	data := msg.String("data")
	if data == "" {
		metrics.RecordMessage(metrics.ResultSkipped)
		c.logger.Warn("Missing data field in chat message", zap.String("stream_id", msg.ID))
		return nil
	}

	var chat ChatMessage
	if err := json.Unmarshal([]byte(data), &chat); err != nil {
		metrics.RecordMessage(metrics.ResultSkipped)
		c.logger.Warn("Failed to parse chat message",
			zap.String("stream_id", msg.ID),
			zap.Error(err),
		)
		return nil
	}

	chat.SubjectID = strings.TrimSpace(chat.SubjectID)
	if chat.SubjectID == "" || strings.TrimSpace(chat.Text) == "" {
		metrics.RecordMessage(metrics.ResultSkipped)
		c.logger.Warn("Chat message without subject or text",
			zap.String("stream_id", msg.ID),
		)
		return nil
	}

	// 只评估用户消息
	if chat.Role != "" && chat.Role != "user" {
		metrics.RecordMessage(metrics.ResultSkipped)
		return nil
	}

	history, err := c.History(ctx, chat.SubjectID)
	if err != nil {
		return err
	}

	signal, alert, err := c.scorer.ScoreMessage(ctx, chat.SubjectID, chat.Text, history)
	if err != nil {
		if errors.Is(err, models.ErrInvalidInput) {
			metrics.RecordMessage(metrics.ResultSkipped)
			c.logger.Warn("Rejected chat message",
				zap.String("stream_id", msg.ID),
				zap.String("subject_id", chat.SubjectID),
				zap.Error(err),
			)
			return nil
		}
		return fmt.Errorf("failed to score message: %w", err)
	}

	if err := c.appendHistory(ctx, chat.SubjectID, chat.Text); err != nil {
		c.logger.Warn("Failed to append chat history",
			zap.String("subject_id", chat.SubjectID),
			zap.Error(err),
		)
	}

	metrics.RecordMessage(metrics.ResultOK)

	fields := []zap.Field{
		zap.String("stream_id", msg.ID),
		zap.String("subject_id", chat.SubjectID),
		zap.String("level", string(signal.Level)),
		zap.Int("score", signal.Score),
	}
	if alert != nil {
		c.logger.Info("Chat message raised alert", append(fields, zap.String("alert_id", alert.AlertID))...)
	} else {
		c.logger.Debug("Chat message scored", fields...)
	}
	return nil
}

// History 对象最近的用户消息（时间升序）
func (c *MessageConsumer) History(ctx context.Context, subjectID string) ([]string, error) {
	history, err := c.redisClient.LRange(ctx, c.historyKey(subjectID), int64(-c.opts.HistorySize), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}
	return history, nil
}

func (c *MessageConsumer) appendHistory(ctx context.Context, subjectID, text string) error {
	key := c.historyKey(subjectID)
	pipe := c.redisClient.TxPipeline()
	pipe.RPush(ctx, key, text)
	pipe.LTrim(ctx, key, int64(-c.opts.HistorySize), -1)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *MessageConsumer) historyKey(subjectID string) string {
	return c.opts.HistoryKey + subjectID
}

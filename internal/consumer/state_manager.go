package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rediscommon "wisefido-risk/internal/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrStateNotFound 状态键不存在
var ErrStateNotFound = errors.New("state not found")

// renewLeaseScript 仅当租约属于 owner 时续期
var renewLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseLeaseScript 仅当租约属于 owner 时释放
var releaseLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// StateManager 巡检状态管理器（分布式租约 + 巡检检查点）
type StateManager struct {
	redisClient *rediscommon.Client
	logger      *zap.Logger
}

// NewStateManager 创建状态管理器
func NewStateManager(redisClient *rediscommon.Client, logger *zap.Logger) *StateManager {
	return &StateManager{
		redisClient: redisClient,
		logger:      logger,
	}
}

// SetState 设置状态（ttl 为 0 表示不过期）
func (s *StateManager) SetState(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := s.redisClient.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set state: %w", err)
	}
	return nil
}

// GetState 获取状态
func (s *StateManager) GetState(ctx context.Context, key string, dest interface{}) error {
	val, err := s.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rediscommon.Nil) {
			return fmt.Errorf("%w: %s", ErrStateNotFound, key)
		}
		return fmt.Errorf("failed to get state: %w", err)
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return nil
}

// DeleteState 删除状态
func (s *StateManager) DeleteState(ctx context.Context, key string) error {
	if err := s.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// AcquireLease 获取或续期租约（SET NX PX）
// 返回 false 表示租约由其他实例持有
func (s *StateManager) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.redisClient.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if ok {
		return true, nil
	}

	renewed, err := renewLeaseScript.Run(ctx, s.redisClient, []string{key}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to renew lease: %w", err)
	}
	return renewed == 1, nil
}

// ReleaseLease 释放自己持有的租约
func (s *StateManager) ReleaseLease(ctx context.Context, key, owner string) error {
	if err := releaseLeaseScript.Run(ctx, s.redisClient, []string{key}, owner).Err(); err != nil && !errors.Is(err, rediscommon.Nil) {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// LeaseOwner 当前租约持有者（无人持有返回空字符串）
func (s *StateManager) LeaseOwner(ctx context.Context, key string) (string, error) {
	owner, err := s.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rediscommon.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get lease owner: %w", err)
	}
	return owner, nil
}

// SweepCheckpoint 最近一次完成的巡检
type SweepCheckpoint struct {
	Owner      string    `json:"owner"`
	SweptAt    time.Time `json:"swept_at"`
	Checked    int       `json:"checked"`
	Escalated  int       `json:"escalated"`
	Failed     int       `json:"failed"`
	DurationMs int64     `json:"duration_ms"`
}

// SaveCheckpoint 保存巡检检查点（不过期）
func (s *StateManager) SaveCheckpoint(ctx context.Context, key string, cp SweepCheckpoint) error {
	return s.SetState(ctx, key, cp, 0)
}

// LoadCheckpoint 读取巡检检查点
func (s *StateManager) LoadCheckpoint(ctx context.Context, key string) (*SweepCheckpoint, error) {
	var cp SweepCheckpoint
	if err := s.GetState(ctx, key, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

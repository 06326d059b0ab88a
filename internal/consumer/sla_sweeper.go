package consumer

import (
	"context"
	"fmt"
	"time"

	"wisefido-risk/internal/metrics"
	"wisefido-risk/internal/models"

	"go.uber.org/zap"
)

// SweepRunner 执行一次 SLA 巡检
type SweepRunner interface {
	RunSweep(ctx context.Context, now time.Time) (*models.SweepReport, error)
}

// SweeperOptions 巡检调度参数
type SweeperOptions struct {
	Interval      time.Duration
	LeaseTTL      time.Duration
	ShutdownGrace time.Duration
	LeaseKey      string
	CheckpointKey string
	Owner         string // 本实例标识（租约持有者）
	Now           func() time.Time
}

// SLASweeper 定时触发 SLA 巡检
// 多实例部署时通过 Redis 租约保证同一时刻只有一个实例巡检；state 为 nil 时单实例运行
type SLASweeper struct {
	runner SweepRunner
	state  *StateManager
	opts   SweeperOptions
	logger *zap.Logger
}

// NewSLASweeper 创建巡检调度器
func NewSLASweeper(runner SweepRunner, state *StateManager, opts SweeperOptions, logger *zap.Logger) *SLASweeper {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.LeaseTTL < opts.Interval {
		opts.LeaseTTL = 2 * opts.Interval
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SLASweeper{
		runner: runner,
		state:  state,
		opts:   opts,
		logger: logger,
	}
}

// Start 启动巡检循环（阻塞，ctx 取消后返回）
func (s *SLASweeper) Start(ctx context.Context) error {
	s.logger.Info("SLA sweeper started",
		zap.Duration("interval", s.opts.Interval),
		zap.String("owner", s.opts.Owner),
		zap.Bool("leased", s.state != nil),
	)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	// 立即执行一次
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("Failed to run SLA sweep on startup", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			s.release()
			s.logger.Info("SLA sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("Failed to run SLA sweep", zap.Error(err))
				// 继续执行，不中断
			}
		}
	}
}

// RunOnce 执行一次巡检；未取得租约时返回 nil 报告
// ctx 取消后在途巡检继续运行，最多再等待 ShutdownGrace
func (s *SLASweeper) RunOnce(ctx context.Context) (*models.SweepReport, error) {
	if ctx.Err() != nil {
		return nil, nil
	}

	if s.state != nil {
		held, err := s.state.AcquireLease(ctx, s.opts.LeaseKey, s.opts.Owner, s.opts.LeaseTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire sweep lease: %w", err)
		}
		if !held {
			metrics.RecordSweepSkipped()
			s.logger.Debug("Sweep lease held by another instance, skipping",
				zap.String("lease_key", s.opts.LeaseKey),
			)
			return nil, nil
		}
	}

	sweepCtx, cancel := s.detach(ctx)
	defer cancel()

	start := time.Now()
	now := s.opts.Now()
	report, err := s.runner.RunSweep(sweepCtx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to run sweep: %w", err)
	}

	if s.state != nil {
		cp := SweepCheckpoint{
			Owner:      s.opts.Owner,
			SweptAt:    now,
			Checked:    report.Checked,
			Escalated:  len(report.Escalated),
			Failed:     report.Failed,
			DurationMs: time.Since(start).Milliseconds(),
		}
		if err := s.state.SaveCheckpoint(sweepCtx, s.opts.CheckpointKey, cp); err != nil {
			s.logger.Warn("Failed to save sweep checkpoint", zap.Error(err))
		}
	}

	return report, nil
}

// detach 返回不随 parent 立即取消的 ctx：parent 取消后再给 ShutdownGrace
func (s *SLASweeper) detach(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() {
		time.AfterFunc(s.opts.ShutdownGrace, cancel)
	})
	return ctx, func() {
		stop()
		cancel()
	}
}

// release 停止时释放租约，其他实例可立即接手
func (s *SLASweeper) release() {
	if s.state == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.state.ReleaseLease(ctx, s.opts.LeaseKey, s.opts.Owner); err != nil {
		s.logger.Warn("Failed to release sweep lease", zap.Error(err))
	}
}

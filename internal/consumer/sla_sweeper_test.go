package consumer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wisefido-risk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []time.Time
	run   func(ctx context.Context) error
}

func (f *fakeRunner) RunSweep(ctx context.Context, now time.Time) (*models.SweepReport, error) {
	f.mu.Lock()
	f.calls = append(f.calls, now)
	f.mu.Unlock()

	if f.run != nil {
		if err := f.run(ctx); err != nil {
			return nil, err
		}
	}
	return &models.SweepReport{Checked: 3, Escalated: []*models.Alert{{AlertID: "a-1"}}}, nil
}

func (f *fakeRunner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var sweepAt = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func sweeperOptions(owner string) SweeperOptions {
	return SweeperOptions{
		Interval:      time.Minute,
		LeaseTTL:      2 * time.Minute,
		ShutdownGrace: time.Second,
		LeaseKey:      "risk:sweep:lease",
		CheckpointKey: "risk:sweep:checkpoint",
		Owner:         owner,
		Now:           func() time.Time { return sweepAt },
	}
}

func TestSLASweeper_RunOnceWithLease(t *testing.T) {
	_, client := setupTestRedis(t)
	sm := NewStateManager(client, zap.NewNop())
	ctx := context.Background()

	runnerA := &fakeRunner{}
	runnerB := &fakeRunner{}
	a := NewSLASweeper(runnerA, sm, sweeperOptions("node-a"), zap.NewNop())
	b := NewSLASweeper(runnerB, sm, sweeperOptions("node-b"), zap.NewNop())

	report, err := a.RunOnce(ctx)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Len(t, report.Escalated, 1)

	// 另一实例跳过
	report, err = b.RunOnce(ctx)
	require.NoError(t, err)
	assert.Nil(t, report)
	assert.Equal(t, 0, runnerB.Calls())

	// 持有者下一轮继续巡检
	_, err = a.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, runnerA.Calls())

	cp, err := sm.LoadCheckpoint(ctx, "risk:sweep:checkpoint")
	require.NoError(t, err)
	assert.Equal(t, "node-a", cp.Owner)
	assert.True(t, sweepAt.Equal(cp.SweptAt))
	assert.Equal(t, 3, cp.Checked)
	assert.Equal(t, 1, cp.Escalated)
}

func TestSLASweeper_WithoutLease(t *testing.T) {
	runner := &fakeRunner{}
	s := NewSLASweeper(runner, nil, sweeperOptions("solo"), zap.NewNop())

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, 1, runner.Calls())
}

func TestSLASweeper_RunnerError(t *testing.T) {
	runner := &fakeRunner{run: func(context.Context) error { return errors.New("store down") }}
	s := NewSLASweeper(runner, nil, sweeperOptions("solo"), zap.NewNop())

	_, err := s.RunOnce(context.Background())
	assert.ErrorContains(t, err, "store down")
}

func TestSLASweeper_InFlightSweepSurvivesCancel(t *testing.T) {
	started := make(chan struct{})
	var sawCancel atomic.Bool

	parent, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{run: func(ctx context.Context) error {
		close(started)
		cancel()
		// 父 ctx 已取消，巡检 ctx 在宽限期内仍然有效
		select {
		case <-ctx.Done():
			sawCancel.Store(true)
		case <-time.After(50 * time.Millisecond):
		}
		return nil
	}}

	s := NewSLASweeper(runner, nil, sweeperOptions("solo"), zap.NewNop())
	report, err := s.RunOnce(parent)
	<-started
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.False(t, sawCancel.Load())
}

func TestSLASweeper_GraceExpires(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	opts := sweeperOptions("solo")
	opts.ShutdownGrace = 20 * time.Millisecond

	runner := &fakeRunner{run: func(ctx context.Context) error {
		cancel()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	}}

	s := NewSLASweeper(runner, nil, opts, zap.NewNop())
	start := time.Now()
	_, err := s.RunOnce(parent)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSLASweeper_StartStopReleasesLease(t *testing.T) {
	_, client := setupTestRedis(t)
	sm := NewStateManager(client, zap.NewNop())

	runner := &fakeRunner{}
	s := NewSLASweeper(runner, sm, sweeperOptions("node-a"), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return runner.Calls() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}

	owner, err := sm.LeaseOwner(context.Background(), "risk:sweep:lease")
	require.NoError(t, err)
	assert.Equal(t, "", owner)
}

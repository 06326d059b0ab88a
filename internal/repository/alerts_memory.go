package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"wisefido-risk/internal/models"
)

// memoryAlertEntry 单条报警及其锁（不同报警之间互不阻塞）
type memoryAlertEntry struct {
	mu    sync.Mutex
	alert *models.Alert
}

// MemoryAlertsRepository 内存报警仓库（单实例部署和测试使用）
// 存取均为深拷贝，调用方持有的对象不会与存储共享
type MemoryAlertsRepository struct {
	entries sync.Map // alert_id -> *memoryAlertEntry
}

// NewMemoryAlertsRepository 创建内存报警仓库
func NewMemoryAlertsRepository() *MemoryAlertsRepository {
	return &MemoryAlertsRepository{}
}

func (r *MemoryAlertsRepository) CreateAlert(_ context.Context, alert *models.Alert) error {
	if alert == nil || alert.AlertID == "" {
		return fmt.Errorf("%w: alert is required", models.ErrInvalidInput)
	}

	entry := &memoryAlertEntry{alert: alert.Clone()}
	if _, loaded := r.entries.LoadOrStore(alert.AlertID, entry); loaded {
		return fmt.Errorf("%w: duplicate alert_id=%s", models.ErrPersistence, alert.AlertID)
	}
	return nil
}

func (r *MemoryAlertsRepository) entry(alertID string) (*memoryAlertEntry, error) {
	v, ok := r.entries.Load(alertID)
	if !ok {
		return nil, fmt.Errorf("%w: alert_id=%s", models.ErrAlertNotFound, alertID)
	}
	return v.(*memoryAlertEntry), nil
}

func (r *MemoryAlertsRepository) GetAlert(_ context.Context, alertID string) (*models.Alert, error) {
	e, err := r.entry(alertID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alert.Clone(), nil
}

func (r *MemoryAlertsRepository) UpdateAlert(_ context.Context, alert *models.Alert, expectedState models.AlertState, expectedVersion int64) error {
	if alert == nil || alert.AlertID == "" {
		return fmt.Errorf("%w: alert is required", models.ErrInvalidInput)
	}

	e, err := r.entry(alert.AlertID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.alert.State != expectedState || e.alert.Version != expectedVersion {
		return fmt.Errorf("%w: alert_id=%s expected state=%s version=%d",
			models.ErrStaleState, alert.AlertID, expectedState, expectedVersion)
	}
	e.alert = alert.Clone()
	return nil
}

// snapshot 遍历时逐条加锁拷贝
func (r *MemoryAlertsRepository) snapshot(keep func(*models.Alert) bool) []*models.Alert {
	out := make([]*models.Alert, 0)
	r.entries.Range(func(_, v interface{}) bool {
		e := v.(*memoryAlertEntry)
		e.mu.Lock()
		if keep(e.alert) {
			out = append(out, e.alert.Clone())
		}
		e.mu.Unlock()
		return true
	})
	return out
}

func (r *MemoryAlertsRepository) ListAlerts(_ context.Context, filters AlertFilters, page, size int) ([]*models.Alert, int, error) {
	page, size = normalizePage(page, size)

	matched := r.snapshot(filters.Matches)
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].AlertID < matched[j].AlertID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (page - 1) * size
	if start >= total {
		return []*models.Alert{}, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *MemoryAlertsRepository) ListActiveAlerts(_ context.Context) ([]*models.Alert, int, error) {
	active := r.snapshot(func(a *models.Alert) bool {
		return (a.State == models.AlertOpen || a.State == models.AlertEscalated) && a.Policy.EscalationSLA != nil
	})
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active, 0, nil
}

package repository

import (
	"context"
	"time"

	"wisefido-risk/internal/models"
)

// AlertFilters 报警过滤条件
type AlertFilters struct {
	SubjectID     *string             // 对象ID
	States        []models.AlertState // 状态列表（IN 查询）
	Levels        []models.RiskLevel  // 触发等级列表（IN 查询）
	CreatedAfter  *time.Time          // created_at >= CreatedAfter
	CreatedBefore *time.Time          // created_at <= CreatedBefore
}

// AlertStore 报警存储
// UpdateAlert 为条件写：仅当存储中的 (state, version) 与 expected 一致时写入，否则返回 ErrStaleState
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *models.Alert) error
	GetAlert(ctx context.Context, alertID string) (*models.Alert, error)
	ListAlerts(ctx context.Context, filters AlertFilters, page, size int) ([]*models.Alert, int, error)
	// ListActiveAlerts 返回巡检候选及无法解码的行数
	ListActiveAlerts(ctx context.Context) ([]*models.Alert, int, error)
	UpdateAlert(ctx context.Context, alert *models.Alert, expectedState models.AlertState, expectedVersion int64) error
}

// AssessmentStore 结构化评估存储（只追加）
type AssessmentStore interface {
	CreateAssessment(ctx context.Context, resp *models.AssessmentResponse) error
	GetAssessment(ctx context.Context, assessmentID string) (*models.AssessmentResponse, error)
	ListAssessments(ctx context.Context, subjectID string, limit int) ([]*models.AssessmentResponse, error)
}

// AuditSink 审计记录输出
type AuditSink interface {
	RecordAudit(ctx context.Context, rec models.AuditRecord) error
}

// AuditReader 审计记录查询
type AuditReader interface {
	ListAudit(ctx context.Context, alertID string) ([]models.AuditRecord, error)
}

// 分页默认值
const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

// Matches 内存实现使用的过滤判断
func (f AlertFilters) Matches(a *models.Alert) bool {
	if f.SubjectID != nil && a.SubjectID != *f.SubjectID {
		return false
	}
	if len(f.States) > 0 && !containsState(f.States, a.State) {
		return false
	}
	if len(f.Levels) > 0 && !containsLevel(f.Levels, a.Trigger.Level) {
		return false
	}
	if f.CreatedAfter != nil && a.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && a.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	return true
}

func containsState(states []models.AlertState, s models.AlertState) bool {
	for _, v := range states {
		if v == s {
			return true
		}
	}
	return false
}

func containsLevel(levels []models.RiskLevel, l models.RiskLevel) bool {
	for _, v := range levels {
		if v == l {
			return true
		}
	}
	return false
}

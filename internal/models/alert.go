package models

import (
	"time"
)

// AlertState 报警状态
type AlertState string

const (
	AlertOpen         AlertState = "open"
	AlertAcknowledged AlertState = "acknowledged"
	AlertEscalated    AlertState = "escalated"
	AlertResolved     AlertState = "resolved"
)

// Valid 是否为已定义状态
func (s AlertState) Valid() bool {
	switch s {
	case AlertOpen, AlertAcknowledged, AlertEscalated, AlertResolved:
		return true
	default:
		return false
	}
}

// CanTransitionTo 状态只能前进：
// open -> acknowledged | escalated | resolved
// escalated -> escalated | acknowledged | resolved
// acknowledged -> resolved
// resolved 为终态
func (s AlertState) CanTransitionTo(next AlertState) bool {
	switch s {
	case AlertOpen:
		return next == AlertAcknowledged || next == AlertEscalated || next == AlertResolved
	case AlertEscalated:
		return next == AlertEscalated || next == AlertAcknowledged || next == AlertResolved
	case AlertAcknowledged:
		return next == AlertResolved
	case AlertResolved:
		return false
	default:
		return false
	}
}

// Terminal 是否为终态
func (s AlertState) Terminal() bool {
	return s == AlertResolved
}

// AlertTrigger 触发信号快照
type AlertTrigger struct {
	Level      RiskLevel    `json:"level"`
	Score      int          `json:"score"`
	Source     SignalSource `json:"source"`
	Indicators []string     `json:"indicators"`
}

// Alert 报警记录（对应 alerts 表，仅由 AlertLifecycle 修改，不删除）
type Alert struct {
	AlertID   string       `json:"alert_id" db:"alert_id"`
	SubjectID string       `json:"subject_id" db:"subject_id"`
	Trigger   AlertTrigger `json:"trigger" db:"trigger"` // JSONB
	Policy    AlertPolicy  `json:"policy" db:"policy"`   // JSONB，创建时快照
	State     AlertState   `json:"state" db:"state"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	AcknowledgedBy   *string    `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	AcknowledgedAt   *time.Time `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	AcknowledgedNote *string    `json:"acknowledged_note,omitempty" db:"acknowledged_note"`

	EscalatedAt     *time.Time `json:"escalated_at,omitempty" db:"escalated_at"` // 最近一次升级时间
	EscalationLevel int        `json:"escalation_level" db:"escalation_level"`   // 已处理的超时区间数

	ResolvedBy        *string    `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolutionSummary *string    `json:"resolution_summary,omitempty" db:"resolution_summary"`

	// Version 乐观锁版本号，每次迁移 +1
	Version int64 `json:"version" db:"version"`
}

// Clone 深拷贝（迁移在副本上进行，写入成功后才替换）
func (a *Alert) Clone() *Alert {
	out := *a
	out.Trigger.Indicators = append([]string(nil), a.Trigger.Indicators...)
	out.Policy = a.Policy.Clone()
	out.AcknowledgedBy = cloneString(a.AcknowledgedBy)
	out.AcknowledgedAt = cloneTime(a.AcknowledgedAt)
	out.AcknowledgedNote = cloneString(a.AcknowledgedNote)
	out.EscalatedAt = cloneTime(a.EscalatedAt)
	out.ResolvedBy = cloneString(a.ResolvedBy)
	out.ResolvedAt = cloneTime(a.ResolvedAt)
	out.ResolutionSummary = cloneString(a.ResolutionSummary)
	return &out
}

// ResponseDueAt 响应截止时间（无响应 SLA 返回 nil）
func (a *Alert) ResponseDueAt() *time.Time {
	if a.Policy.ResponseSLA == nil {
		return nil
	}
	t := a.CreatedAt.Add(*a.Policy.ResponseSLA)
	return &t
}

// ResponseOverdue 是否超过响应 SLA 仍未确认
func (a *Alert) ResponseOverdue(now time.Time) bool {
	due := a.ResponseDueAt()
	if due == nil {
		return false
	}
	if a.State != AlertOpen && a.State != AlertEscalated {
		return false
	}
	return !now.Before(*due)
}

// BreachedIntervals 截至 now 已超时的升级区间数（floor((now-created)/escalation_sla)）
func (a *Alert) BreachedIntervals(now time.Time) int {
	sla := a.Policy.EscalationSLA
	if sla == nil || *sla <= 0 {
		return 0
	}
	elapsed := now.Sub(a.CreatedAt)
	if elapsed < 0 {
		return 0
	}
	return int(elapsed / *sla)
}

// NextEscalationAt 下一次升级时间（无升级 SLA 或已处理返回 nil）
func (a *Alert) NextEscalationAt() *time.Time {
	sla := a.Policy.EscalationSLA
	if sla == nil || *sla <= 0 {
		return nil
	}
	if a.State != AlertOpen && a.State != AlertEscalated {
		return nil
	}
	t := a.CreatedAt.Add(time.Duration(a.EscalationLevel+1) * *sla)
	return &t
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

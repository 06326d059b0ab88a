package models

import (
	"errors"
	"fmt"
	"time"
)

// 错误分类
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrAlreadyAcknowledged = errors.New("already acknowledged")
	ErrAlreadyResolved     = errors.New("already resolved")
	ErrStaleState          = errors.New("stale alert state")
	ErrMissingSummary      = errors.New("resolution summary is required")
	ErrPersistence         = errors.New("persistence failure")

	// 具体对象不存在（均匹配 ErrNotFound）
	ErrAlertNotFound      = fmt.Errorf("alert %w", ErrNotFound)
	ErrAssessmentNotFound = fmt.Errorf("assessment %w", ErrNotFound)

	// ErrNoAlertWarranted 不是错误：策略不要求报警，调用方应在调用前检查
	ErrNoAlertWarranted = errors.New("no alert warranted")
)

// TransitionError 状态迁移被拒绝（已被他人处理或状态已变化）
type TransitionError struct {
	AlertID string
	Kind    error // ErrAlreadyAcknowledged, ErrAlreadyResolved, ErrStaleState
	State   AlertState
	By      string
	At      *time.Time
}

func (e *TransitionError) Error() string {
	switch {
	case errors.Is(e.Kind, ErrAlreadyAcknowledged) || errors.Is(e.Kind, ErrAlreadyResolved):
		verb := "acknowledged"
		if errors.Is(e.Kind, ErrAlreadyResolved) {
			verb = "resolved"
		}
		if e.By != "" && e.At != nil {
			return fmt.Sprintf("alert %s already %s by %s at %s", e.AlertID, verb, e.By, e.At.UTC().Format(time.RFC3339))
		}
		return fmt.Sprintf("alert %s already %s", e.AlertID, verb)
	default:
		return fmt.Sprintf("alert %s changed concurrently, current state: %s", e.AlertID, e.State)
	}
}

// Is 同时匹配具体类型和 ErrInvalidTransition
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func (e *TransitionError) Unwrap() error {
	return e.Kind
}

// NewTransitionError 根据报警当前状态构建迁移错误
func NewTransitionError(alert *Alert) *TransitionError {
	te := &TransitionError{AlertID: alert.AlertID, State: alert.State, Kind: ErrStaleState}
	switch alert.State {
	case AlertResolved:
		te.Kind = ErrAlreadyResolved
		te.At = alert.ResolvedAt
		if alert.ResolvedBy != nil {
			te.By = *alert.ResolvedBy
		}
	case AlertAcknowledged:
		te.Kind = ErrAlreadyAcknowledged
		te.At = alert.AcknowledgedAt
		if alert.AcknowledgedBy != nil {
			te.By = *alert.AcknowledgedBy
		}
	}
	return te
}

package evaluator

import (
	"fmt"
	"time"

	"wisefido-risk/internal/models"

	"github.com/google/uuid"
)

// AlertBuilder 报警构建器
type AlertBuilder struct {
	subjectID string
}

// NewAlertBuilder 创建报警构建器
func NewAlertBuilder(subjectID string) *AlertBuilder {
	return &AlertBuilder{
		subjectID: subjectID,
	}
}

// BuildAlert 根据风险信号和策略构建报警（状态 open，策略按值快照）
func (b *AlertBuilder) BuildAlert(signal models.RiskSignal, policy models.AlertPolicy, now time.Time) (*models.Alert, error) {
	if b.subjectID == "" {
		return nil, fmt.Errorf("%w: subject_id is required", models.ErrInvalidInput)
	}
	if !policy.ShouldAlert {
		return nil, models.ErrNoAlertWarranted
	}

	indicators := append([]string{}, signal.Indicators...)

	return &models.Alert{
		AlertID:   uuid.New().String(),
		SubjectID: b.subjectID,
		Trigger: models.AlertTrigger{
			Level:      signal.Level,
			Score:      signal.Score,
			Source:     signal.Source,
			Indicators: indicators,
		},
		Policy:    policy.Clone(),
		State:     models.AlertOpen,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wisefido-risk/internal/evaluator"
	"wisefido-risk/internal/metrics"
	"wisefido-risk/internal/models"
	"wisefido-risk/internal/policy"
	"wisefido-risk/internal/repository"

	"go.uber.org/zap"
)

// RiskEngine 对外接口：评分、结构化评估、报警生命周期
type RiskEngine struct {
	scorer      *evaluator.PatternScorer
	lifecycle   *AlertLifecycle
	assessments repository.AssessmentStore
	auditReader repository.AuditReader
	logger      *zap.Logger
	now         func() time.Time
}

// NewRiskEngine 创建风险引擎；auditReader 可为 nil（不提供审计查询）
func NewRiskEngine(
	scorer *evaluator.PatternScorer,
	lifecycle *AlertLifecycle,
	assessments repository.AssessmentStore,
	auditReader repository.AuditReader,
	logger *zap.Logger,
) *RiskEngine {
	return &RiskEngine{
		scorer:      scorer,
		lifecycle:   lifecycle,
		assessments: assessments,
		auditReader: auditReader,
		logger:      logger,
		now:         lifecycle.opts.Now,
	}
}

// ScoreText 对单条文本评分（不创建报警）
func (e *RiskEngine) ScoreText(_ context.Context, text string, history []string) (models.RiskSignal, error) {
	start := time.Now()
	signal, err := e.scorer.ScoreWithHistory(text, history)
	if err != nil {
		return models.RiskSignal{}, err
	}
	metrics.RecordSignal(string(signal.Source), string(signal.Level), time.Since(start))
	return signal, nil
}

// ScoreMessage 评分，并在策略要求时为对象创建报警
func (e *RiskEngine) ScoreMessage(ctx context.Context, subjectID, text string, history []string) (models.RiskSignal, *models.Alert, error) {
	signal, err := e.ScoreText(ctx, text, history)
	if err != nil {
		return models.RiskSignal{}, nil, err
	}
	if subjectID == "" {
		return signal, nil, nil
	}

	alert, err := e.CreateAlertFromSignal(ctx, signal, subjectID)
	if err != nil {
		if errors.Is(err, models.ErrNoAlertWarranted) {
			return signal, nil, nil
		}
		return signal, nil, err
	}
	return signal, alert, nil
}

// SubmitAssessment 评估六题答案并保存；需要报警时一并创建
func (e *RiskEngine) SubmitAssessment(ctx context.Context, subjectID string, answers []int) (*models.AssessmentResponse, *models.Alert, error) {
	start := time.Now()
	resp, err := evaluator.EvaluateAssessment(subjectID, answers, e.now())
	if err != nil {
		return nil, nil, err
	}
	metrics.RecordSignal(string(models.SourceStructuredAssessment), string(resp.RiskLevel), time.Since(start))

	if err := e.assessments.CreateAssessment(ctx, resp); err != nil {
		e.logger.Error("Failed to save assessment",
			zap.String("subject_id", subjectID),
			zap.Error(err),
		)
		return nil, nil, fmt.Errorf("failed to save assessment: %w", err)
	}

	alert, err := e.CreateAlertFromSignal(ctx, resp.Signal(), subjectID)
	if err != nil {
		if errors.Is(err, models.ErrNoAlertWarranted) {
			return resp, nil, nil
		}
		return resp, nil, err
	}
	return resp, alert, nil
}

// CreateAlertFromSignal 按等级解析策略并创建报警；不需要报警时返回 ErrNoAlertWarranted
func (e *RiskEngine) CreateAlertFromSignal(ctx context.Context, signal models.RiskSignal, subjectID string) (*models.Alert, error) {
	pol := policy.Resolve(signal.Level)
	if !pol.ShouldAlert {
		return nil, models.ErrNoAlertWarranted
	}
	return e.lifecycle.CreateAlert(ctx, signal, pol, subjectID, models.SystemActor)
}

// GetAlert 获取单个报警
func (e *RiskEngine) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	return e.lifecycle.GetAlert(ctx, alertID)
}

// ListAlerts 查询报警列表
func (e *RiskEngine) ListAlerts(ctx context.Context, filters repository.AlertFilters, page, size int) ([]*models.Alert, int, error) {
	return e.lifecycle.ListAlerts(ctx, filters, page, size)
}

// Acknowledge 确认报警
func (e *RiskEngine) Acknowledge(ctx context.Context, alertID, responder, note string) (*models.Alert, error) {
	return e.lifecycle.Acknowledge(ctx, alertID, responder, note)
}

// Resolve 解决报警
func (e *RiskEngine) Resolve(ctx context.Context, alertID, responder, summary string) (*models.Alert, error) {
	return e.lifecycle.Resolve(ctx, alertID, responder, summary)
}

// RunSweep 执行一次 SLA 巡检
func (e *RiskEngine) RunSweep(ctx context.Context, now time.Time) (*models.SweepReport, error) {
	return e.lifecycle.SweepSLA(ctx, now)
}

// ListAssessments 对象最近的评估记录
func (e *RiskEngine) ListAssessments(ctx context.Context, subjectID string, limit int) ([]*models.AssessmentResponse, error) {
	list, err := e.assessments.ListAssessments(ctx, subjectID, limit)
	if err != nil {
		if !errors.Is(err, models.ErrInvalidInput) {
			e.logger.Error("Failed to list assessments",
				zap.String("subject_id", subjectID),
				zap.Error(err),
			)
		}
		return nil, err
	}
	return list, nil
}

// ListAudit 报警的审计记录
func (e *RiskEngine) ListAudit(ctx context.Context, alertID string) ([]models.AuditRecord, error) {
	if e.auditReader == nil {
		return []models.AuditRecord{}, nil
	}
	if _, err := e.lifecycle.GetAlert(ctx, alertID); err != nil {
		return nil, err
	}
	return e.auditReader.ListAudit(ctx, alertID)
}

// Now 引擎使用的时钟
func (e *RiskEngine) Now() time.Time {
	return e.now()
}

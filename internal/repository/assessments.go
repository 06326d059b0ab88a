package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"wisefido-risk/internal/models"

	"go.uber.org/zap"
)

// AssessmentsRepository 结构化评估仓库（PostgreSQL，只追加）
type AssessmentsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAssessmentsRepository 创建评估仓库
func NewAssessmentsRepository(db *sql.DB, logger *zap.Logger) *AssessmentsRepository {
	return &AssessmentsRepository{
		db:     db,
		logger: logger,
	}
}

// CreateAssessment 保存评估结果
func (r *AssessmentsRepository) CreateAssessment(ctx context.Context, resp *models.AssessmentResponse) error {
	if resp == nil {
		return fmt.Errorf("%w: assessment is required", models.ErrInvalidInput)
	}

	answers, err := json.Marshal(resp.Answers)
	if err != nil {
		return fmt.Errorf("failed to encode answers: %w", err)
	}

	query := `
		INSERT INTO assessment_responses (
			assessment_id,
			subject_id,
			answers,
			total_score,
			risk_level,
			reasoning,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.ExecContext(ctx, query,
		resp.AssessmentID,
		resp.SubjectID,
		answers,
		resp.TotalScore,
		resp.RiskLevel,
		resp.Reasoning,
		resp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to create assessment: %w", models.ErrPersistence, err)
	}
	return nil
}

const assessmentColumns = `
	assessment_id,
	subject_id,
	answers,
	total_score,
	risk_level,
	reasoning,
	created_at`

func scanAssessment(row rowScanner) (*models.AssessmentResponse, error) {
	var resp models.AssessmentResponse
	var answers []byte

	if err := row.Scan(
		&resp.AssessmentID,
		&resp.SubjectID,
		&answers,
		&resp.TotalScore,
		&resp.RiskLevel,
		&resp.Reasoning,
		&resp.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(answers, &resp.Answers); err != nil {
		return nil, fmt.Errorf("failed to decode answers: %w", err)
	}

	resp.HasPlanning = resp.Answers.Planning() > 0
	resp.HasIntent = resp.Answers.Intent() > 0
	resp.HasBehavior = resp.Answers.Behavior() > 0
	return &resp, nil
}

// GetAssessment 根据 assessment_id 获取评估
func (r *AssessmentsRepository) GetAssessment(ctx context.Context, assessmentID string) (*models.AssessmentResponse, error) {
	query := `SELECT` + assessmentColumns + `
		FROM assessment_responses
		WHERE assessment_id = $1`

	resp, err := scanAssessment(r.db.QueryRowContext(ctx, query, assessmentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: assessment_id=%s", models.ErrAssessmentNotFound, assessmentID)
		}
		return nil, fmt.Errorf("%w: failed to get assessment: %w", models.ErrPersistence, err)
	}
	return resp, nil
}

// ListAssessments 按对象查询最近的评估（按创建时间倒序）
func (r *AssessmentsRepository) ListAssessments(ctx context.Context, subjectID string, limit int) ([]*models.AssessmentResponse, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject_id is required", models.ErrInvalidInput)
	}
	_, limit = normalizePage(1, limit)

	query := `SELECT` + assessmentColumns + `
		FROM assessment_responses
		WHERE subject_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query assessments: %w", models.ErrPersistence, err)
	}
	defer rows.Close()

	out := []*models.AssessmentResponse{}
	for rows.Next() {
		resp, err := scanAssessment(rows)
		if err != nil {
			r.logger.Error("Failed to scan assessment row", zap.Error(err))
			continue
		}
		out = append(out, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate assessments: %w", models.ErrPersistence, err)
	}
	return out, nil
}

package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"wisefido-risk/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAssessmentsRepository_CreateAndGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewAssessmentsRepository(db, zap.NewNop())

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	resp := &models.AssessmentResponse{
		AssessmentID: "as-1",
		SubjectID:    "subject-1",
		Answers:      models.AssessmentAnswers{5, 5, 5, 5, 5, 0},
		TotalScore:   25,
		RiskLevel:    models.RiskCritical,
		Reasoning:    "Daily suicidal thoughts with intent and/or planning",
		CreatedAt:    now,
	}

	mock.ExpectExec(`INSERT INTO assessment_responses`).
		WithArgs("as-1", "subject-1", []byte(`[5,5,5,5,5,0]`), 25, "critical", resp.Reasoning, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, repo.CreateAssessment(context.Background(), resp))

	mock.ExpectQuery(`FROM assessment_responses(.|\n)*WHERE assessment_id = \$1`).
		WithArgs("as-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"assessment_id", "subject_id", "answers", "total_score", "risk_level", "reasoning", "created_at",
		}).AddRow("as-1", "subject-1", `[5,5,5,5,5,0]`, 25, "critical", resp.Reasoning, now))

	got, err := repo.GetAssessment(context.Background(), "as-1")
	require.NoError(t, err)
	assert.Equal(t, resp.Answers, got.Answers)
	assert.True(t, got.HasPlanning)
	assert.True(t, got.HasIntent)
	assert.False(t, got.HasBehavior)

	mock.ExpectQuery(`FROM assessment_responses`).WithArgs("missing").WillReturnError(sql.ErrNoRows)
	_, err = repo.GetAssessment(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, err, models.ErrAssessmentNotFound)
	assert.EqualError(t, err, "assessment not found: assessment_id=missing")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssessmentsRepository_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewAssessmentsRepository(db, zap.NewNop())

	now := time.Now()
	mock.ExpectQuery(`WHERE subject_id = \$1(.|\n)*LIMIT \$2`).
		WithArgs("subject-1", DefaultPageSize).
		WillReturnRows(sqlmock.NewRows([]string{
			"assessment_id", "subject_id", "answers", "total_score", "risk_level", "reasoning", "created_at",
		}).
			AddRow("as-2", "subject-1", `[0,0,0,0,0,0]`, 0, "low", "No suicidal ideation detected", now).
			AddRow("as-1", "subject-1", `[2,1,1,0,0,0]`, 4, "moderate", "Rare to infrequent suicidal thoughts present", now.Add(-time.Hour)))

	list, err := repo.ListAssessments(context.Background(), "subject-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "as-2", list[0].AssessmentID)

	_, err = repo.ListAssessments(context.Background(), "", 10)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestMemoryAssessments(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAssessmentsRepository()
	now := time.Now()

	for i, id := range []string{"as-1", "as-2", "as-3"} {
		require.NoError(t, repo.CreateAssessment(ctx, &models.AssessmentResponse{
			AssessmentID: id,
			SubjectID:    "subject-1",
			CreatedAt:    now.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repo.CreateAssessment(ctx, &models.AssessmentResponse{AssessmentID: "other", SubjectID: "subject-2", CreatedAt: now}))
	assert.ErrorIs(t, repo.CreateAssessment(ctx, &models.AssessmentResponse{AssessmentID: "as-1", SubjectID: "subject-1"}), models.ErrPersistence)

	list, err := repo.ListAssessments(ctx, "subject-1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "as-3", list[0].AssessmentID)
	assert.Equal(t, "as-2", list[1].AssessmentID)

	_, err = repo.GetAssessment(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrAssessmentNotFound)
	assert.NotErrorIs(t, err, models.ErrAlertNotFound)
}

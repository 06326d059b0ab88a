package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"wisefido-risk/internal/models"
)

// MemoryAssessmentsRepository 内存评估仓库
type MemoryAssessmentsRepository struct {
	mu    sync.RWMutex
	items map[string]models.AssessmentResponse
}

// NewMemoryAssessmentsRepository 创建内存评估仓库
func NewMemoryAssessmentsRepository() *MemoryAssessmentsRepository {
	return &MemoryAssessmentsRepository{
		items: make(map[string]models.AssessmentResponse),
	}
}

func (r *MemoryAssessmentsRepository) CreateAssessment(_ context.Context, resp *models.AssessmentResponse) error {
	if resp == nil || resp.AssessmentID == "" {
		return fmt.Errorf("%w: assessment is required", models.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[resp.AssessmentID]; ok {
		return fmt.Errorf("%w: duplicate assessment_id=%s", models.ErrPersistence, resp.AssessmentID)
	}
	r.items[resp.AssessmentID] = *resp
	return nil
}

func (r *MemoryAssessmentsRepository) GetAssessment(_ context.Context, assessmentID string) (*models.AssessmentResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resp, ok := r.items[assessmentID]
	if !ok {
		return nil, fmt.Errorf("%w: assessment_id=%s", models.ErrAssessmentNotFound, assessmentID)
	}
	return &resp, nil
}

func (r *MemoryAssessmentsRepository) ListAssessments(_ context.Context, subjectID string, limit int) ([]*models.AssessmentResponse, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject_id is required", models.ErrInvalidInput)
	}
	_, limit = normalizePage(1, limit)

	r.mu.RLock()
	out := []*models.AssessmentResponse{}
	for _, resp := range r.items {
		if resp.SubjectID == subjectID {
			resp := resp
			out = append(out, &resp)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

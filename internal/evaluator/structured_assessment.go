package evaluator

import (
	"fmt"
	"time"

	"wisefido-risk/internal/models"

	"github.com/google/uuid"
)

// 结构化评估各分支的固定说明
const (
	ReasonIntentPlanBehavior = "Suicidal intent + planning + preparatory behavior"
	ReasonDailyWithPlan      = "Daily suicidal thoughts with intent and/or planning"
	ReasonFrequentOrActive   = "Frequent suicidal thoughts and/or active planning/intent"
	ReasonRareIdeation       = "Rare to infrequent suicidal thoughts present"
	ReasonNoIdeation         = "No suicidal ideation detected"
)

// Question 评估题目
type Question struct {
	ID       int    `json:"id"`
	Category string `json:"category"`
	Text     string `json:"text"`
}

// Questions 六道固定题目（顺序即答案顺序）
var Questions = []Question{
	{ID: 1, Category: "ideation", Text: "Have you had any actual thoughts of killing yourself?"},
	{ID: 2, Category: "frequency", Text: "How many days in the past month have you had these thoughts?"},
	{ID: 3, Category: "duration", Text: "How long do these thoughts typically last when you have them?"},
	{ID: 4, Category: "planning", Text: "Have you thought about how you might do this?"},
	{ID: 5, Category: "intent", Text: "Do you intend to act on these thoughts?"},
	{ID: 6, Category: "behavior", Text: "Have you done anything to prepare to end your life?"},
}

// AnswerOptions 答案含义（0-5）
var AnswerOptions = map[int]string{
	0: "No",
	1: "Rare (1 day/month)",
	2: "Infrequent (2-5 days/month)",
	3: "Frequent (6+ days/month)",
	4: "Almost every day",
	5: "Every day or multiple times daily",
}

// ValidateAnswers 校验答案数量和取值范围
func ValidateAnswers(answers []int) (models.AssessmentAnswers, error) {
	var out models.AssessmentAnswers
	if len(answers) != models.AssessmentAnswerCount {
		return out, fmt.Errorf("%w: exactly %d answers are required, got %d",
			models.ErrInvalidInput, models.AssessmentAnswerCount, len(answers))
	}
	for i, v := range answers {
		if v < 0 || v > models.AssessmentMaxAnswer {
			return out, fmt.Errorf("%w: answer %d out of range [0,%d]: %d",
				models.ErrInvalidInput, i+1, models.AssessmentMaxAnswer, v)
		}
		out[i] = v
	}
	return out, nil
}

// ClassifyAnswers 按优先级规则分类（首个命中的规则生效，顺序不可调整）
// 1. 意图 + 计划 + 准备行为 -> critical
// 2. 意念=5 且 (计划 或 意图) -> critical
// 3. 意念>=3 或 (计划 且 意图) -> high
// 4. 意念>=1 -> moderate
// 5. 其他 -> low
func ClassifyAnswers(a models.AssessmentAnswers) (models.RiskLevel, string) {
	hasPlanning := a.Planning() > 0
	hasIntent := a.Intent() > 0
	hasBehavior := a.Behavior() > 0

	switch {
	case hasIntent && hasPlanning && hasBehavior:
		return models.RiskCritical, ReasonIntentPlanBehavior
	case a.Ideation() == 5 && (hasPlanning || hasIntent):
		return models.RiskCritical, ReasonDailyWithPlan
	case a.Ideation() >= 3 || (hasPlanning && hasIntent):
		return models.RiskHigh, ReasonFrequentOrActive
	case a.Ideation() >= 1:
		return models.RiskModerate, ReasonRareIdeation
	default:
		return models.RiskLow, ReasonNoIdeation
	}
}

// EvaluateAssessment 评估六题答案，生成评估记录（未持久化）
func EvaluateAssessment(subjectID string, answers []int, now time.Time) (*models.AssessmentResponse, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject_id is required", models.ErrInvalidInput)
	}

	validated, err := ValidateAnswers(answers)
	if err != nil {
		return nil, err
	}

	level, reasoning := ClassifyAnswers(validated)

	return &models.AssessmentResponse{
		AssessmentID: uuid.New().String(),
		SubjectID:    subjectID,
		Answers:      validated,
		TotalScore:   validated.Sum(),
		RiskLevel:    level,
		Reasoning:    reasoning,
		HasPlanning:  validated.Planning() > 0,
		HasIntent:    validated.Intent() > 0,
		HasBehavior:  validated.Behavior() > 0,
		CreatedAt:    now,
	}, nil
}

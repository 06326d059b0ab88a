package models

import (
	"time"
)

// AssessmentAnswerCount 结构化评估题目数量
const AssessmentAnswerCount = 6

// AssessmentMaxAnswer 每题最高分
const AssessmentMaxAnswer = 5

// AssessmentAnswers 六题答案（顺序固定）
// 0 意念, 1 频率, 2 持续时间, 3 计划, 4 意图, 5 准备行为
type AssessmentAnswers [AssessmentAnswerCount]int

func (a AssessmentAnswers) Ideation() int  { return a[0] }
func (a AssessmentAnswers) Frequency() int { return a[1] }
func (a AssessmentAnswers) Duration() int  { return a[2] }
func (a AssessmentAnswers) Planning() int  { return a[3] }
func (a AssessmentAnswers) Intent() int    { return a[4] }
func (a AssessmentAnswers) Behavior() int  { return a[5] }

// Sum 总分（0-30）
func (a AssessmentAnswers) Sum() int {
	total := 0
	for _, v := range a {
		total += v
	}
	return total
}

// AssessmentResponse 结构化评估结果（对应 assessment_responses 表，创建后不可修改）
type AssessmentResponse struct {
	AssessmentID string            `json:"assessment_id" db:"assessment_id"`
	SubjectID    string            `json:"subject_id" db:"subject_id"`
	Answers      AssessmentAnswers `json:"answers" db:"answers"` // JSONB
	TotalScore   int               `json:"total_score" db:"total_score"`
	RiskLevel    RiskLevel         `json:"risk_level" db:"risk_level"`
	Reasoning    string            `json:"reasoning" db:"reasoning"`
	HasPlanning  bool              `json:"has_planning" db:"-"`
	HasIntent    bool              `json:"has_intent" db:"-"`
	HasBehavior  bool              `json:"has_behavior" db:"-"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
}

// Signal 将评估结果转换为风险信号（供策略解析使用）
func (r *AssessmentResponse) Signal() RiskSignal {
	indicators := make([]string, 0, 4)
	if r.Answers.Ideation() > 0 {
		indicators = append(indicators, "ideation")
	}
	if r.HasPlanning {
		indicators = append(indicators, "planning")
	}
	if r.HasIntent {
		indicators = append(indicators, "intent")
	}
	if r.HasBehavior {
		indicators = append(indicators, "preparatory behavior")
	}

	return RiskSignal{
		Score:        r.TotalScore * 100 / (AssessmentAnswerCount * AssessmentMaxAnswer),
		Level:        r.RiskLevel,
		Indicators:   indicators,
		Confidence:   1.0,
		Source:       SourceStructuredAssessment,
		Reasoning:    r.Reasoning,
		ActionNeeded: r.RiskLevel == RiskHigh || r.RiskLevel == RiskCritical,
		UrgentAction: r.RiskLevel == RiskCritical,
	}
}

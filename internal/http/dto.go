package httpapi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"wisefido-risk/internal/evaluator"
	"wisefido-risk/internal/models"

	"github.com/go-playground/validator/v10"
)

// requestValidate 请求 DTO 校验器
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	// notblank: 去掉首尾空白后不能为空
	_ = requestValidate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

// validateRequest 校验失败统一归为 ErrInvalidInput
func validateRequest(req any) error {
	err := requestValidate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", models.ErrInvalidInput, strings.Join(msgs, "; "))
	}
	return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
}

// ScoreRequest 文本评分；带 subject_id 时按策略创建报警
type ScoreRequest struct {
	SubjectID string   `json:"subject_id" validate:"omitempty,max=128"`
	Text      string   `json:"text" validate:"notblank"`
	History   []string `json:"history" validate:"max=50"`
}

// ScoreResponse 评分结果
type ScoreResponse struct {
	Signal models.RiskSignal `json:"signal"`
	Alert  *models.Alert     `json:"alert"`
}

// AssessmentRequest 提交结构化评估
type AssessmentRequest struct {
	SubjectID string `json:"subject_id" validate:"notblank,max=128"`
	Answers   []int  `json:"answers" validate:"required,len=6,dive,gte=0,lte=5"`
}

// AssessmentResult 评估结果（附被评估者反馈和临床复核摘要）
type AssessmentResult struct {
	Assessment *models.AssessmentResponse `json:"assessment"`
	Signal     models.RiskSignal          `json:"signal"`
	Alert      *models.Alert              `json:"alert"`
	Feedback   evaluator.PatientFeedback  `json:"feedback"`
	Clinician  evaluator.ClinicianSummary `json:"clinician"`
}

// CreateAlertRequest 由外部信号直接创建报警
type CreateAlertRequest struct {
	SubjectID  string   `json:"subject_id" validate:"notblank,max=128"`
	Level      string   `json:"level" validate:"required,oneof=none low moderate high critical"`
	Score      int      `json:"score" validate:"gte=0,lte=100"`
	Indicators []string `json:"indicators" validate:"max=20"`
	Source     string   `json:"source" validate:"omitempty,oneof=pattern_scan structured_assessment"`
	Reasoning  string   `json:"reasoning" validate:"max=200"`
}

// Signal 转换为风险信号
func (r CreateAlertRequest) Signal() models.RiskSignal {
	source := models.SignalSource(r.Source)
	if source == "" {
		source = models.SourcePatternScan
	}
	level := models.RiskLevel(r.Level)
	return models.RiskSignal{
		Score:        r.Score,
		Level:        level,
		Indicators:   append([]string{}, r.Indicators...),
		Confidence:   1.0,
		Source:       source,
		Reasoning:    r.Reasoning,
		ActionNeeded: level == models.RiskHigh || level == models.RiskCritical,
		UrgentAction: level == models.RiskCritical,
	}
}

// AcknowledgeRequest 确认报警
type AcknowledgeRequest struct {
	Responder string `json:"responder" validate:"notblank,max=128"`
	Note      string `json:"note" validate:"max=2000"`
}

// ResolveRequest 解决报警（summary 为空时由状态机返回 MissingSummary）
type ResolveRequest struct {
	Responder string `json:"responder" validate:"notblank,max=128"`
	Summary   string `json:"summary" validate:"max=4000"`
}

// SweepRequest 手动触发巡检；now 为空时使用服务时钟
type SweepRequest struct {
	Now *time.Time `json:"now"`
}

// SweepResult 巡检结果
type SweepResult struct {
	Now       time.Time       `json:"now"`
	Checked   int             `json:"checked"`
	Failed    int             `json:"failed"`
	Escalated []*models.Alert `json:"escalated"`
}

// AlertList 分页报警列表
type AlertList struct {
	Items    []*models.Alert `json:"items"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

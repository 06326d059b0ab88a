package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"wisefido-risk/internal/evaluator"
	"wisefido-risk/internal/models"
	"wisefido-risk/internal/repository"

	"go.uber.org/zap"
)

// APIPrefix 风险服务路由前缀
const APIPrefix = "/risk/api/v1/"

// Engine 风险引擎（handler 依赖的操作）
type Engine interface {
	ScoreMessage(ctx context.Context, subjectID, text string, history []string) (models.RiskSignal, *models.Alert, error)
	SubmitAssessment(ctx context.Context, subjectID string, answers []int) (*models.AssessmentResponse, *models.Alert, error)
	ListAssessments(ctx context.Context, subjectID string, limit int) ([]*models.AssessmentResponse, error)
	CreateAlertFromSignal(ctx context.Context, signal models.RiskSignal, subjectID string) (*models.Alert, error)
	GetAlert(ctx context.Context, alertID string) (*models.Alert, error)
	ListAlerts(ctx context.Context, filters repository.AlertFilters, page, size int) ([]*models.Alert, int, error)
	Acknowledge(ctx context.Context, alertID, responder, note string) (*models.Alert, error)
	Resolve(ctx context.Context, alertID, responder, summary string) (*models.Alert, error)
	ListAudit(ctx context.Context, alertID string) ([]models.AuditRecord, error)
	RunSweep(ctx context.Context, now time.Time) (*models.SweepReport, error)
	Now() time.Time
}

// RiskHandler 风险评估 API
type RiskHandler struct {
	engine Engine
	logger *zap.Logger
}

// NewRiskHandler 创建 handler
func NewRiskHandler(engine Engine, logger *zap.Logger) *RiskHandler {
	return &RiskHandler{engine: engine, logger: logger}
}

// ServeHTTP 路由分发（路径为去掉 APIPrefix 后的部分）
func (h *RiskHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, APIPrefix), "/")
	parts := strings.Split(path, "/")

	switch {
	case path == "score":
		h.allow(w, r, http.MethodPost, h.Score)
	case path == "assessments":
		switch r.Method {
		case http.MethodPost:
			h.SubmitAssessment(w, r)
		case http.MethodGet:
			h.ListAssessments(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case path == "assessments/questions":
		h.allow(w, r, http.MethodGet, h.Questions)
	case path == "assessments/followup-plan":
		h.allow(w, r, http.MethodGet, h.FollowupPlan)
	case path == "alerts":
		switch r.Method {
		case http.MethodPost:
			h.CreateAlert(w, r)
		case http.MethodGet:
			h.ListAlerts(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case len(parts) == 2 && parts[0] == "alerts" && parts[1] != "":
		h.allow(w, r, http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
			h.GetAlert(w, r, parts[1])
		})
	case len(parts) == 3 && parts[0] == "alerts" && parts[1] != "":
		alertID := parts[1]
		switch parts[2] {
		case "acknowledge":
			h.allow(w, r, http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
				h.Acknowledge(w, r, alertID)
			})
		case "resolve":
			h.allow(w, r, http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
				h.Resolve(w, r, alertID)
			})
		case "audit":
			h.allow(w, r, http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
				h.ListAudit(w, r, alertID)
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	case path == "sweep":
		h.allow(w, r, http.MethodPost, h.Sweep)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *RiskHandler) allow(w http.ResponseWriter, r *http.Request, method string, next http.HandlerFunc) {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	next(w, r)
}

// fail 记录并返回错误（客户端错误只记 debug）
func (h *RiskHandler) fail(w http.ResponseWriter, op string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", zap.Error(err))
	} else {
		h.logger.Debug(op+" rejected", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, Fail(err.Error()))
}

// ============================================
// 评分 / 评估
// ============================================

// Score POST /score
func (h *RiskHandler) Score(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		h.fail(w, "Score", err)
		return
	}
	if err := validateRequest(req); err != nil {
		h.fail(w, "Score", err)
		return
	}

	signal, alert, err := h.engine.ScoreMessage(r.Context(), strings.TrimSpace(req.SubjectID), req.Text, req.History)
	if err != nil {
		h.fail(w, "Score", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(ScoreResponse{Signal: signal, Alert: alert}))
}

// SubmitAssessment POST /assessments
func (h *RiskHandler) SubmitAssessment(w http.ResponseWriter, r *http.Request) {
	var req AssessmentRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		h.fail(w, "SubmitAssessment", err)
		return
	}
	if err := validateRequest(req); err != nil {
		h.fail(w, "SubmitAssessment", err)
		return
	}

	resp, alert, err := h.engine.SubmitAssessment(r.Context(), strings.TrimSpace(req.SubjectID), req.Answers)
	if err != nil {
		h.fail(w, "SubmitAssessment", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(AssessmentResult{
		Assessment: resp,
		Signal:     resp.Signal(),
		Alert:      alert,
		Feedback:   evaluator.FeedbackForSubject(resp.RiskLevel),
		Clinician:  evaluator.SummarizeForClinician(resp),
	}))
}

// ListAssessments GET /assessments?subject_id=&limit=
func (h *RiskHandler) ListAssessments(w http.ResponseWriter, r *http.Request) {
	subjectID := strings.TrimSpace(r.URL.Query().Get("subject_id"))
	if subjectID == "" {
		h.fail(w, "ListAssessments", fmt.Errorf("%w: subject_id is required", models.ErrInvalidInput))
		return
	}
	limit := parseInt(r.URL.Query().Get("limit"), 20)

	list, err := h.engine.ListAssessments(r.Context(), subjectID, limit)
	if err != nil {
		h.fail(w, "ListAssessments", err)
		return
	}
	if list == nil {
		list = []*models.AssessmentResponse{}
	}
	writeJSON(w, http.StatusOK, Ok(list))
}

// Questions GET /assessments/questions
func (h *RiskHandler) Questions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"questions": evaluator.Questions,
		"options":   evaluator.AnswerOptions,
	}))
}

// FollowupPlan GET /assessments/followup-plan?subject_id=
// 返回空白随访安全计划模板
func (h *RiskHandler) FollowupPlan(w http.ResponseWriter, r *http.Request) {
	subjectID := strings.TrimSpace(r.URL.Query().Get("subject_id"))
	if subjectID == "" {
		h.fail(w, "FollowupPlan", fmt.Errorf("%w: subject_id is required", models.ErrInvalidInput))
		return
	}
	writeJSON(w, http.StatusOK, Ok(evaluator.NewFollowupPlan(subjectID)))
}

// ============================================
// 报警
// ============================================

// CreateAlert POST /alerts
// 策略不要求报警时返回 200，alert 为 null
func (h *RiskHandler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var req CreateAlertRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		h.fail(w, "CreateAlert", err)
		return
	}
	if err := validateRequest(req); err != nil {
		h.fail(w, "CreateAlert", err)
		return
	}

	alert, err := h.engine.CreateAlertFromSignal(r.Context(), req.Signal(), strings.TrimSpace(req.SubjectID))
	if err != nil {
		if errors.Is(err, models.ErrNoAlertWarranted) {
			writeJSON(w, http.StatusOK, OkWithMessage[*models.Alert](nil, err.Error()))
			return
		}
		h.fail(w, "CreateAlert", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(alert))
}

// ListAlerts GET /alerts?subject_id=&state=&level=&page=&page_size=
func (h *RiskHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filters repository.AlertFilters
	if subjectID := strings.TrimSpace(q.Get("subject_id")); subjectID != "" {
		filters.SubjectID = &subjectID
	}
	for _, s := range splitList(q.Get("state")) {
		state := models.AlertState(strings.ToLower(s))
		if !state.Valid() {
			h.fail(w, "ListAlerts", fmt.Errorf("%w: unknown alert state %q", models.ErrInvalidInput, s))
			return
		}
		filters.States = append(filters.States, state)
	}
	for _, l := range splitList(q.Get("level")) {
		level, err := models.ParseRiskLevel(l)
		if err != nil {
			h.fail(w, "ListAlerts", err)
			return
		}
		filters.Levels = append(filters.Levels, level)
	}

	page := parseInt(q.Get("page"), 1)
	size := parseInt(q.Get("page_size"), repository.DefaultPageSize)

	alerts, total, err := h.engine.ListAlerts(r.Context(), filters, page, size)
	if err != nil {
		h.fail(w, "ListAlerts", err)
		return
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	writeJSON(w, http.StatusOK, Ok(AlertList{Items: alerts, Total: total, Page: page, PageSize: size}))
}

// GetAlert GET /alerts/{id}
func (h *RiskHandler) GetAlert(w http.ResponseWriter, r *http.Request, alertID string) {
	alert, err := h.engine.GetAlert(r.Context(), alertID)
	if err != nil {
		h.fail(w, "GetAlert", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(alert))
}

// Acknowledge POST /alerts/{id}/acknowledge
func (h *RiskHandler) Acknowledge(w http.ResponseWriter, r *http.Request, alertID string) {
	var req AcknowledgeRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		h.fail(w, "Acknowledge", err)
		return
	}
	if err := validateRequest(req); err != nil {
		h.fail(w, "Acknowledge", err)
		return
	}

	alert, err := h.engine.Acknowledge(r.Context(), alertID, req.Responder, req.Note)
	if err != nil {
		h.fail(w, "Acknowledge", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(alert))
}

// Resolve POST /alerts/{id}/resolve
func (h *RiskHandler) Resolve(w http.ResponseWriter, r *http.Request, alertID string) {
	var req ResolveRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		h.fail(w, "Resolve", err)
		return
	}
	if err := validateRequest(req); err != nil {
		h.fail(w, "Resolve", err)
		return
	}

	alert, err := h.engine.Resolve(r.Context(), alertID, req.Responder, req.Summary)
	if err != nil {
		h.fail(w, "Resolve", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(alert))
}

// ListAudit GET /alerts/{id}/audit
func (h *RiskHandler) ListAudit(w http.ResponseWriter, r *http.Request, alertID string) {
	records, err := h.engine.ListAudit(r.Context(), alertID)
	if err != nil {
		h.fail(w, "ListAudit", err)
		return
	}
	if records == nil {
		records = []models.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, Ok(records))
}

// Sweep POST /sweep
func (h *RiskHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		h.fail(w, "Sweep", err)
		return
	}
	now := h.engine.Now()
	if req.Now != nil {
		// 只允许补跑过去的时间点
		if req.Now.After(now) {
			h.fail(w, "Sweep", fmt.Errorf("%w: now must not be later than %s",
				models.ErrInvalidInput, now.UTC().Format(time.RFC3339)))
			return
		}
		now = *req.Now
	}

	report, err := h.engine.RunSweep(r.Context(), now)
	if err != nil {
		h.fail(w, "Sweep", err)
		return
	}
	escalated := report.Escalated
	if escalated == nil {
		escalated = []*models.Alert{}
	}
	writeJSON(w, http.StatusOK, Ok(SweepResult{
		Now:       now,
		Checked:   report.Checked,
		Failed:    report.Failed,
		Escalated: escalated,
	}))
}

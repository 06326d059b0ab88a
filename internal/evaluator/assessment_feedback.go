package evaluator

import (
	"time"

	"wisefido-risk/internal/models"
)

// EmergencyContact 紧急求助方式
type EmergencyContact struct {
	Name   string `json:"name"`
	Number string `json:"number"`
	Note   string `json:"note,omitempty"`
}

// defaultEmergencyContacts 固定的求助热线（临床联系人由护理团队另行提供）
var defaultEmergencyContacts = []EmergencyContact{
	{Name: "Samaritans", Number: "116 123", Note: "24/7, free"},
	{Name: "Emergency", Number: "999", Note: "immediate danger"},
	{Name: "Clinician", Number: "", Note: "provided by your care team"},
}

// EmergencyContacts 求助热线列表（返回副本）
func EmergencyContacts() []EmergencyContact {
	return append([]EmergencyContact(nil), defaultEmergencyContacts...)
}

// PatientFeedback 评估完成后展示给被评估者的反馈
type PatientFeedback struct {
	Level             models.RiskLevel   `json:"risk_level"`
	Message           string             `json:"message"`
	NextSteps         []string           `json:"next_steps"`
	EmergencyContacts []EmergencyContact `json:"emergency_contacts"`
}

type feedbackEntry struct {
	message   string
	nextSteps []string
}

var patientFeedback = map[models.RiskLevel]feedbackEntry{
	models.RiskCritical: {
		message: "You may be at immediate risk of suicide. Please contact your clinician immediately or call 999 if in danger.",
		nextSteps: []string{
			"Contact your clinician immediately",
			"Call Samaritans: 116 123",
			"Call emergency: 999",
			"You will need to complete a safety plan",
		},
	},
	models.RiskHigh: {
		message: "Your responses indicate elevated suicide risk. Your clinician will review this urgently.",
		nextSteps: []string{
			"Your clinician will contact you soon",
			"You will need to complete a safety plan",
			"Emergency: 999 if in immediate danger",
		},
	},
	models.RiskModerate: {
		message: "Your responses show some concerns that your clinician should review.",
		nextSteps: []string{
			"Routine clinician follow-up",
			"Emergency: 999 if in immediate danger",
		},
	},
	models.RiskLow: {
		message: "Your responses don't indicate high suicide risk at this time.",
		nextSteps: []string{
			"No immediate action needed",
			"Emergency: 999 if in immediate danger",
		},
	},
}

// FeedbackForSubject 按风险等级生成被评估者反馈
func FeedbackForSubject(level models.RiskLevel) PatientFeedback {
	entry, ok := patientFeedback[level]
	if !ok {
		entry = feedbackEntry{message: "Assessment complete"}
	}
	return PatientFeedback{
		Level:             level,
		Message:           entry.message,
		NextSteps:         append([]string{}, entry.nextSteps...),
		EmergencyContacts: EmergencyContacts(),
	}
}

// ClinicianSummary 供临床人员复核的评估摘要
type ClinicianSummary struct {
	AssessmentID            string                   `json:"assessment_id"`
	SubjectID               string                   `json:"subject_id"`
	Level                   models.RiskLevel         `json:"risk_level"`
	TotalScore              int                      `json:"total_score"`
	Reasoning               string                   `json:"reasoning"`
	Answers                 models.AssessmentAnswers `json:"answers"`
	AssessedAt              time.Time                `json:"assessed_at"`
	RequiresImmediateAction bool                     `json:"requires_immediate_action"`
	FollowupPlanRequired    bool                     `json:"followup_plan_required"`
}

// SummarizeForClinician 生成临床复核摘要
// high / critical 需要立即处理并制定随访计划
func SummarizeForClinician(resp *models.AssessmentResponse) ClinicianSummary {
	urgent := resp.RiskLevel == models.RiskHigh || resp.RiskLevel == models.RiskCritical
	return ClinicianSummary{
		AssessmentID:            resp.AssessmentID,
		SubjectID:               resp.SubjectID,
		Level:                   resp.RiskLevel,
		TotalScore:              resp.TotalScore,
		Reasoning:               resp.Reasoning,
		Answers:                 resp.Answers,
		AssessedAt:              resp.CreatedAt,
		RequiresImmediateAction: urgent,
		FollowupPlanRequired:    urgent,
	}
}

// ============================================
// 随访安全计划
// ============================================

// FollowupPlanSection 安全计划的一个部分
type FollowupPlanSection struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Hint        string             `json:"hint,omitempty"`
	Defaults    []EmergencyContact `json:"defaults,omitempty"`
}

var followupPlanSections = []FollowupPlanSection{
	{
		ID:          "warning_signs",
		Title:       "Warning Signs",
		Description: "What signs tell you that a crisis is developing?",
		Hint:        "e.g., inability to sleep, increased substance use, social withdrawal",
	},
	{
		ID:          "internal_coping",
		Title:       "Internal Coping Strategies",
		Description: "What can you do on your own when you feel suicidal?",
		Hint:        "e.g., distraction, mindfulness, exercise, journaling",
	},
	{
		ID:          "distraction_people",
		Title:       "People & Places for Distraction",
		Description: "Who and where can help distract you from suicidal thoughts?",
		Hint:        "e.g., trusted friends, family, support groups, safe places",
	},
	{
		ID:          "people_for_help",
		Title:       "People to Contact for Help",
		Description: "Who can you call when in crisis?",
		Hint:        "Include names, relationships, phone numbers",
	},
	{
		ID:          "professionals",
		Title:       "Professional Resources & Services",
		Description: "Emergency and professional contacts",
		Defaults:    defaultEmergencyContacts,
	},
	{
		ID:          "means_safety",
		Title:       "Making Your Environment Safer",
		Description: "Ways to make your environment safer right now",
		Hint:        "e.g., secure medications, remove sharp objects, tell someone where you are",
	},
}

// FollowupPlanSections 安全计划模板（返回副本）
func FollowupPlanSections() []FollowupPlanSection {
	out := make([]FollowupPlanSection, len(followupPlanSections))
	for i, s := range followupPlanSections {
		s.Defaults = append([]EmergencyContact(nil), s.Defaults...)
		out[i] = s
	}
	return out
}

// FollowupPlan 随访安全计划（空白模板，各部分内容待填写）
type FollowupPlan struct {
	SubjectID         string                `json:"subject_id"`
	Sections          []FollowupPlanSection `json:"sections"`
	Entries           map[string]string     `json:"entries"`
	CreatedAt         *time.Time            `json:"created_at"`
	LastReviewedAt    *time.Time            `json:"last_reviewed_at"`
	ClinicianReviewed bool                  `json:"clinician_reviewed"`
}

// NewFollowupPlan 为对象生成空白安全计划
func NewFollowupPlan(subjectID string) FollowupPlan {
	sections := FollowupPlanSections()
	entries := make(map[string]string, len(sections))
	for _, s := range sections {
		entries[s.ID] = ""
	}
	return FollowupPlan{
		SubjectID: subjectID,
		Sections:  sections,
		Entries:   entries,
	}
}

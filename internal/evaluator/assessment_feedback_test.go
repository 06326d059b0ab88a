package evaluator

import (
	"strings"
	"testing"
	"time"

	"wisefido-risk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedbackForSubject(t *testing.T) {
	tests := []struct {
		level       models.RiskLevel
		wantMessage string
		wantSteps   int
		wantPlan    bool
	}{
		{models.RiskCritical, "immediate risk", 4, true},
		{models.RiskHigh, "elevated suicide risk", 3, true},
		{models.RiskModerate, "some concerns", 2, false},
		{models.RiskLow, "don't indicate high suicide risk", 2, false},
		{models.RiskNone, "Assessment complete", 0, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			fb := FeedbackForSubject(tt.level)
			assert.Equal(t, tt.level, fb.Level)
			assert.Contains(t, fb.Message, tt.wantMessage)
			assert.Len(t, fb.NextSteps, tt.wantSteps)
			assert.NotNil(t, fb.NextSteps)
			assert.Equal(t, tt.wantPlan, containsStep(fb.NextSteps, "safety plan"))
			require.Len(t, fb.EmergencyContacts, 3)
			assert.Equal(t, "999", fb.EmergencyContacts[1].Number)
		})
	}
}

func containsStep(steps []string, substr string) bool {
	for _, s := range steps {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func TestFeedbackForSubject_ReturnsCopies(t *testing.T) {
	fb := FeedbackForSubject(models.RiskCritical)
	fb.NextSteps[0] = "changed"
	fb.EmergencyContacts[0].Number = "000"

	again := FeedbackForSubject(models.RiskCritical)
	assert.Equal(t, "Contact your clinician immediately", again.NextSteps[0])
	assert.Equal(t, "116 123", again.EmergencyContacts[0].Number)
}

func TestSummarizeForClinician(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	critical, err := EvaluateAssessment("subject-1", []int{5, 5, 5, 5, 5, 0}, now)
	require.NoError(t, err)
	summary := SummarizeForClinician(critical)
	assert.Equal(t, critical.AssessmentID, summary.AssessmentID)
	assert.Equal(t, "subject-1", summary.SubjectID)
	assert.Equal(t, models.RiskCritical, summary.Level)
	assert.Equal(t, 25, summary.TotalScore)
	assert.Equal(t, ReasonDailyWithPlan, summary.Reasoning)
	assert.Equal(t, now, summary.AssessedAt)
	assert.True(t, summary.RequiresImmediateAction)
	assert.True(t, summary.FollowupPlanRequired)

	moderate, err := EvaluateAssessment("subject-1", []int{1, 1, 0, 0, 0, 0}, now)
	require.NoError(t, err)
	summary = SummarizeForClinician(moderate)
	assert.Equal(t, models.RiskModerate, summary.Level)
	assert.False(t, summary.RequiresImmediateAction)
	assert.False(t, summary.FollowupPlanRequired)
}

func TestNewFollowupPlan(t *testing.T) {
	plan := NewFollowupPlan("subject-1")
	assert.Equal(t, "subject-1", plan.SubjectID)
	require.Len(t, plan.Sections, 6)
	assert.Len(t, plan.Entries, 6)
	for _, s := range plan.Sections {
		v, ok := plan.Entries[s.ID]
		assert.True(t, ok, s.ID)
		assert.Empty(t, v)
	}
	assert.Nil(t, plan.CreatedAt)
	assert.Nil(t, plan.LastReviewedAt)
	assert.False(t, plan.ClinicianReviewed)

	// 专业资源部分预填求助热线
	professionals := plan.Sections[4]
	assert.Equal(t, "professionals", professionals.ID)
	require.Len(t, professionals.Defaults, 3)

	professionals.Defaults[0].Number = "000"
	assert.Equal(t, "116 123", FollowupPlanSections()[4].Defaults[0].Number)
}

package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func durPtr(d time.Duration) *time.Duration { return &d }
func strPtr(s string) *string               { return &s }

func TestAlertState_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to AlertState
		ok       bool
	}{
		{AlertOpen, AlertAcknowledged, true},
		{AlertOpen, AlertEscalated, true},
		{AlertOpen, AlertResolved, true},
		{AlertOpen, AlertOpen, false},
		{AlertEscalated, AlertEscalated, true},
		{AlertEscalated, AlertAcknowledged, true},
		{AlertEscalated, AlertResolved, true},
		{AlertEscalated, AlertOpen, false},
		{AlertAcknowledged, AlertResolved, true},
		{AlertAcknowledged, AlertEscalated, false},
		{AlertAcknowledged, AlertOpen, false},
		{AlertResolved, AlertOpen, false},
		{AlertResolved, AlertAcknowledged, false},
		{AlertResolved, AlertEscalated, false},
		{AlertResolved, AlertResolved, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestAlert_BreachedIntervals(t *testing.T) {
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	alert := &Alert{
		CreatedAt: created,
		State:     AlertOpen,
		Policy:    AlertPolicy{EscalationSLA: durPtr(10 * time.Minute)},
	}

	assert.Equal(t, 0, alert.BreachedIntervals(created.Add(-time.Minute)))
	assert.Equal(t, 0, alert.BreachedIntervals(created.Add(9*time.Minute)))
	assert.Equal(t, 1, alert.BreachedIntervals(created.Add(10*time.Minute)))
	assert.Equal(t, 2, alert.BreachedIntervals(created.Add(25*time.Minute)))

	next := alert.NextEscalationAt()
	require.NotNil(t, next)
	assert.Equal(t, created.Add(10*time.Minute), *next)

	alert.EscalationLevel = 2
	next = alert.NextEscalationAt()
	require.NotNil(t, next)
	assert.Equal(t, created.Add(30*time.Minute), *next)

	routine := &Alert{CreatedAt: created, State: AlertOpen}
	assert.Equal(t, 0, routine.BreachedIntervals(created.Add(24*time.Hour)))
	assert.Nil(t, routine.NextEscalationAt())
}

func TestAlert_ResponseOverdue(t *testing.T) {
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	alert := &Alert{
		CreatedAt: created,
		State:     AlertOpen,
		Policy:    AlertPolicy{ResponseSLA: durPtr(30 * time.Minute)},
	}

	assert.False(t, alert.ResponseOverdue(created.Add(29*time.Minute)))
	assert.True(t, alert.ResponseOverdue(created.Add(30*time.Minute)))

	alert.State = AlertAcknowledged
	assert.False(t, alert.ResponseOverdue(created.Add(time.Hour)))
}

func TestAlert_CloneIsIndependent(t *testing.T) {
	alert := &Alert{
		AlertID: "a-1",
		Trigger: AlertTrigger{Indicators: []string{"hopelessness"}},
		Policy: AlertPolicy{
			EscalationSLA:      durPtr(time.Minute),
			EscalationContacts: []Contact{ContactPrimaryResponder},
		},
		AcknowledgedBy: strPtr("dr_smith"),
	}

	clone := alert.Clone()
	clone.Trigger.Indicators[0] = "changed"
	*clone.Policy.EscalationSLA = time.Hour
	clone.Policy.EscalationContacts[0] = ContactOnCall
	*clone.AcknowledgedBy = "someone_else"

	assert.Equal(t, "hopelessness", alert.Trigger.Indicators[0])
	assert.Equal(t, time.Minute, *alert.Policy.EscalationSLA)
	assert.Equal(t, ContactPrimaryResponder, alert.Policy.EscalationContacts[0])
	assert.Equal(t, "dr_smith", *alert.AcknowledgedBy)
}

func TestTransitionError_Message(t *testing.T) {
	at := time.Date(2026, 3, 4, 10, 15, 0, 0, time.UTC)
	alert := &Alert{
		AlertID:        "a-1",
		State:          AlertAcknowledged,
		AcknowledgedBy: strPtr("dr_smith"),
		AcknowledgedAt: &at,
	}

	err := NewTransitionError(alert)
	assert.True(t, errors.Is(err, ErrAlreadyAcknowledged))
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.False(t, errors.Is(err, ErrAlreadyResolved))
	assert.Equal(t, "alert a-1 already acknowledged by dr_smith at 2026-03-04T10:15:00Z", err.Error())

	stale := NewTransitionError(&Alert{AlertID: "a-2", State: AlertEscalated})
	assert.True(t, errors.Is(stale, ErrStaleState))
	assert.True(t, errors.Is(stale, ErrInvalidTransition))
}

func TestAlertPolicy_JSONKeepsDurations(t *testing.T) {
	policy := AlertPolicy{
		ShouldAlert:        true,
		Urgency:            UrgencyUrgent,
		ResponseSLA:        durPtr(30 * time.Minute),
		EscalationSLA:      durPtr(time.Hour),
		NotifyChannels:     []Channel{ChannelEmail, ChannelInApp},
		EscalationContacts: []Contact{ContactPrimaryResponder, ContactSupervisor},
	}

	data, err := json.Marshal(policy)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"escalation_sla_sec":3600`)

	var decoded AlertPolicy
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, policy, decoded)
}

func TestAlertPolicy_ContactForLevel(t *testing.T) {
	policy := AlertPolicy{EscalationContacts: []Contact{ContactPrimaryResponder, ContactSupervisor}}

	c, ok := policy.ContactForLevel(0)
	assert.True(t, ok)
	assert.Equal(t, ContactPrimaryResponder, c)

	c, _ = policy.ContactForLevel(1)
	assert.Equal(t, ContactSupervisor, c)

	c, _ = policy.ContactForLevel(5)
	assert.Equal(t, ContactSupervisor, c)

	_, ok = AlertPolicy{}.ContactForLevel(1)
	assert.False(t, ok)
}

func TestParseRiskLevel(t *testing.T) {
	l, err := ParseRiskLevel(" High ")
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, l)

	_, err = ParseRiskLevel("amber")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

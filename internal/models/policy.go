package models

import (
	"encoding/json"
	"time"
)

// Urgency 响应紧急程度
type Urgency string

const (
	UrgencyNone      Urgency = "none"
	UrgencyRoutine   Urgency = "routine"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyImmediate Urgency = "immediate"
)

// Channel 通知渠道
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in_app"
)

// Contact 升级联系人角色
type Contact string

const (
	ContactPrimaryResponder Contact = "primary_responder"
	ContactSupervisor       Contact = "supervisor"
	ContactOnCall           Contact = "on_call"
)

// AlertPolicy 报警策略（按风险等级的静态配置，只读）
type AlertPolicy struct {
	ShouldAlert          bool
	Urgency              Urgency
	ResponseSLA          *time.Duration
	EscalationSLA        *time.Duration
	NotifyChannels       []Channel
	EscalationContacts   []Contact
	RequiresFollowupPlan bool
}

// ContactForLevel 第 level 次升级应通知的联系人（0 = 首次通知）
// 超出联系人链长度时停留在链尾
func (p AlertPolicy) ContactForLevel(level int) (Contact, bool) {
	if len(p.EscalationContacts) == 0 {
		return "", false
	}
	if level < 0 {
		level = 0
	}
	if level >= len(p.EscalationContacts) {
		level = len(p.EscalationContacts) - 1
	}
	return p.EscalationContacts[level], true
}

// Clone 深拷贝（报警创建时快照策略）
func (p AlertPolicy) Clone() AlertPolicy {
	out := p
	if p.ResponseSLA != nil {
		d := *p.ResponseSLA
		out.ResponseSLA = &d
	}
	if p.EscalationSLA != nil {
		d := *p.EscalationSLA
		out.EscalationSLA = &d
	}
	out.NotifyChannels = append([]Channel(nil), p.NotifyChannels...)
	out.EscalationContacts = append([]Contact(nil), p.EscalationContacts...)
	return out
}

// policyJSON JSONB 存储格式（SLA 以秒为单位）
type policyJSON struct {
	ShouldAlert          bool      `json:"should_alert"`
	Urgency              Urgency   `json:"urgency"`
	ResponseSLASec       *int64    `json:"response_sla_sec,omitempty"`
	EscalationSLASec     *int64    `json:"escalation_sla_sec,omitempty"`
	NotifyChannels       []Channel `json:"notify_channels"`
	EscalationContacts   []Contact `json:"escalation_contacts"`
	RequiresFollowupPlan bool      `json:"requires_followup_plan"`
}

func durationToSec(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	s := int64(*d / time.Second)
	return &s
}

func secToDuration(s *int64) *time.Duration {
	if s == nil {
		return nil
	}
	d := time.Duration(*s) * time.Second
	return &d
}

// MarshalJSON 策略快照序列化
func (p AlertPolicy) MarshalJSON() ([]byte, error) {
	channels := p.NotifyChannels
	if channels == nil {
		channels = []Channel{}
	}
	contacts := p.EscalationContacts
	if contacts == nil {
		contacts = []Contact{}
	}
	return json.Marshal(policyJSON{
		ShouldAlert:          p.ShouldAlert,
		Urgency:              p.Urgency,
		ResponseSLASec:       durationToSec(p.ResponseSLA),
		EscalationSLASec:     durationToSec(p.EscalationSLA),
		NotifyChannels:       channels,
		EscalationContacts:   contacts,
		RequiresFollowupPlan: p.RequiresFollowupPlan,
	})
}

// UnmarshalJSON 策略快照反序列化
func (p *AlertPolicy) UnmarshalJSON(data []byte) error {
	var raw policyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = AlertPolicy{
		ShouldAlert:          raw.ShouldAlert,
		Urgency:              raw.Urgency,
		ResponseSLA:          secToDuration(raw.ResponseSLASec),
		EscalationSLA:        secToDuration(raw.EscalationSLASec),
		NotifyChannels:       raw.NotifyChannels,
		EscalationContacts:   raw.EscalationContacts,
		RequiresFollowupPlan: raw.RequiresFollowupPlan,
	}
	return nil
}

package policy

import (
	"time"

	"wisefido-risk/internal/models"
)

// 固定 SLA（非终端用户可配置）
const (
	HighResponseSLA       = 30 * time.Minute
	HighEscalationSLA     = 60 * time.Minute
	CriticalResponseSLA   = 10 * time.Minute
	CriticalEscalationSLA = 10 * time.Minute
)

// Resolve 根据风险等级返回报警策略（纯函数，每次返回新值）
// 未知等级按 critical 处理（fail closed）
func Resolve(level models.RiskLevel) models.AlertPolicy {
	switch level {
	case models.RiskNone, models.RiskLow:
		return models.AlertPolicy{
			ShouldAlert:        false,
			Urgency:            models.UrgencyNone,
			NotifyChannels:     []models.Channel{},
			EscalationContacts: []models.Contact{},
		}
	case models.RiskModerate:
		return models.AlertPolicy{
			ShouldAlert:        false,
			Urgency:            models.UrgencyRoutine,
			NotifyChannels:     []models.Channel{},
			EscalationContacts: []models.Contact{},
		}
	case models.RiskHigh:
		return models.AlertPolicy{
			ShouldAlert:   true,
			Urgency:       models.UrgencyUrgent,
			ResponseSLA:   duration(HighResponseSLA),
			EscalationSLA: duration(HighEscalationSLA),
			NotifyChannels: []models.Channel{
				models.ChannelEmail,
				models.ChannelInApp,
			},
			EscalationContacts: []models.Contact{
				models.ContactPrimaryResponder,
				models.ContactSupervisor,
			},
			RequiresFollowupPlan: true,
		}
	case models.RiskCritical:
		return criticalPolicy()
	default:
		return criticalPolicy()
	}
}

func criticalPolicy() models.AlertPolicy {
	return models.AlertPolicy{
		ShouldAlert:   true,
		Urgency:       models.UrgencyImmediate,
		ResponseSLA:   duration(CriticalResponseSLA),
		EscalationSLA: duration(CriticalEscalationSLA),
		NotifyChannels: []models.Channel{
			models.ChannelEmail,
			models.ChannelSMS,
			models.ChannelInApp,
		},
		EscalationContacts: []models.Contact{
			models.ContactPrimaryResponder,
			models.ContactSupervisor,
			models.ContactOnCall,
		},
		RequiresFollowupPlan: true,
	}
}

func duration(d time.Duration) *time.Duration {
	return &d
}

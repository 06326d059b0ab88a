package models

import (
	"time"
)

// AuditAction 审计动作
type AuditAction string

const (
	AuditCreate      AuditAction = "create"
	AuditAcknowledge AuditAction = "acknowledge"
	AuditEscalate    AuditAction = "escalate"
	AuditResolve     AuditAction = "resolve"
)

// AuditRecord 审计记录（每次状态变更一条）
type AuditRecord struct {
	Actor     string      `json:"actor"`
	Action    AuditAction `json:"action"`
	AlertID   string      `json:"alert_id"`
	FromState AlertState  `json:"from_state"`
	ToState   AlertState  `json:"to_state"`
	Timestamp time.Time   `json:"timestamp"`
	Detail    string      `json:"detail"`
}

// SystemActor 系统自动操作（创建、升级）的操作人
const SystemActor = "system"

// NotificationReason 通知原因
type NotificationReason string

const (
	NotifyInitial    NotificationReason = "initial"
	NotifyEscalation NotificationReason = "escalation"
)

// Notification 待投递的通知（引擎只决定发什么、发给谁）
type Notification struct {
	AlertID         string             `json:"alert_id"`
	SubjectID       string             `json:"subject_id"`
	Level           RiskLevel          `json:"level"`
	Urgency         Urgency            `json:"urgency"`
	Channel         Channel            `json:"channel"`
	Recipient       Contact            `json:"recipient"`
	Reason          NotificationReason `json:"reason"`
	EscalationLevel int                `json:"escalation_level"`
	Message         string             `json:"message"`
	CreatedAt       time.Time          `json:"created_at"`
}

// SweepReport 一次 SLA 巡检的结果
type SweepReport struct {
	Checked   int      // 参与检查的报警数
	Escalated []*Alert // 本次升级的报警
	Failed    int      // 处理失败的报警数
}

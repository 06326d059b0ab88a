package models

import (
	"fmt"
	"strings"
)

// RiskLevel 风险等级（封闭枚举，按严重程度排序）
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// AllRiskLevels 按严重程度升序排列
var AllRiskLevels = []RiskLevel{RiskNone, RiskLow, RiskModerate, RiskHigh, RiskCritical}

// Valid 是否为已定义的风险等级
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskNone, RiskLow, RiskModerate, RiskHigh, RiskCritical:
		return true
	default:
		return false
	}
}

// Rank 严重程度序号（none=0 ... critical=4），未知等级返回 -1
func (l RiskLevel) Rank() int {
	switch l {
	case RiskNone:
		return 0
	case RiskLow:
		return 1
	case RiskModerate:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return -1
	}
}

// ParseRiskLevel 解析风险等级（大小写不敏感）
func ParseRiskLevel(s string) (RiskLevel, error) {
	l := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("%w: unknown risk level %q", ErrInvalidInput, s)
	}
	return l, nil
}

// SignalSource 风险信号来源
type SignalSource string

const (
	SourcePatternScan          SignalSource = "pattern_scan"
	SourceStructuredAssessment SignalSource = "structured_assessment"
)

// RiskSignal 风险信号（评分器输出，不单独持久化）
type RiskSignal struct {
	Score        int          `json:"score"`         // 0-100
	Level        RiskLevel    `json:"level"`         // none, low, moderate, high, critical
	Indicators   []string     `json:"indicators"`    // 命中的类别标签（按规则表顺序）
	Confidence   float64      `json:"confidence"`    // 0.0-1.0
	Source       SignalSource `json:"source"`        // pattern_scan, structured_assessment
	Reasoning    string       `json:"reasoning"`     // 可读说明（<=200 字符）
	ActionNeeded bool         `json:"action_needed"` // 建议进行结构化评估
	UrgentAction bool         `json:"urgent_action"` // 需立即通知响应人员
}

// IndicatorSummary 指标摘要（用于报警快照和通知正文）
func (s RiskSignal) IndicatorSummary() string {
	if len(s.Indicators) == 0 {
		return ""
	}
	return strings.Join(s.Indicators, ", ")
}

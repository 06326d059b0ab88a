package evaluator

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"wisefido-risk/internal/models"
)

// DefaultMaxTextLength 单条文本最大长度（字符）
const DefaultMaxTextLength = 10000

// minScorableLength 过短文本直接视为无风险
const minScorableLength = 5

// historyWindow 轨迹判断参考的最近消息条数
const historyWindow = 6

type compiledCategory struct {
	riskCategory
	pattern *regexp.Regexp
}

type compiledMitigator struct {
	key     string
	factor  float64
	pattern *regexp.Regexp
}

// PatternScorer 实时文本风险评分器（关键词/短语加权，纯函数）
// 构造后只读，可被任意多个 goroutine 并发调用
type PatternScorer struct {
	maxTextLength int
	categories    []compiledCategory
	mitigators    []compiledMitigator
	protective    *regexp.Regexp
	ideation      *regexp.Regexp
}

// NewPatternScorer 创建评分器并预编译全部规则
func NewPatternScorer(maxTextLength int) *PatternScorer {
	if maxTextLength <= 0 {
		maxTextLength = DefaultMaxTextLength
	}

	s := &PatternScorer{maxTextLength: maxTextLength}

	for _, c := range riskCategories {
		cc := compiledCategory{riskCategory: c, pattern: compileKeywords(c.keywords)}
		s.categories = append(s.categories, cc)
		if c.key == categoryDirectIdeation {
			s.ideation = cc.pattern
		}
	}
	for _, m := range contextMitigators {
		s.mitigators = append(s.mitigators, compiledMitigator{
			key:     m.key,
			factor:  m.factor,
			pattern: compileKeywords(m.keywords),
		})
	}
	s.protective = compileKeywords(protectiveFactors)

	return s
}

// compileKeywords 将关键词合并为一个带单词边界的正则
func compileKeywords(keywords []string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(keywords, "|") + `)\b`)
}

// Score 对单条文本评分
func (s *PatternScorer) Score(text string) (models.RiskSignal, error) {
	return s.ScoreWithHistory(text, nil)
}

// ScoreWithHistory 结合最近的用户消息评分（history 为时间升序的用户消息文本）
func (s *PatternScorer) ScoreWithHistory(text string, history []string) (models.RiskSignal, error) {
	if utf8.RuneCountInString(text) > s.maxTextLength {
		return models.RiskSignal{}, fmt.Errorf("%w: text exceeds %d characters", models.ErrInvalidInput, s.maxTextLength)
	}

	normalized := normalizeText(text)
	if utf8.RuneCountInString(normalized) < minScorableLength {
		return noRiskSignal(), nil
	}

	// 1. 关键词命中（同类最多计 3 次）
	raw := 0
	var indicators []string
	matched := make(map[string]bool)
	weights := make(map[int]bool)
	for _, c := range s.categories {
		count := len(c.pattern.FindAllStringIndex(normalized, -1))
		if count == 0 {
			continue
		}
		if count > maxMatchesPerCategory {
			count = maxMatchesPerCategory
		}
		raw += c.weight * count
		indicators = append(indicators, c.label)
		matched[c.key] = true
		weights[c.weight] = true
	}

	if len(indicators) == 0 {
		return noRiskSignal(), nil
	}

	// 2. 语境折扣 + 保护因素（有下限，不会清零）
	factor := 1.0
	for _, m := range s.mitigators {
		if m.pattern.MatchString(normalized) {
			factor *= m.factor
		}
	}
	if n := len(s.protective.FindAllStringIndex(normalized, -1)); n > 0 {
		factor *= math.Max(1.0-float64(n)*protectiveStep, 0)
	}
	if factor < minDiscountFactor {
		factor = minDiscountFactor
	}

	// 3. 会话轨迹
	trajectory := s.trajectoryFactor(matched, history)

	score := int(math.Floor(float64(raw)*factor*trajectory + 1e-9))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	level := levelForScore(score, len(indicators))
	confidence := confidenceFor(len(indicators), len(weights))

	return models.RiskSignal{
		Score:        score,
		Level:        level,
		Indicators:   indicators,
		Confidence:   confidence,
		Source:       models.SourcePatternScan,
		Reasoning:    buildReasoning(indicators, trajectory, confidence),
		ActionNeeded: level == models.RiskHigh || level == models.RiskCritical,
		UrgentAction: level == models.RiskCritical,
	}, nil
}

// trajectoryFactor 风险是否在升级：计划/紧迫信号 1.5，反复出现意念 1.3，否则 1.0
func (s *PatternScorer) trajectoryFactor(matched map[string]bool, history []string) float64 {
	if len(history) < 2 {
		return 1.0
	}

	factor := 1.0
	if matched[categoryDirectPlanning] || matched[categoryImminentWarning] {
		factor = 1.5
	}
	if matched[categoryDirectIdeation] && factor < 1.3 {
		recent := history
		if len(recent) > historyWindow {
			recent = recent[len(recent)-historyWindow:]
		}
		repeats := 0
		for _, msg := range recent {
			if s.ideation.MatchString(normalizeText(msg)) {
				repeats++
			}
		}
		if repeats >= 2 {
			factor = 1.3
		}
	}
	return factor
}

// levelForScore 分数到等级的固定断点
// 0 且无指标: none; <30: low; 30-60: moderate; 61-75: high; >=76: critical
func levelForScore(score, indicatorCount int) models.RiskLevel {
	switch {
	case score == 0 && indicatorCount == 0:
		return models.RiskNone
	case score < 30:
		return models.RiskLow
	case score <= 60:
		return models.RiskModerate
	case score <= 75:
		return models.RiskHigh
	default:
		return models.RiskCritical
	}
}

// confidenceFor 置信度只取决于命中类别数量和权重多样性，与分数无关
func confidenceFor(categories, distinctWeights int) float64 {
	if categories == 0 {
		return 0.2
	}
	c := 0.35 + 0.12*float64(categories) + 0.06*float64(distinctWeights-1)
	if c > 0.95 {
		c = 0.95
	}
	return math.Round(c*100) / 100
}

func buildReasoning(indicators []string, trajectory, confidence float64) string {
	shown := indicators
	if len(shown) > 2 {
		shown = shown[:2]
	}
	reasoning := fmt.Sprintf("Detected: %s. ", strings.Join(shown, ", "))
	if trajectory > 1.0 {
		reasoning += "Risk escalating. "
	}
	reasoning += fmt.Sprintf("Confidence: %d%%", int(math.Round(confidence*100)))
	if len(reasoning) > 200 {
		reasoning = reasoning[:200]
	}
	return reasoning
}

func noRiskSignal() models.RiskSignal {
	return models.RiskSignal{
		Score:      0,
		Level:      models.RiskNone,
		Indicators: []string{},
		Confidence: 0.2,
		Source:     models.SourcePatternScan,
		Reasoning:  "No risk indicators detected.",
	}
}

// normalizeText 小写、去首尾空白、统一弯引号
func normalizeText(text string) string {
	text = strings.NewReplacer("’", "'", "‘", "'").Replace(text)
	return strings.ToLower(strings.TrimSpace(text))
}

// DescribeIndicators 将指标标签转换为面向响应人员的说明
func DescribeIndicators(indicators []string) string {
	parts := make([]string, 0, len(indicators))
	for _, ind := range indicators {
		text := ind
		for _, c := range riskCategories {
			if c.label == ind || c.key == ind {
				text = c.display
				break
			}
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, ", ")
}

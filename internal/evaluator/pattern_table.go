package evaluator

// 风险关键词表（正则片段，匹配前文本已转小写）
// 权重固定，不对终端用户开放配置

// riskCategory 风险类别定义
type riskCategory struct {
	key      string // 内部标识
	label    string // 指标标签（写入 RiskSignal.Indicators）
	display  string // 面向响应人员的说明
	weight   int
	keywords []string
}

const (
	categoryDirectIdeation  = "direct_ideation"
	categoryDirectPlanning  = "direct_planning"
	categoryImminentWarning = "imminent_warning"
)

var riskCategories = []riskCategory{
	{
		key:     categoryDirectIdeation,
		label:   "direct ideation",
		display: "Active suicidal thinking",
		weight:  30,
		keywords: []string{
			`kill myself`, `killing myself`, `suicide`, `suicidal`,
			`end my life`, `end it all`, `want to die`, `wanna die`,
			`wish i was dead`, `wish i were dead`, `better off dead`,
			`take my own life`, `taking my own life`, `hang myself`,
			`don't want to live`, `don't want to be alive`,
			`can't go on`, `no reason to live`, `not worth living`,
			`thinking about ending`,
		},
	},
	{
		key:     categoryDirectPlanning,
		label:   "direct planning",
		display: "Mentioned suicide plans",
		weight:  35,
		keywords: []string{
			`i have a plan`, `i've planned`, `i've thought about how`,
			`i've decided`, `i've made up my mind`,
			`left a note`, `wrote a note`, `getting my affairs in order`,
			`gather(?:ing|ed)? (?:pills|supplies)`, `stockpil(?:ing|ed) (?:pills|meds|medication)`,
			`research(?:ed|ing)? methods`, `look(?:ed)? up how`,
			`when i'm gone`, `after i'm gone`, `before i do it`,
			`bought a rope`,
		},
	},
	{
		key:     "past_attempt",
		label:   "past attempt",
		display: "History of past attempt",
		weight:  30,
		keywords: []string{
			`i tried to kill`, `attempted suicide`, `tried to overdose`,
			`hurt myself on purpose`, `took a bunch of pills`,
			`my (?:first|last|previous) attempt`,
		},
	},
	{
		key:     "hopelessness",
		label:   "hopelessness",
		display: "Feelings of hopelessness",
		weight:  15,
		keywords: []string{
			`hopeless`, `no hope`, `lost all hope`, `pointless`, `meaningless`,
			`worthless`, `never get better`, `always be like this`, `stuck forever`,
			`trapped`, `no way out`, `nothing will change`, `nothing works`,
			`give up`, `given up`, `empty inside`, `numb`,
		},
	},
	{
		key:     "burdensomeness",
		label:   "burdensomeness",
		display: "Feels like a burden to others",
		weight:  12,
		keywords: []string{
			`burden(?:ing|some)?`, `better off without me`, `be better without me`,
			`my fault`, `holding them back`, `drag(?:ging)? them down`,
			`failed them`, `let everyone down`, `letting people down`,
			`shouldn't be here`, `don't deserve to`,
		},
	},
	{
		key:     "isolation",
		label:   "isolation",
		display: "Social isolation or disconnection",
		weight:  10,
		keywords: []string{
			`alone`, `lonely`, `loneliness`, `no one cares`, `nobody cares`,
			`no one would notice`, `nobody likes me`, `no friends`, `isolated`,
			`cut off from`, `left out`, `unloved`, `unwanted`, `no one understands`,
		},
	},
	{
		key:     "behavioral_change",
		label:   "behavioral change",
		display: "Recent behavioral changes",
		weight:  14,
		keywords: []string{
			`stopped taking my (?:meds|medication)`, `stopped my meds`,
			`giving away`, `given away`, `gave away my`,
			`saying goodbye`, `said goodbye`, `farewell`, `pushing people away`,
			`stopped eating`, `not eating`, `can't sleep`, `not sleeping`,
			`started drinking`, `self[- ]harm`, `cutting myself`, `cut myself`,
			`hurting myself`, `reckless`,
		},
	},
	{
		key:     categoryImminentWarning,
		label:   "imminent warning",
		display: "Urgent/imminent warning signs",
		weight:  20,
		keywords: []string{
			`tonight`, `this weekend`, `today is the day`, `can't hold on`,
			`can't take it anymore`, `can't take it`, `last time`, `never again`,
			`see you on the other side`, `don't call me`, `don't contact me`,
			`losing control`, `out of control`, `can't cope`,
		},
	},
	{
		key:     "substance_risk",
		label:   "substance risk",
		display: "Substance use as risk factor",
		weight:  8,
		keywords: []string{
			`drinking`, `drunk`, `alcohol`, `cocaine`, `heroin`, `opioids?`,
			`xanax`, `benzos?`, `stoned`, `took too many`, `mixing (?:drugs|pills)`,
		},
	},
}

// contextMitigator 语境折扣（过去时、假设、求助、否认），每类最多生效一次
type contextMitigator struct {
	key      string
	factor   float64
	keywords []string
}

var contextMitigators = []contextMitigator{
	{
		key:    "past_tense",
		factor: 0.6,
		keywords: []string{
			`used to`, `when i was`, `years ago`, `before treatment`, `before therapy`,
			`before i got help`, `no longer`, `not anymore`, `behind me`,
			`i've recovered`, `i've overcome`, `back then`,
		},
	},
	{
		key:    "hypothetical",
		factor: 0.7,
		keywords: []string{
			`what if`, `imagine if`, `hypothetically`, `in theory`, `if i were`,
			`in a story`, `for a novel`, `a character who`,
		},
	},
	{
		key:    "asking_for_help",
		factor: 0.5,
		keywords: []string{
			`need help`, `want help`, `get help`, `should i call`, `what should i do`,
			`how can i cope`, `crisis line`, `helpline`, `talking to you helps`, `this helps`,
		},
	},
	{
		key:    "denial",
		factor: 0.4,
		keywords: []string{
			`i would never`, `i'd never`, `not suicidal`, `just joking`, `just kidding`,
			`i'm not going to hurt myself`,
		},
	},
}

// protectiveFactors 保护因素，每次命中折扣 15%
var protectiveFactors = []string{
	`looking forward to`, `excited about`, `my kids`, `my children`,
	`my family needs me`, `reasons to live`, `therapy is helping`, `getting better`,
	`supportive (?:friends|family|partner)`, `committed to (?:living|recovery)`,
	`my faith`, `gave me hope`,
}

const (
	protectiveStep        = 0.15
	minDiscountFactor     = 0.25 // 折扣下限：只降低，不消除
	maxMatchesPerCategory = 3
)

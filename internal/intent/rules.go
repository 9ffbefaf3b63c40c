package intent

// Backend capability names the router understands. Order within a rule is
// the dispatch priority.
const (
	BackendNLQ        = "structured_query"
	BackendAnomaly    = "anomaly"
	BackendForecast   = "forecast"
	BackendGeneration = "generation"
)

// RuleTableVersion is bumped whenever the rule data below changes, so a
// stored classification can be traced to the rules that produced it.
const RuleTableVersion = 1

// Rule maps question patterns to an intent and its ordered backend set.
// Keeping this as data instead of prose prompts makes each routing decision
// unit-testable in isolation.
type Rule struct {
	Intent   Intent
	Patterns []string
	Backends []string
}

// Evaluation order matters: prescriptive and predictive phrasings embed
// words ("how", "what") that would otherwise fall through to descriptive.
var ruleTable = []Rule{
	{
		Intent: Prescriptive,
		Patterns: []string{
			"how can i", "how do i improve", "how should i", "should i",
			"what can i do", "improve", "optimize", "recommend",
		},
		Backends: []string{BackendNLQ, BackendGeneration},
	},
	{
		Intent: Predictive,
		Patterns: []string{
			"will ", "predict", "forecast", "projection", "expect next",
			"going to",
		},
		Backends: []string{BackendForecast},
	},
	{
		Intent: Diagnostic,
		Patterns: []string{
			"why", "what caused", "what happened to", "reason for",
			"explain the drop", "explain the spike",
		},
		Backends: []string{BackendNLQ, BackendAnomaly},
	},
	{
		Intent: Descriptive,
		Patterns: []string{
			"what", "show", "list", "how many", "how much", "compare",
			"top", "which", "rank",
		},
		Backends: []string{BackendNLQ},
	},
}

// ambiguousTerms are metric words with more than one reading in this
// domain. They force a clarification turn; the classifier never picks one
// silently.
var ambiguousTerms = map[string][]string{
	"engagement": {"open rate", "click rate"},
	"reach":      {"total sends", "delivered volume"},
}

// offTopicTerms trip the scope guard outright.
var offTopicTerms = []string{
	"weather", "stock price", "stock market", "recipe", "sports score",
	"movie", "song", "translate", "joke", "poem", "medical", "lawyer",
	"password", "social security", "my salary", "dating",
}

// domainTerms is the vocabulary that marks a question as in-scope for
// campaign analytics.
var domainTerms = []string{
	"campaign", "link", "click", "open", "send", "sends", "bounce",
	"delivery", "deliver", "unsubscribe", "conversion", "ctr", "rate",
	"engagement", "reach", "performance", "benchmark", "market", "region",
	"audience", "newsletter", "email", "impression", "traffic", "metric",
	"kpi", "roi", "revenue",
}

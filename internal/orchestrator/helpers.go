package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/campaigniq/backend/internal/benchmark"
	"github.com/campaigniq/backend/internal/conversation"
	"github.com/campaigniq/backend/internal/intent"
	"github.com/campaigniq/backend/internal/resolver"
	"github.com/campaigniq/backend/internal/timeparse"
)

const outOfScopeMessage = "I can help with marketing campaign performance — " +
	"delivery, engagement, conversions, forecasts and benchmarks. That question " +
	"is outside what I can answer."

// dataCapabilities filters the classifier's backend plan down to the
// dispatchable data capabilities; generation runs after dispatch, fed by
// their output.
func dataCapabilities(backends []string) []string {
	caps := make([]string, 0, len(backends))
	for _, b := range backends {
		if b == intent.BackendGeneration {
			continue
		}
		caps = append(caps, b)
	}
	return caps
}

func termClarification(cls intent.Classification, originalQuery string) conversation.Clarification {
	interp := cls.Interpretations[0]
	return conversation.Clarification{
		Kind: conversation.ClarifyTerm,
		Prompt: fmt.Sprintf("By %q do you mean %s?",
			interp.Term, strings.Join(interp.Options, " or ")),
		Options: interp.Options,
		Payload: map[string]string{"query": originalQuery, "term": interp.Term},
	}
}

func entityClarification(resolved *resolver.Resolved, originalQuery string) conversation.Clarification {
	options := append(resolved.DisplayNames(), "all")
	data, _ := json.Marshal(resolved)
	return conversation.Clarification{
		Kind:    conversation.ClarifyEntity,
		Prompt:  fmt.Sprintf("I found %d matching campaigns. Which one did you mean?", len(resolved.Candidates)),
		Options: options,
		Payload: map[string]string{"query": originalQuery, "candidates": string(data)},
	}
}

func dateClarification(now time.Time, originalQuery string) conversation.Clarification {
	options := []string{"last week", "last month", "last quarter", "year to date"}
	labels := make([]string, 0, len(options))
	for _, opt := range options {
		if r, err := timeparse.Resolve(opt, now); err == nil {
			labels = append(labels, fmt.Sprintf("%s (%s)", opt, r.String()))
		}
	}
	return conversation.Clarification{
		Kind:    conversation.ClarifyDate,
		Prompt:  "Which period did you mean: " + strings.Join(labels, ", ") + "?",
		Options: options,
		Payload: map[string]string{"query": originalQuery},
	}
}

func benchmarkClarification(d benchmark.ModeDecision, originalQuery string) conversation.Clarification {
	return conversation.Clarification{
		Kind:    conversation.ClarifyBenchmark,
		Prompt:  d.Prompt,
		Options: d.Options,
		Payload: map[string]string{"query": originalQuery},
	}
}

// metricForInterpretation maps a clarified interpretation label back to the
// canonical metric column.
func metricForInterpretation(choice string) string {
	switch strings.ToLower(choice) {
	case "open rate":
		return "open_rate"
	case "click rate", "click-through rate":
		return "click_rate"
	case "messages sent":
		return "sent_count"
	case "messages delivered":
		return "delivered_count"
	}
	return strings.ReplaceAll(strings.ToLower(choice), " ", "_")
}

var metricVocabulary = []struct {
	phrase string
	metric string
}{
	{"open rate", "open_rate"},
	{"opens", "open_rate"},
	{"click rate", "click_rate"},
	{"click-through", "click_rate"},
	{"clicks", "click_rate"},
	{"bounce rate", "bounce_rate"},
	{"bounces", "bounce_rate"},
	{"unsubscribe", "unsubscribe_rate"},
	{"conversion rate", "conversion_rate"},
	{"conversions", "conversion_rate"},
	{"delivered", "delivered_count"},
	{"sends", "sent_count"},
	{"sent", "sent_count"},
}

func chooseMetric(query, override string) string {
	if override != "" {
		return override
	}
	q := strings.ToLower(query)
	for _, entry := range metricVocabulary {
		if strings.Contains(q, entry.phrase) {
			return entry.metric
		}
	}
	return ""
}

func mentionsBenchmark(query string) bool {
	q := strings.ToLower(query)
	for _, term := range []string{"benchmark", "compare", "compared", "comparison", "how does this stack", "versus", " vs "} {
		if strings.Contains(q, term) {
			return true
		}
	}
	// "What is a good click rate?" is a benchmark question without any
	// comparison vocabulary.
	return benchmark.AsksQuality(q)
}

var (
	quotedRe   = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	campaignRe = regexp.MustCompile(`(?i)(?:campaign|link)s?\s+(?:called\s+|named\s+)?([A-Za-z0-9][\w-]*(?:[ _-][\w-]+){0,3})`)
	forRe      = regexp.MustCompile(`(?i)\bfor\s+(?:the\s+)?([A-Z][\w-]*(?:[ _-][A-Za-z0-9][\w-]*){0,3})`)
)

// stopTokens end a keyword capture so trailing clause words don't ride
// along ("EX30 Launch last month" keeps only the name).
var stopTokens = map[string]bool{
	"last": true, "this": true, "past": true, "previous": true, "over": true,
	"in": true, "during": true, "since": true, "between": true, "and": true,
	"campaign": true, "campaigns": true, "performing": true, "doing": true,
	"compared": true, "versus": true, "vs": true, "year": true, "month": true,
	"week": true, "quarter": true,
}

// extractEntityKeyword pulls the most plausible campaign reference out of
// the question: quoted text first, then "campaign <name>" shapes, then a
// capitalized phrase after "for".
func extractEntityKeyword(query string) string {
	if m := quotedRe.FindStringSubmatch(query); m != nil {
		if m[1] != "" {
			return m[1]
		}
		return m[2]
	}
	for _, re := range []*regexp.Regexp{campaignRe, forRe} {
		if m := re.FindStringSubmatch(query); m != nil {
			return trimStopTokens(m[1])
		}
	}
	return ""
}

func trimStopTokens(phrase string) string {
	words := strings.Fields(phrase)
	kept := make([]string, 0, len(words))
	for _, w := range words {
		if stopTokens[strings.ToLower(w)] {
			break
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// expandFollowUp prepends the prior turn's subject so the expanded query
// classifies and resolves the way a fully-specified question would.
func expandFollowUp(query string, entities []string, metric, timeRange string) string {
	var parts []string
	if len(entities) > 0 {
		parts = append(parts, "regarding "+strings.Join(entities, ", "))
	}
	if metric != "" {
		parts = append(parts, strings.ReplaceAll(metric, "_", " "))
	}
	if timeRange != "" {
		parts = append(parts, timeRange)
	}
	if len(parts) == 0 {
		return query
	}
	return query + " (" + strings.Join(parts, "; ") + ")"
}

func noMatchMessage(nm *resolver.NoMatchError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I couldn't find a campaign matching %q", nm.Keyword)
	if len(nm.VariantsTried) > 1 {
		fmt.Fprintf(&b, " (I also tried %d spelling variants)", len(nm.VariantsTried)-1)
	}
	b.WriteString(".")
	if len(nm.RecentNames) > 0 {
		b.WriteString(" Recent campaigns: " + strings.Join(nm.RecentNames, ", ") + ".")
	}
	if len(nm.TopNames) > 0 {
		b.WriteString(" Top performers: " + strings.Join(nm.TopNames, ", ") + ".")
	}
	return b.String()
}

func degradedNote(missing []string) string {
	labels := make([]string, 0, len(missing))
	for _, m := range missing {
		switch m {
		case intent.BackendNLQ:
			labels = append(labels, "detailed metrics")
		case intent.BackendAnomaly:
			labels = append(labels, "anomaly detection")
		case intent.BackendForecast:
			labels = append(labels, "forecasting")
		default:
			labels = append(labels, m)
		}
	}
	return "Partial answer: " + strings.Join(labels, ", ") + " unavailable right now."
}

func joinSections(a, b string) string {
	if a == "" {
		return b
	}
	return a + "\n\n" + b
}

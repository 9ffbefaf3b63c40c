// Package eval validates produced answers in three cost tiers: structural
// checks that cost nothing, heuristic consistency checks, and a generative
// judge reserved for answers that earn escalation. Evaluation tags answers;
// it never blocks them.
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/campaigniq/backend/internal/benchmark"
	"github.com/campaigniq/backend/internal/enhancer"
	"github.com/campaigniq/backend/internal/intent"
	"github.com/campaigniq/backend/internal/llm"
	"github.com/campaigniq/backend/internal/router"
	"github.com/campaigniq/backend/pkg/logger"
)

// Answer tags surfaced to the client alongside the response.
const (
	TagVerified   = "verified"
	TagFlagged    = "flagged"
	TagUnverified = "unverified"
)

type Result struct {
	Tier   int
	Passed bool
	Score  float64
	Reason string
	Tag    string
}

type Judge interface {
	JudgeAnswer(ctx context.Context, question, answer, dataBlock string) (*llm.Verdict, error)
}

type Input struct {
	RequestID      string
	Query          string
	Intent         intent.Intent
	Answer         *enhancer.Enhanced
	Results        *router.ResultSet
	TimeRangeLabel string
}

type Evaluator struct {
	judge      Judge
	sampleRate float64

	mu           sync.Mutex
	seenPatterns map[string]bool
}

func New(judge Judge, sampleRate float64) *Evaluator {
	return &Evaluator{
		judge:        judge,
		sampleRate:   sampleRate,
		seenPatterns: make(map[string]bool),
	}
}

// answerSchema is the structural contract every answer must meet before it
// leaves the system.
const answerSchema = `{
	"type": "object",
	"required": ["text"],
	"properties": {
		"text": {"type": "string", "minLength": 1},
		"rows": {
			"type": "array",
			"items": {"type": "object"}
		},
		"comparison": {
			"type": "object",
			"properties": {
				"mode": {"type": "string"},
				"variance": {"type": "number"}
			}
		}
	}
}`

var schemaLoader = gojsonschema.NewStringLoader(answerSchema)

// Evaluate runs the tiers in order. A failing tier short-circuits with its
// tag; Tier 3 runs only when 1 and 2 pass and the escalation policy says so.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) Result {
	if res := e.tier1(in); !res.Passed {
		logger.Warn("Answer failed structural evaluation",
			zap.String("request_id", in.RequestID),
			zap.String("reason", res.Reason),
		)
		return res
	}

	tier2 := e.tier2(in)
	if !tier2.Passed {
		logger.Warn("Answer failed heuristic evaluation",
			zap.String("request_id", in.RequestID),
			zap.String("reason", tier2.Reason),
		)
		return tier2
	}

	if !e.shouldEscalate(in, tier2.Score) {
		return Result{Tier: 2, Passed: true, Score: tier2.Score, Tag: TagVerified}
	}
	return e.tier3(ctx, in)
}

func (e *Evaluator) tier1(in Input) Result {
	payload := map[string]interface{}{
		"text": in.Answer.Text,
	}
	if len(in.Answer.Rows) > 0 {
		payload["rows"] = in.Answer.Rows
	}
	if in.Answer.Comparison != nil {
		payload["comparison"] = map[string]interface{}{
			"mode":     string(in.Answer.Comparison.Mode),
			"variance": in.Answer.Comparison.Variance,
		}
	}

	doc, err := json.Marshal(payload)
	if err != nil {
		return Result{Tier: 1, Reason: "answer not serializable", Tag: TagFlagged}
	}
	validation, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return Result{Tier: 1, Reason: fmt.Sprintf("schema validation error: %v", err), Tag: TagFlagged}
	}
	if !validation.Valid() {
		reasons := make([]string, 0, len(validation.Errors()))
		for _, desc := range validation.Errors() {
			reasons = append(reasons, desc.String())
		}
		return Result{Tier: 1, Reason: strings.Join(reasons, "; "), Tag: TagFlagged}
	}

	for _, row := range in.Answer.Rows {
		for key, v := range row {
			if !strings.Contains(key, "rate") && !strings.HasSuffix(key, "_pct") {
				continue
			}
			if f, ok := toFloat(v); ok && (f < 0 || f > 100) {
				return Result{
					Tier:   1,
					Reason: fmt.Sprintf("rate column %q out of range: %v", key, f),
					Tag:    TagFlagged,
				}
			}
		}
	}

	if res, ok := in.Results.Get(intent.BackendNLQ); ok && res.GeneratedQuery != "" {
		if reason := checkQueryShape(res.GeneratedQuery); reason != "" {
			return Result{Tier: 1, Reason: reason, Tag: TagFlagged}
		}
	}

	return Result{Tier: 1, Passed: true, Score: 1.0}
}

// checkQueryShape is a sanity gate, not a SQL parser: read-only statement,
// balanced parentheses.
func checkQueryShape(query string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(query))
	if !strings.HasPrefix(trimmed, "SELECT") && !strings.HasPrefix(trimmed, "WITH") {
		return "generated query is not a read statement"
	}
	depth := 0
	for _, r := range query {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return "generated query has unbalanced parentheses"
			}
		}
	}
	if depth != 0 {
		return "generated query has unbalanced parentheses"
	}
	return ""
}

// tier2 scores intent/shape consistency, benchmark alignment and temporal
// echo. Failing any hard check fails the tier; soft checks lower the score.
func (e *Evaluator) tier2(in Input) Result {
	score := 1.0

	switch in.Intent {
	case intent.Predictive:
		if res, ok := in.Results.Get(intent.BackendForecast); !ok || len(res.Points) == 0 {
			if !in.Results.Degraded {
				return Result{Tier: 2, Reason: "predictive answer without forecast data", Tag: TagFlagged}
			}
			score -= 0.2
		}
	case intent.Descriptive, intent.Diagnostic, intent.Prescriptive:
		if len(in.Answer.Rows) == 0 && !in.Results.Degraded && in.Answer.Comparison == nil {
			hasPoints := false
			if res, ok := in.Results.Get(intent.BackendAnomaly); ok && len(res.Points) > 0 {
				hasPoints = true
			}
			if !hasPoints {
				return Result{Tier: 2, Reason: "data-backed answer carries no data", Tag: TagFlagged}
			}
		}
	}

	if c := in.Answer.Comparison; c != nil && c.Mode != benchmark.ModeIndustry {
		text := strings.ToLower(in.Answer.Text)
		if c.Variance > 0 && strings.Contains(text, "below the reference") {
			return Result{Tier: 2, Reason: "benchmark direction contradicts variance", Tag: TagFlagged}
		}
		if c.Variance < 0 && strings.Contains(text, "above the reference") {
			return Result{Tier: 2, Reason: "benchmark direction contradicts variance", Tag: TagFlagged}
		}
	}

	if in.TimeRangeLabel != "" && !strings.Contains(in.Answer.Text, in.TimeRangeLabel) {
		score -= 0.2
	}
	if in.Results.Degraded {
		score -= 0.1
	}

	return Result{Tier: 2, Passed: true, Score: score}
}

const lowConfidenceFloor = 0.7

func (e *Evaluator) shouldEscalate(in Input, tier2Score float64) bool {
	if e.judge == nil {
		return false
	}
	if tier2Score < lowConfidenceFloor {
		return true
	}
	if e.isNovelPattern(in) {
		return true
	}
	return e.sampled(in.RequestID)
}

// isNovelPattern tracks intent/capability signatures; the first request of
// each shape since process start earns a judge pass.
func (e *Evaluator) isNovelPattern(in Input) bool {
	caps := make([]string, 0, len(in.Results.Results))
	for name := range in.Results.Results {
		caps = append(caps, name)
	}
	// Map order is irrelevant once sorted into the signature.
	sort.Strings(caps)
	sig := string(in.Intent) + "|" + strings.Join(caps, ",")

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seenPatterns[sig] {
		return false
	}
	e.seenPatterns[sig] = true
	return true
}

// sampled deterministically selects a fraction of requests by hashing the
// request ID, so reprocessing a request makes the same decision.
func (e *Evaluator) sampled(requestID string) bool {
	if e.sampleRate <= 0 {
		return false
	}
	h := fnv.New32a()
	h.Write([]byte(requestID))
	return float64(h.Sum32()%10000) < e.sampleRate*10000
}

func (e *Evaluator) tier3(ctx context.Context, in Input) Result {
	dataBlock := buildDataBlock(in.Results, in.Answer.Comparison)

	verdict, err := e.judge.JudgeAnswer(ctx, in.Query, in.Answer.Text, dataBlock)
	if err != nil {
		logger.Warn("Generative judge unavailable",
			zap.String("request_id", in.RequestID),
			zap.Error(err),
		)
		return Result{Tier: 3, Passed: true, Reason: "judge unavailable", Tag: TagUnverified}
	}

	if !verdict.Faithful || !verdict.Complete || verdict.Score < lowConfidenceFloor {
		return Result{Tier: 3, Score: verdict.Score, Reason: verdict.Reasoning, Tag: TagFlagged}
	}
	return Result{Tier: 3, Passed: true, Score: verdict.Score, Tag: TagVerified}
}

func buildDataBlock(results *router.ResultSet, cmp *benchmark.Comparison) string {
	var b strings.Builder
	for name, res := range results.Results {
		fmt.Fprintf(&b, "[%s]\n", name)
		if res.GeneratedQuery != "" {
			fmt.Fprintf(&b, "query: %s\n", res.GeneratedQuery)
		}
		for _, row := range res.Rows {
			data, _ := json.Marshal(row)
			b.Write(data)
			b.WriteString("\n")
		}
		for _, p := range res.Points {
			fmt.Fprintf(&b, "%s value=%.2f\n", p.Timestamp.Format("2006-01-02"), p.Value)
		}
	}
	if cmp != nil {
		data, _ := json.Marshal(cmp)
		b.Write(data)
		b.WriteString("\n")
	}
	return b.String()
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

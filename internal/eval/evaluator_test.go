package eval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaigniq/backend/internal/benchmark"
	"github.com/campaigniq/backend/internal/enhancer"
	"github.com/campaigniq/backend/internal/intent"
	"github.com/campaigniq/backend/internal/llm"
	"github.com/campaigniq/backend/internal/router"
)

type stubJudge struct {
	verdict *llm.Verdict
	err     error
	calls   int
}

func (j *stubJudge) JudgeAnswer(context.Context, string, string, string) (*llm.Verdict, error) {
	j.calls++
	return j.verdict, j.err
}

func descriptiveInput(text string, rows []map[string]interface{}) Input {
	return Input{
		RequestID: "req-1",
		Query:     "open rate last month",
		Intent:    intent.Descriptive,
		Answer:    &enhancer.Enhanced{Text: text, Rows: rows},
		Results: &router.ResultSet{Results: map[string]*router.Result{
			intent.BackendNLQ: {Rows: rows},
		}},
	}
}

func TestTier1EmptyAnswerTextFails(t *testing.T) {
	e := New(nil, 0)
	res := e.Evaluate(context.Background(), descriptiveInput("", []map[string]interface{}{{"open_rate": 24.3}}))
	assert.Equal(t, 1, res.Tier)
	assert.False(t, res.Passed)
	assert.Equal(t, TagFlagged, res.Tag)
}

func TestTier1RateOutOfRangeFails(t *testing.T) {
	e := New(nil, 0)
	res := e.Evaluate(context.Background(),
		descriptiveInput("Open rate was 130%.", []map[string]interface{}{{"open_rate": 130.0}}))
	assert.Equal(t, 1, res.Tier)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Reason, "out of range")
}

func TestTier1RejectsNonReadQueries(t *testing.T) {
	e := New(nil, 0)
	in := descriptiveInput("done", []map[string]interface{}{{"open_rate": 24.3}})
	in.Results.Results[intent.BackendNLQ].GeneratedQuery = "DELETE FROM campaign_events"

	res := e.Evaluate(context.Background(), in)
	assert.Equal(t, 1, res.Tier)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Reason, "not a read statement")
}

func TestTier1RejectsUnbalancedParentheses(t *testing.T) {
	e := New(nil, 0)
	in := descriptiveInput("done", []map[string]interface{}{{"open_rate": 24.3}})
	in.Results.Results[intent.BackendNLQ].GeneratedQuery = "SELECT count(* FROM events"

	res := e.Evaluate(context.Background(), in)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Reason, "unbalanced")
}

func TestTier1AcceptsCTEs(t *testing.T) {
	e := New(nil, 0)
	in := descriptiveInput("done", []map[string]interface{}{{"open_rate": 24.3}})
	in.Results.Results[intent.BackendNLQ].GeneratedQuery =
		"WITH recent AS (SELECT * FROM events) SELECT avg(open_rate) FROM recent"

	res := e.Evaluate(context.Background(), in)
	assert.True(t, res.Passed)
}

func TestTier2PredictiveWithoutForecastFails(t *testing.T) {
	e := New(nil, 0)
	res := e.Evaluate(context.Background(), Input{
		RequestID: "req-2",
		Intent:    intent.Predictive,
		Answer:    &enhancer.Enhanced{Text: "Expect opens to rise."},
		Results:   &router.ResultSet{Results: map[string]*router.Result{}},
	})
	assert.Equal(t, 2, res.Tier)
	assert.False(t, res.Passed)
	assert.Equal(t, TagFlagged, res.Tag)
}

func TestTier2PredictiveDegradedPassesWithLowerScore(t *testing.T) {
	e := New(nil, 0)
	res := e.Evaluate(context.Background(), Input{
		RequestID: "req-3",
		Intent:    intent.Predictive,
		Answer:    &enhancer.Enhanced{Text: "Partial answer: forecasting unavailable right now."},
		Results:   &router.ResultSet{Results: map[string]*router.Result{}, Degraded: true, Missing: []string{"forecast"}},
	})
	assert.True(t, res.Passed)
	assert.Equal(t, TagVerified, res.Tag)
	assert.InDelta(t, 0.7, res.Score, 1e-9)
}

func TestTier2DescriptiveWithoutAnyDataFails(t *testing.T) {
	e := New(nil, 0)
	res := e.Evaluate(context.Background(), descriptiveInput("Everything looks fine.", nil))
	assert.Equal(t, 2, res.Tier)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Reason, "no data")
}

func TestTier2BenchmarkDirectionMismatchFails(t *testing.T) {
	e := New(nil, 0)
	in := descriptiveInput("Your open rate is below the reference of 20.0%.",
		[]map[string]interface{}{{"open_rate": 25.0}})
	in.Answer.Comparison = &benchmark.Comparison{
		Mode:     benchmark.ModeInternalTemporal,
		Variance: 0.25,
	}

	res := e.Evaluate(context.Background(), in)
	assert.Equal(t, 2, res.Tier)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Reason, "contradicts")
}

func TestTier2MissingTimeRangeEchoLowersScore(t *testing.T) {
	e := New(nil, 0)
	in := descriptiveInput("Open rate was 24.3%.", []map[string]interface{}{{"open_rate": 24.3}})
	in.TimeRangeLabel = "Jul 1–Jul 31, 2026"

	res := e.Evaluate(context.Background(), in)
	assert.True(t, res.Passed)
	assert.InDelta(t, 0.8, res.Score, 1e-9)
}

func TestNovelPatternEscalatesOnce(t *testing.T) {
	judge := &stubJudge{verdict: &llm.Verdict{Faithful: true, Complete: true, Score: 0.95}}
	e := New(judge, 0)

	first := e.Evaluate(context.Background(),
		descriptiveInput("Open rate was 24.3%.", []map[string]interface{}{{"open_rate": 24.3}}))
	assert.Equal(t, 3, first.Tier)
	assert.Equal(t, TagVerified, first.Tag)
	assert.Equal(t, 1, judge.calls)

	second := e.Evaluate(context.Background(),
		descriptiveInput("Open rate was 22.1%.", []map[string]interface{}{{"open_rate": 22.1}}))
	assert.Equal(t, 2, second.Tier, "same intent/capability shape must not re-escalate")
	assert.Equal(t, 1, judge.calls)
}

func TestJudgeUnavailableTagsUnverified(t *testing.T) {
	judge := &stubJudge{err: errors.New("model down")}
	e := New(judge, 0)

	res := e.Evaluate(context.Background(),
		descriptiveInput("Open rate was 24.3%.", []map[string]interface{}{{"open_rate": 24.3}}))
	assert.Equal(t, 3, res.Tier)
	assert.True(t, res.Passed, "evaluation tags, never blocks")
	assert.Equal(t, TagUnverified, res.Tag)
}

func TestFailingVerdictTagsFlagged(t *testing.T) {
	judge := &stubJudge{verdict: &llm.Verdict{Faithful: false, Complete: true, Score: 0.9,
		Reasoning: "answer cites a figure absent from the data"}}
	e := New(judge, 0)

	res := e.Evaluate(context.Background(),
		descriptiveInput("Open rate was 99.9%.", []map[string]interface{}{{"open_rate": 24.3}}))
	assert.Equal(t, 3, res.Tier)
	assert.False(t, res.Passed)
	assert.Equal(t, TagFlagged, res.Tag)
	assert.NotEmpty(t, res.Reason)
}

func TestSamplingIsDeterministicPerRequestID(t *testing.T) {
	e := New(&stubJudge{}, 0.1)

	for _, id := range []string{"req-a", "req-b", "req-c", "req-d"} {
		first := e.sampled(id)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, e.sampled(id), id)
		}
	}
}

func TestSamplingDisabledAtZeroRate(t *testing.T) {
	e := New(&stubJudge{}, 0)
	require.False(t, e.sampled("req-anything"))
}

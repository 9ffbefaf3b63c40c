// Package enhancer turns raw backend results into the answer a user reads.
// Formatting is deterministic code; the generation backend is consulted only
// for diagnostic and prescriptive narrative, never for numbers.
package enhancer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/campaigniq/backend/internal/benchmark"
	"github.com/campaigniq/backend/internal/intent"
	"github.com/campaigniq/backend/internal/router"
	"github.com/campaigniq/backend/pkg/logger"
)

// defaultListCap bounds ranked listings when no cap is configured;
// entity-search listings are exempt.
const defaultListCap = 10

type Generator interface {
	GenerateInsights(ctx context.Context, question, dataBlock string, prescriptive bool) (string, error)
}

type Input struct {
	Query           string
	Intent          intent.Intent
	Results         *router.ResultSet
	Comparison      *benchmark.Comparison
	DisplayEntities []string
	TimeRangeLabel  string
}

type Enhanced struct {
	Text             string
	Rows             []map[string]interface{}
	Comparison       *benchmark.Comparison
	Insights         string
	VizHint          string
	Truncated        int
	GenerationFailed bool
}

type Enhancer struct {
	gen             Generator
	chartGeneration bool
	listCap         int
}

func New(gen Generator, chartGeneration bool, rankedListCap int) *Enhancer {
	if rankedListCap <= 0 {
		rankedListCap = defaultListCap
	}
	return &Enhancer{gen: gen, chartGeneration: chartGeneration, listCap: rankedListCap}
}

func (e *Enhancer) Enhance(ctx context.Context, in Input) *Enhanced {
	out := &Enhanced{Comparison: in.Comparison}

	var sections []string

	if len(in.DisplayEntities) > 0 || in.TimeRangeLabel != "" {
		sections = append(sections, contextEcho(in.DisplayEntities, in.TimeRangeLabel))
	}

	if res, ok := in.Results.Get(intent.BackendNLQ); ok && len(res.Rows) > 0 {
		rows := orderRows(res.Rows)
		shown := rows
		if len(rows) > e.listCap {
			shown = rows[:e.listCap]
			out.Truncated = len(rows) - e.listCap
		}
		out.Rows = shown
		sections = append(sections, formatRows(shown))
		if out.Truncated > 0 {
			sections = append(sections, fmt.Sprintf("%d more available.", out.Truncated))
		}
	}

	if res, ok := in.Results.Get(intent.BackendAnomaly); ok && len(res.Points) > 0 {
		sections = append(sections, formatAnomalies(res.Points))
	}
	if res, ok := in.Results.Get(intent.BackendForecast); ok && len(res.Points) > 0 {
		sections = append(sections, formatForecast(res.Points, e.listCap))
	}

	if in.Comparison != nil {
		sections = append(sections, formatComparison(in.Comparison))
	}

	if wantsInsights(in.Intent) {
		insights, err := e.gen.GenerateInsights(ctx, in.Query,
			strings.Join(sections, "\n"), in.Intent == intent.Prescriptive)
		if err != nil {
			logger.Warn("Insight generation failed", zap.Error(err))
			out.GenerationFailed = true
		} else {
			out.Insights = insights
			sections = append(sections, insights)
		}
	}

	if e.chartGeneration && wantsChart(in.Query) {
		out.VizHint = vizHint(in)
	}

	out.Text = strings.Join(sections, "\n\n")
	return out
}

func wantsInsights(i intent.Intent) bool {
	return i == intent.Diagnostic || i == intent.Prescriptive
}

var chartWords = []string{"chart", "plot", "graph", "visualize", "visualization", "visualise"}

func wantsChart(query string) bool {
	q := strings.ToLower(query)
	for _, w := range chartWords {
		if strings.Contains(q, w) {
			return true
		}
	}
	return false
}

func vizHint(in Input) string {
	if _, ok := in.Results.Get(intent.BackendForecast); ok {
		return "line"
	}
	if _, ok := in.Results.Get(intent.BackendAnomaly); ok {
		return "line"
	}
	return "bar"
}

func contextEcho(entities []string, timeRange string) string {
	var b strings.Builder
	b.WriteString("Showing")
	if len(entities) > 0 {
		b.WriteString(" ")
		b.WriteString(strings.Join(entities, ", "))
	} else {
		b.WriteString(" results")
	}
	if timeRange != "" {
		b.WriteString(" for ")
		b.WriteString(timeRange)
	}
	b.WriteString(".")
	return b.String()
}

// orderRows sorts time-keyed rows most recent first; rows without a
// recognizable time column keep backend order (assumed ranked).
func orderRows(rows []map[string]interface{}) []map[string]interface{} {
	timeKey := ""
	for _, key := range []string{"event_date", "date", "week", "month", "period"} {
		if len(rows) > 0 {
			if _, ok := rows[0][key]; ok {
				timeKey = key
				break
			}
		}
	}
	if timeKey == "" {
		return rows
	}

	ordered := make([]map[string]interface{}, len(rows))
	copy(ordered, rows)
	sort.SliceStable(ordered, func(i, j int) bool {
		return fmt.Sprint(ordered[i][timeKey]) > fmt.Sprint(ordered[j][timeKey])
	})
	return ordered
}

func formatRows(rows []map[string]interface{}) string {
	if len(rows) == 0 {
		return ""
	}

	keys := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %s", k, FormatValue(k, row[k])))
		}
		lines = append(lines, strings.Join(parts, ", "))
	}
	return strings.Join(lines, "\n")
}

func formatAnomalies(points []router.Point) string {
	anomalous := make([]router.Point, 0, len(points))
	for _, p := range points {
		if p.IsAnomaly {
			anomalous = append(anomalous, p)
		}
	}
	if len(anomalous) == 0 {
		return "No anomalies detected in the selected range."
	}

	sort.Slice(anomalous, func(i, j int) bool {
		return anomalous[i].Timestamp.After(anomalous[j].Timestamp)
	})
	lines := make([]string, 0, len(anomalous)+1)
	lines = append(lines, fmt.Sprintf("%d anomalies detected:", len(anomalous)))
	for _, p := range anomalous {
		lines = append(lines, fmt.Sprintf("- %s: observed %s, expected %s",
			p.Timestamp.Format("2006-01-02"), FormatNumber(p.Value), FormatNumber(p.Expected)))
	}
	return strings.Join(lines, "\n")
}

func formatForecast(points []router.Point, listCap int) string {
	ordered := make([]router.Point, len(points))
	copy(ordered, points)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.After(ordered[j].Timestamp)
	})

	lines := make([]string, 0, len(ordered)+1)
	lines = append(lines, "Forecast (with confidence interval):")
	shown := ordered
	if len(shown) > listCap {
		shown = shown[:listCap]
	}
	for _, p := range shown {
		lines = append(lines, fmt.Sprintf("- %s: %s (%s–%s)",
			p.Timestamp.Format("2006-01-02"),
			FormatNumber(p.Value), FormatNumber(p.Lower), FormatNumber(p.Upper)))
	}
	if len(ordered) > listCap {
		lines = append(lines, fmt.Sprintf("%d more available.", len(ordered)-listCap))
	}
	return strings.Join(lines, "\n")
}

func formatComparison(c *benchmark.Comparison) string {
	var b strings.Builder
	switch c.Mode {
	case benchmark.ModeIndustry:
		fmt.Fprintf(&b, "Against industry references your %s of %s rates %s (typical range %s).",
			metricLabel(c.Metric), FormatRate(c.SubjectValue), c.Status, c.ThresholdRange)
		if c.Thresholds != nil {
			fmt.Fprintf(&b, " Reference bands: %s.", formatBands(c.Thresholds))
		}
		if len(c.Sources) > 0 {
			fmt.Fprintf(&b, " Sources: %s.", strings.Join(c.Sources, ", "))
		}
	default:
		direction := "above"
		if c.Variance < 0 {
			direction = "below"
		}
		fmt.Fprintf(&b, "Your %s of %s is %s %s the reference of %s.",
			metricLabel(c.Metric), FormatRate(c.SubjectValue),
			FormatRate(abs(c.Variance)*100), direction, FormatRate(c.ReferenceValue))
	}
	for _, caveat := range c.Caveats {
		b.WriteString(" ")
		b.WriteString(caveat)
	}
	return b.String()
}

// formatBands enumerates every industry band with its numeric bounds, in
// the same orientation classify uses (inverted metrics flip the labels).
func formatBands(t *benchmark.Thresholds) string {
	labels := []string{
		benchmark.StatusCritical, benchmark.StatusWarning, benchmark.StatusGood,
		benchmark.StatusStrong, benchmark.StatusExcellent,
	}
	if t.Inverted {
		labels = []string{
			benchmark.StatusExcellent, benchmark.StatusStrong, benchmark.StatusGood,
			benchmark.StatusWarning, benchmark.StatusCritical,
		}
	}
	c := t.Cutoffs
	parts := []string{
		fmt.Sprintf("%s below %s", labels[0], FormatRate(c[0])),
		fmt.Sprintf("%s %s–%s", labels[1], FormatRate(c[0]), FormatRate(c[1])),
		fmt.Sprintf("%s %s–%s", labels[2], FormatRate(c[1]), FormatRate(c[2])),
		fmt.Sprintf("%s %s–%s", labels[3], FormatRate(c[2]), FormatRate(c[3])),
		fmt.Sprintf("%s %s and above", labels[4], FormatRate(c[3])),
	}
	return strings.Join(parts, ", ")
}

func metricLabel(metric string) string {
	return strings.ReplaceAll(metric, "_", " ")
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// FormatRate renders a percentage to one decimal place.
func FormatRate(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

// FormatCount renders an integer with thousands separators.
func FormatCount(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)

	out := strings.Join(parts, ",")
	if neg {
		out = "-" + out
	}
	return out
}

// FormatNumber picks count or one-decimal formatting by whether the value
// is integral.
func FormatNumber(v float64) string {
	if v == float64(int64(v)) {
		return FormatCount(int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}

// FormatValue applies rate formatting to rate-named columns and count
// grouping to integral numerics; everything else prints as-is.
func FormatValue(key string, v interface{}) string {
	isRate := strings.Contains(key, "rate") || strings.HasSuffix(key, "_pct")
	switch n := v.(type) {
	case float64:
		if isRate {
			return FormatRate(n)
		}
		return FormatNumber(n)
	case int64:
		if isRate {
			return FormatRate(float64(n))
		}
		return FormatCount(n)
	case int:
		if isRate {
			return FormatRate(float64(n))
		}
		return FormatCount(int64(n))
	default:
		return fmt.Sprint(v)
	}
}

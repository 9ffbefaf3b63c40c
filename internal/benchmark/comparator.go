// Package benchmark answers "is this number good?" two ways: against the
// business's own history (internal modes) or against published industry
// references (industry mode). Mode selection is explicit; a bare request to
// "benchmark" is never silently defaulted.
package benchmark

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/campaigniq/backend/pkg/logger"
)

type Mode string

const (
	ModeIndustry         Mode = "industry"
	ModeInternalRegional Mode = "internal_regional"
	ModeInternalTemporal Mode = "internal_temporal"
	ModeInternalMarket   Mode = "internal_market_to_market"
)

// Status labels for industry comparisons, worst to best.
const (
	StatusCritical  = "Critical"
	StatusWarning   = "Warning"
	StatusGood      = "Good"
	StatusStrong    = "Strong"
	StatusExcellent = "Excellent"
)

var ErrNoReference = errors.New("no benchmark reference available")

// Scope describes what a value was measured over; mismatched scopes get an
// explicit like-for-like caveat, never a silent comparison.
type Scope struct {
	Market   string
	Category string
	Period   string
}

func (s Scope) equal(o Scope) bool {
	return strings.EqualFold(s.Market, o.Market) &&
		strings.EqualFold(s.Category, o.Category) &&
		strings.EqualFold(s.Period, o.Period)
}

// Side is one side of a comparison. Volume is net delivered (sends minus
// bounces), the denominator that decides statistical reliability.
type Side struct {
	Value  float64
	Volume int64
	Scope  Scope
}

type Comparison struct {
	Mode           Mode
	Metric         string
	SubjectValue   float64
	ReferenceValue float64
	Variance       float64
	LowSample      bool
	Caveats        []string
	Status         string
	ThresholdRange string
	// Thresholds carries the full industry band cutoffs so the answer can
	// enumerate every band, not just the one the subject landed in.
	Thresholds *Thresholds
	Sources    []string
}

// ModeDecision is the outcome of reading benchmark vocabulary out of a
// question. When the phrasing is underspecified the decision asks for
// clarification instead of guessing.
type ModeDecision struct {
	Mode               Mode
	NeedsClarification bool
	Prompt             string
	Options            []string
}

var industryTerms = []string{"industry", "typical", "standard for", "norm", "everyone else", "market average"}

// qualityTerms are the "is this number good?" phrasings. Without an internal
// scope to compare against they mean the published industry references.
var qualityTerms = []string{"a good", "a healthy", "a normal", "a reasonable", "good enough", "is that good", "is this good", "is it good", "healthy"}

// AsksQuality reports whether the question asks what a good value looks
// like ("what is a good click rate?"), which is an industry-reference
// question even without the word "benchmark".
func AsksQuality(query string) bool {
	q := strings.ToLower(query)
	for _, term := range qualityTerms {
		if strings.Contains(q, term) {
			return true
		}
	}
	return false
}

// regionNames is the roll-up vocabulary: a named region next to a single
// market means "that market against its region", not market-to-market.
var regionNames = []string{"emea", "apac", "amer", "latam", "dach", "benelux"}

// DecideMode maps benchmark phrasing to a mode. Explicit industry vocabulary
// wins; an explicit internal scope ("vs last year", "vs germany", named
// market) picks the matching internal mode; a bare "benchmark"/"compare"
// starts the two-level clarification.
func DecideMode(query string, knownMarkets []string) ModeDecision {
	q := strings.ToLower(query)

	for _, term := range industryTerms {
		if strings.Contains(q, term) {
			return ModeDecision{Mode: ModeIndustry}
		}
	}
	if AsksQuality(q) {
		return ModeDecision{Mode: ModeIndustry}
	}

	mentionsRegion := strings.Contains(q, "region") || strings.Contains(q, "average") ||
		strings.Contains(q, "overall") || strings.Contains(q, "rest of")
	for _, r := range regionNames {
		if strings.Contains(q, r) {
			mentionsRegion = true
			break
		}
	}

	mentionsMarket := 0
	for _, m := range knownMarkets {
		lm := strings.ToLower(m)
		if lm == "" || !strings.Contains(q, lm) {
			continue
		}
		// A region name configured as a market still reads as a region.
		if isRegionName(lm) {
			continue
		}
		mentionsMarket++
	}
	switch {
	case mentionsMarket >= 1 && mentionsRegion:
		return ModeDecision{Mode: ModeInternalRegional}
	case mentionsMarket >= 2:
		return ModeDecision{Mode: ModeInternalMarket}
	case strings.Contains(q, "last year") || strings.Contains(q, "year over year") ||
		strings.Contains(q, "yoy") || strings.Contains(q, "previous period") ||
		strings.Contains(q, "month over month") || strings.Contains(q, "mom"):
		return ModeDecision{Mode: ModeInternalTemporal}
	}

	return ModeDecision{
		NeedsClarification: true,
		Prompt:             "Benchmark against your own historical data, or against industry references?",
		Options:            []string{"internal", "industry"},
	}
}

func isRegionName(m string) bool {
	for _, r := range regionNames {
		if r == m {
			return true
		}
	}
	return false
}

// DecideInternalVariant is the second clarification level after the user
// picks "internal".
func DecideInternalVariant(reply string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(reply)) {
	case "year over year", "yoy", "1":
		return ModeInternalTemporal, true
	case "month over month", "mom", "2":
		return ModeInternalTemporal, true
	case "regional average", "regional", "3":
		return ModeInternalRegional, true
	case "market to market", "market-to-market", "4":
		return ModeInternalMarket, true
	}
	return "", false
}

// InternalVariantOptions is the prompt vocabulary for the second level.
func InternalVariantOptions() []string {
	return []string{"year over year", "month over month", "regional average", "market to market"}
}

// Thresholds are industry reference cutoffs for one metric, ascending when
// higher is better. Inverted metrics (bounce, unsubscribe) flip the bands.
type Thresholds struct {
	Cutoffs  [4]float64
	Inverted bool
}

func (t Thresholds) classify(value float64) string {
	labels := []string{StatusCritical, StatusWarning, StatusGood, StatusStrong, StatusExcellent}
	if t.Inverted {
		labels = []string{StatusExcellent, StatusStrong, StatusGood, StatusWarning, StatusCritical}
	}
	for i, cutoff := range t.Cutoffs {
		if value < cutoff {
			return labels[i]
		}
	}
	return labels[4]
}

func (t Thresholds) rangeString() string {
	return fmt.Sprintf("%.1f%%–%.1f%%", t.Cutoffs[0], t.Cutoffs[3])
}

// Retriever fetches industry thresholds for a metric; backed by semantic
// search over the ingested benchmark collection.
type Retriever interface {
	Thresholds(ctx context.Context, metric, channel string) (*Thresholds, []string, error)
}

type Comparator struct {
	retriever     Retriever
	minSampleSize int64
}

func New(retriever Retriever, minSampleSize int64) *Comparator {
	if minSampleSize <= 0 {
		minSampleSize = 100
	}
	return &Comparator{retriever: retriever, minSampleSize: minSampleSize}
}

// CompareInternal computes the relative variance of subject against an
// internal reference: (subject − reference) / reference.
func (c *Comparator) CompareInternal(mode Mode, metric string, subject, reference Side) (*Comparison, error) {
	if reference.Value == 0 {
		return nil, fmt.Errorf("%w: reference value is zero", ErrNoReference)
	}

	cmp := &Comparison{
		Mode:           mode,
		Metric:         metric,
		SubjectValue:   subject.Value,
		ReferenceValue: reference.Value,
		Variance:       (subject.Value - reference.Value) / reference.Value,
	}

	if subject.Volume < c.minSampleSize || reference.Volume < c.minSampleSize {
		cmp.LowSample = true
		cmp.Caveats = append(cmp.Caveats,
			fmt.Sprintf("Based on fewer than %d delivered messages; treat as directional only.", c.minSampleSize))
	}
	if !subject.Scope.equal(reference.Scope) {
		cmp.Caveats = append(cmp.Caveats, scopeCaveat(subject.Scope, reference.Scope))
	}

	logger.Debug("Internal comparison computed",
		zap.String("mode", string(mode)),
		zap.String("metric", metric),
		zap.Float64("variance", cmp.Variance),
		zap.Bool("low_sample", cmp.LowSample),
	)
	return cmp, nil
}

// CompareIndustry classifies the subject value against retrieved industry
// thresholds. No retrievable reference is an error, never a made-up range.
func (c *Comparator) CompareIndustry(ctx context.Context, metric, channel string, subject Side) (*Comparison, error) {
	if c.retriever == nil {
		return nil, fmt.Errorf("%w: no industry retriever configured", ErrNoReference)
	}
	thresholds, sources, err := c.retriever.Thresholds(ctx, metric, channel)
	if err != nil {
		return nil, fmt.Errorf("industry reference lookup failed: %w", err)
	}
	if thresholds == nil {
		return nil, fmt.Errorf("%w: no published reference for %s", ErrNoReference, metric)
	}

	cmp := &Comparison{
		Mode:           ModeIndustry,
		Metric:         metric,
		SubjectValue:   subject.Value,
		Status:         thresholds.classify(subject.Value),
		ThresholdRange: thresholds.rangeString(),
		Thresholds:     thresholds,
		Sources:        sources,
	}

	if subject.Volume < c.minSampleSize {
		cmp.LowSample = true
		cmp.Caveats = append(cmp.Caveats,
			fmt.Sprintf("Based on fewer than %d delivered messages; treat as directional only.", c.minSampleSize))
	}

	logger.Debug("Industry comparison computed",
		zap.String("metric", metric),
		zap.String("status", cmp.Status),
		zap.String("range", cmp.ThresholdRange),
	)
	return cmp, nil
}

func scopeCaveat(subject, reference Scope) string {
	diffs := make([]string, 0, 3)
	if !strings.EqualFold(subject.Market, reference.Market) {
		diffs = append(diffs, fmt.Sprintf("markets differ (%s vs %s)", orAny(subject.Market), orAny(reference.Market)))
	}
	if !strings.EqualFold(subject.Category, reference.Category) {
		diffs = append(diffs, fmt.Sprintf("categories differ (%s vs %s)", orAny(subject.Category), orAny(reference.Category)))
	}
	if !strings.EqualFold(subject.Period, reference.Period) {
		diffs = append(diffs, fmt.Sprintf("periods differ (%s vs %s)", orAny(subject.Period), orAny(reference.Period)))
	}
	return "Not a like-for-like comparison: " + strings.Join(diffs, "; ") + "."
}

func orAny(s string) string {
	if s == "" {
		return "all"
	}
	return s
}

// VectorRetriever parses thresholds out of benchmark passages retrieved by
// semantic search. Passages carry percentages in prose; the four smallest
// distinct values found across the top passages become the cutoffs.
type VectorRetriever struct {
	embedder Embedder
	searcher Searcher
	topK     int
}

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type Searcher interface {
	SearchChunks(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]Passage, error)
}

// Passage is one retrieved benchmark excerpt.
type Passage struct {
	Text      string
	SourceURL string
	Metric    string
}

func NewVectorRetriever(embedder Embedder, searcher Searcher) *VectorRetriever {
	return &VectorRetriever{embedder: embedder, searcher: searcher, topK: 5}
}

var invertedMetrics = map[string]bool{
	"bounce_rate":      true,
	"unsubscribe_rate": true,
	"spam_rate":        true,
}

var percentRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)

func (r *VectorRetriever) Thresholds(ctx context.Context, metric, channel string) (*Thresholds, []string, error) {
	query := fmt.Sprintf("typical %s benchmarks for %s campaigns", strings.ReplaceAll(metric, "_", " "), channel)
	embedding, err := r.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to embed benchmark query: %w", err)
	}

	passages, err := r.searcher.SearchChunks(ctx, embedding, r.topK, map[string]string{
		"metric":  metric,
		"channel": channel,
	})
	if err != nil {
		return nil, nil, err
	}
	if len(passages) == 0 {
		return nil, nil, nil
	}

	values := make([]float64, 0, 8)
	sources := make([]string, 0, len(passages))
	seenSource := make(map[string]bool)
	for _, p := range passages {
		for _, m := range percentRe.FindAllStringSubmatch(p.Text, -1) {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil && v <= 100 {
				values = append(values, v)
			}
		}
		if p.SourceURL != "" && !seenSource[p.SourceURL] {
			seenSource[p.SourceURL] = true
			sources = append(sources, p.SourceURL)
		}
	}
	if len(values) < 4 {
		return nil, sources, nil
	}

	sort.Float64s(values)
	values = dedupe(values)
	if len(values) < 4 {
		return nil, sources, nil
	}

	// Spread four cutoffs across the observed reference values.
	t := &Thresholds{Inverted: invertedMetrics[metric]}
	n := len(values)
	t.Cutoffs = [4]float64{
		values[0],
		values[n/3],
		values[2*n/3],
		values[n-1],
	}
	return t, sources, nil
}

func dedupe(sorted []float64) []float64 {
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}

package benchmark

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var markets = []string{"germany", "france", "uk", "spain", "italy", "nordics"}

func TestDecideModeIndustryVocabularyWins(t *testing.T) {
	for _, q := range []string{
		"is 24% open rate good for the industry?",
		"what's typical for email campaigns?",
		"how do we compare to the market average in germany vs france?",
	} {
		d := DecideMode(q, markets)
		assert.Equal(t, ModeIndustry, d.Mode, q)
		assert.False(t, d.NeedsClarification, q)
	}
}

func TestDecideModeQualityPhrasingMeansIndustry(t *testing.T) {
	for _, q := range []string{
		"What is a good click rate?",
		"is 2.4% a healthy click rate",
		"what does a normal open rate look like",
	} {
		d := DecideMode(q, markets)
		assert.Equal(t, ModeIndustry, d.Mode, q)
		assert.False(t, d.NeedsClarification, q)
	}
}

func TestDecideModeTwoMarketsMeansMarketToMarket(t *testing.T) {
	d := DecideMode("compare open rates in Germany vs France", markets)
	assert.Equal(t, ModeInternalMarket, d.Mode)
}

func TestDecideModeTemporalVocabulary(t *testing.T) {
	for _, q := range []string{
		"how does this compare to last year?",
		"click rate yoy",
		"bounce rate month over month",
	} {
		d := DecideMode(q, markets)
		assert.Equal(t, ModeInternalTemporal, d.Mode, q)
	}
}

func TestDecideModeSingleMarketAgainstAverage(t *testing.T) {
	d := DecideMode("how is germany doing against the regional average", markets)
	assert.Equal(t, ModeInternalRegional, d.Mode)
}

func TestDecideModeRegionNameMeansRegional(t *testing.T) {
	d := DecideMode("Compare Germany to EMEA", markets)
	assert.Equal(t, ModeInternalRegional, d.Mode)

	// A region configured in the market list still reads as a region.
	d = DecideMode("Compare Germany to EMEA", append(markets, "emea"))
	assert.Equal(t, ModeInternalRegional, d.Mode)

	d = DecideMode("how does france stack up against apac", markets)
	assert.Equal(t, ModeInternalRegional, d.Mode)
}

func TestDecideModeBareBenchmarkAsksForClarification(t *testing.T) {
	d := DecideMode("benchmark my open rate", markets)
	assert.True(t, d.NeedsClarification)
	assert.Equal(t, []string{"internal", "industry"}, d.Options)
	assert.NotEmpty(t, d.Prompt)
}

func TestDecideInternalVariant(t *testing.T) {
	cases := map[string]Mode{
		"yoy":              ModeInternalTemporal,
		"Year over year":   ModeInternalTemporal,
		"2":                ModeInternalTemporal,
		"regional average": ModeInternalRegional,
		"market to market": ModeInternalMarket,
		"4":                ModeInternalMarket,
	}
	for reply, want := range cases {
		mode, ok := DecideInternalVariant(reply)
		require.True(t, ok, reply)
		assert.Equal(t, want, mode, reply)
	}

	_, ok := DecideInternalVariant("whatever")
	assert.False(t, ok)
}

func TestCompareInternalVariance(t *testing.T) {
	c := New(nil, 100)

	cmp, err := c.CompareInternal(ModeInternalTemporal, "open_rate",
		Side{Value: 25, Volume: 5000},
		Side{Value: 20, Volume: 5000},
	)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, cmp.Variance, 1e-9)
	assert.False(t, cmp.LowSample)
	assert.Empty(t, cmp.Caveats)
}

func TestCompareInternalZeroReferenceIsNoReference(t *testing.T) {
	c := New(nil, 100)
	_, err := c.CompareInternal(ModeInternalTemporal, "open_rate",
		Side{Value: 25, Volume: 5000},
		Side{Value: 0, Volume: 5000},
	)
	assert.ErrorIs(t, err, ErrNoReference)
}

func TestCompareInternalLowSampleCaveat(t *testing.T) {
	c := New(nil, 100)
	cmp, err := c.CompareInternal(ModeInternalRegional, "open_rate",
		Side{Value: 25, Volume: 40},
		Side{Value: 20, Volume: 5000},
	)
	require.NoError(t, err)
	assert.True(t, cmp.LowSample)
	require.NotEmpty(t, cmp.Caveats)
	assert.Contains(t, cmp.Caveats[0], "directional")
}

func TestCompareInternalScopeMismatchCaveat(t *testing.T) {
	c := New(nil, 100)
	cmp, err := c.CompareInternal(ModeInternalMarket, "open_rate",
		Side{Value: 25, Volume: 5000, Scope: Scope{Market: "germany", Period: "2026-07"}},
		Side{Value: 20, Volume: 5000, Scope: Scope{Market: "france", Period: "2026-06"}},
	)
	require.NoError(t, err)
	require.Len(t, cmp.Caveats, 1)
	assert.Contains(t, cmp.Caveats[0], "Not a like-for-like comparison")
	assert.Contains(t, cmp.Caveats[0], "markets differ")
	assert.Contains(t, cmp.Caveats[0], "periods differ")
	assert.NotContains(t, cmp.Caveats[0], "categories differ")
}

func TestThresholdsClassify(t *testing.T) {
	thr := Thresholds{Cutoffs: [4]float64{15, 20, 25, 30}}

	assert.Equal(t, StatusCritical, thr.classify(10))
	assert.Equal(t, StatusWarning, thr.classify(17))
	assert.Equal(t, StatusGood, thr.classify(22))
	assert.Equal(t, StatusStrong, thr.classify(27))
	assert.Equal(t, StatusExcellent, thr.classify(35))
}

func TestThresholdsClassifyInverted(t *testing.T) {
	thr := Thresholds{Cutoffs: [4]float64{0.5, 1, 2, 5}, Inverted: true}

	assert.Equal(t, StatusExcellent, thr.classify(0.2))
	assert.Equal(t, StatusGood, thr.classify(1.5))
	assert.Equal(t, StatusCritical, thr.classify(8))
}

type stubRetriever struct {
	thresholds *Thresholds
	sources    []string
	err        error
}

func (s *stubRetriever) Thresholds(context.Context, string, string) (*Thresholds, []string, error) {
	return s.thresholds, s.sources, s.err
}

func TestCompareIndustryClassifiesAndCitesSources(t *testing.T) {
	c := New(&stubRetriever{
		thresholds: &Thresholds{Cutoffs: [4]float64{15, 20, 25, 30}},
		sources:    []string{"https://example.com/2026-email-benchmarks"},
	}, 100)

	cmp, err := c.CompareIndustry(context.Background(), "open_rate", "email", Side{Value: 27, Volume: 5000})
	require.NoError(t, err)
	assert.Equal(t, StatusStrong, cmp.Status)
	assert.Equal(t, "15.0%–30.0%", cmp.ThresholdRange)
	assert.Equal(t, []string{"https://example.com/2026-email-benchmarks"}, cmp.Sources)

	// The full cutoffs ride along so the answer can show every band.
	require.NotNil(t, cmp.Thresholds)
	assert.Equal(t, [4]float64{15, 20, 25, 30}, cmp.Thresholds.Cutoffs)
}

func TestCompareIndustryWithoutRetrieverIsNoReference(t *testing.T) {
	c := New(nil, 100)
	_, err := c.CompareIndustry(context.Background(), "open_rate", "email", Side{Value: 27, Volume: 5000})
	assert.ErrorIs(t, err, ErrNoReference)
}

func TestCompareIndustryNoReferenceNeverFabricates(t *testing.T) {
	c := New(&stubRetriever{}, 100)
	_, err := c.CompareIndustry(context.Background(), "open_rate", "email", Side{Value: 27, Volume: 5000})
	assert.ErrorIs(t, err, ErrNoReference)
}

type stubEmbedder struct{}

func (stubEmbedder) GenerateEmbedding(context.Context, string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

type stubSearcher struct {
	passages   []Passage
	gotFilters map[string]string
}

func (s *stubSearcher) SearchChunks(_ context.Context, _ []float32, _ int, filters map[string]string) ([]Passage, error) {
	s.gotFilters = filters
	return s.passages, nil
}

func TestVectorRetrieverParsesPercentagesIntoCutoffs(t *testing.T) {
	searcher := &stubSearcher{passages: []Passage{
		{Text: "Poor performers sit below 15%, average campaigns reach 20 %.", SourceURL: "https://a.example"},
		{Text: "Good lists see 25%; the top decile exceeds 30.5%.", SourceURL: "https://b.example"},
	}}
	r := NewVectorRetriever(stubEmbedder{}, searcher)

	thr, sources, err := r.Thresholds(context.Background(), "open_rate", "email")
	require.NoError(t, err)
	require.NotNil(t, thr)

	assert.Equal(t, 15.0, thr.Cutoffs[0])
	assert.Equal(t, 30.5, thr.Cutoffs[3])
	assert.False(t, thr.Inverted)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, sources)
	assert.Equal(t, "open_rate", searcher.gotFilters["metric"])
	assert.Equal(t, "email", searcher.gotFilters["channel"])
}

func TestVectorRetrieverInvertedMetric(t *testing.T) {
	searcher := &stubSearcher{passages: []Passage{
		{Text: "Bounce rates: excellent under 0.5%, fine below 1%, concerning above 2%, critical past 5%."},
	}}
	r := NewVectorRetriever(stubEmbedder{}, searcher)

	thr, _, err := r.Thresholds(context.Background(), "bounce_rate", "email")
	require.NoError(t, err)
	require.NotNil(t, thr)
	assert.True(t, thr.Inverted)
}

func TestVectorRetrieverTooFewValuesMeansNoThresholds(t *testing.T) {
	searcher := &stubSearcher{passages: []Passage{
		{Text: "Open rates hover around 21% for retail."},
	}}
	r := NewVectorRetriever(stubEmbedder{}, searcher)

	thr, _, err := r.Thresholds(context.Background(), "open_rate", "email")
	require.NoError(t, err)
	assert.Nil(t, thr)
}

func TestVectorRetrieverIgnoresImplausiblePercentages(t *testing.T) {
	searcher := &stubSearcher{passages: []Passage{
		{Text: "Growth of 250% year on year; open rates: 15%, 20%, 25%, 30%."},
	}}
	r := NewVectorRetriever(stubEmbedder{}, searcher)

	thr, _, err := r.Thresholds(context.Background(), "open_rate", "email")
	require.NoError(t, err)
	require.NotNil(t, thr)
	assert.Equal(t, 30.0, thr.Cutoffs[3])
}

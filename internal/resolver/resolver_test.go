package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaigniq/backend/internal/storage/models"
)

type stubSource struct {
	records     []models.EntityRecord
	recent      []models.EntityRecord
	top         []models.EntityRecord
	gotPatterns []string
}

func (s *stubSource) SearchEntities(_ context.Context, _ string, patterns []string) ([]models.EntityRecord, error) {
	s.gotPatterns = patterns
	return s.records, nil
}

func (s *stubSource) ListRecentEntities(_ context.Context, _ string, _ int) ([]models.EntityRecord, error) {
	return s.recent, nil
}

func (s *stubSource) ListTopEntities(_ context.Context, _ string, _ int) ([]models.EntityRecord, error) {
	return s.top, nil
}

func TestVariantsCoverAllUniformSeparatorForms(t *testing.T) {
	for _, keyword := range []string{"EX30 Launch", "ex30-launch", "ex30_launch", "EX30Launch"} {
		variants := Variants(keyword, 16)
		assert.Contains(t, variants, "EX30 Launch", keyword)
		assert.Contains(t, variants, "EX30-Launch", keyword)
		assert.Contains(t, variants, "EX30_Launch", keyword)
		assert.Contains(t, variants, "EX30Launch", keyword)
	}
}

func TestVariantsUniformFormsSurviveTheCap(t *testing.T) {
	// Five tokens explode combinatorially; the four uniform forms must
	// still be present.
	variants := Variants("big summer sale launch promo", 16)
	assert.LessOrEqual(t, len(variants), 16)
	assert.Contains(t, variants, "big summer sale launch promo")
	assert.Contains(t, variants, "big-summer-sale-launch-promo")
	assert.Contains(t, variants, "big_summer_sale_launch_promo")
	assert.Contains(t, variants, "bigsummersalelaunchpromo")
}

func TestVariantsSingleToken(t *testing.T) {
	assert.Equal(t, []string{"spring"}, Variants("spring", 16))
}

func TestVariantsSplitsCaseAndDigitBoundaries(t *testing.T) {
	variants := Variants("EX30Launch", 16)
	assert.Contains(t, variants, "EX30 Launch")
}

func TestResolveSingleExactMatchAutoConfirms(t *testing.T) {
	source := &stubSource{records: []models.EntityRecord{{
		DisplayName: "EX30 Launch",
		FilterName:  "EX30-Launch-DE-2026",
	}}}
	r := New(source, 16, 0.9)

	resolved, err := r.Resolve(context.Background(), models.EntityKindCampaign, "EX30-Launch-DE-2026")
	require.NoError(t, err)
	assert.True(t, resolved.Confirmed)
	assert.Equal(t, []string{"EX30-Launch-DE-2026"}, resolved.FilterNames())
}

func TestResolveSingleWeakMatchNeedsConfirmation(t *testing.T) {
	source := &stubSource{records: []models.EntityRecord{{
		DisplayName: "EX30 Launch",
		FilterName:  "EX30-Launch-Germany-Spring-2026-Full",
	}}}
	r := New(source, 16, 0.9)

	resolved, err := r.Resolve(context.Background(), models.EntityKindCampaign, "ex30")
	require.NoError(t, err)
	assert.False(t, resolved.Confirmed)
}

func TestResolveMultipleMatchesNeedSelection(t *testing.T) {
	source := &stubSource{records: []models.EntityRecord{
		{DisplayName: "EX30 Launch DE", FilterName: "EX30-Launch-DE"},
		{DisplayName: "EX30 Launch FR", FilterName: "EX30-Launch-FR"},
	}}
	r := New(source, 16, 0.9)

	resolved, err := r.Resolve(context.Background(), models.EntityKindCampaign, "ex30 launch")
	require.NoError(t, err)
	assert.False(t, resolved.Confirmed)
	assert.Len(t, resolved.Candidates, 2)
}

func TestResolveNoMatchCarriesSuggestions(t *testing.T) {
	source := &stubSource{
		recent: []models.EntityRecord{{DisplayName: "Summer Sale"}},
		top:    []models.EntityRecord{{DisplayName: "Spring Promo"}},
	}
	r := New(source, 16, 0.9)

	_, err := r.Resolve(context.Background(), models.EntityKindCampaign, "nonexistent thing")
	var noMatch *NoMatchError
	require.True(t, errors.As(err, &noMatch))
	assert.NotEmpty(t, noMatch.VariantsTried)
	assert.Equal(t, []string{"Summer Sale"}, noMatch.RecentNames)
	assert.Equal(t, []string{"Spring Promo"}, noMatch.TopNames)
}

func TestSelectByIndex(t *testing.T) {
	resolved := &Resolved{Candidates: []Candidate{
		{FilterName: "a"}, {FilterName: "b"}, {FilterName: "c"},
	}}

	picked, err := Select(resolved, "2")
	require.NoError(t, err)
	assert.True(t, picked.Confirmed)
	assert.Equal(t, []string{"b"}, picked.FilterNames())
}

func TestSelectAll(t *testing.T) {
	resolved := &Resolved{Candidates: []Candidate{
		{FilterName: "a"}, {FilterName: "b"},
	}}

	picked, err := Select(resolved, "all")
	require.NoError(t, err)
	assert.True(t, picked.Confirmed)
	assert.Len(t, picked.Candidates, 2)
}

func TestSelectRejectsGarbageAndOutOfRange(t *testing.T) {
	resolved := &Resolved{Candidates: []Candidate{{FilterName: "a"}}}

	_, err := Select(resolved, "the blue one")
	assert.Error(t, err)

	_, err = Select(resolved, "7")
	assert.Error(t, err)
}

func TestDisplayAndFilterNamesNeverCross(t *testing.T) {
	source := &stubSource{records: []models.EntityRecord{{
		DisplayName: "EX30 Launch",
		FilterName:  "EX30-Launch-DE-2026",
	}}}
	r := New(source, 16, 0.9)

	resolved, err := r.Resolve(context.Background(), models.EntityKindCampaign, "EX30-Launch-DE-2026")
	require.NoError(t, err)

	for _, fn := range resolved.FilterNames() {
		assert.NotContains(t, resolved.DisplayNames(), fn)
	}
	assert.NotEmpty(t, source.gotPatterns)
}

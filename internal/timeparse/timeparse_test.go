package timeparse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestResolveLastMonthIsPriorCalendarMonth(t *testing.T) {
	now := time.Date(2026, time.February, 15, 10, 30, 0, 0, time.UTC)

	r, err := Resolve("how did opens do last month", now)
	require.NoError(t, err)
	assert.Equal(t, date(2026, time.January, 1), r.Start)
	assert.Equal(t, date(2026, time.January, 31), r.End)
	assert.Equal(t, "2026-01-01…2026-01-31", r.String())
}

func TestResolveLastMonthAcrossYearBoundary(t *testing.T) {
	now := date(2026, time.January, 10)

	r, err := Resolve("last month", now)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.December, 1), r.Start)
	assert.Equal(t, date(2025, time.December, 31), r.End)
}

func TestResolveWeeksAreMondayBased(t *testing.T) {
	// 2026-08-19 is a Wednesday.
	now := date(2026, time.August, 19)

	thisWeek, err := Resolve("this week", now)
	require.NoError(t, err)
	assert.Equal(t, date(2026, time.August, 17), thisWeek.Start)
	assert.Equal(t, now, thisWeek.End)

	lastWeek, err := Resolve("last week", now)
	require.NoError(t, err)
	assert.Equal(t, date(2026, time.August, 10), lastWeek.Start)
	assert.Equal(t, date(2026, time.August, 16), lastWeek.End)
}

func TestResolveWeekOnSunday(t *testing.T) {
	// 2026-08-23 is a Sunday; the week still starts the prior Monday.
	now := date(2026, time.August, 23)

	r, err := Resolve("this week", now)
	require.NoError(t, err)
	assert.Equal(t, date(2026, time.August, 17), r.Start)
}

func TestResolveQuarters(t *testing.T) {
	now := date(2026, time.May, 20) // Q2

	last, err := Resolve("last quarter", now)
	require.NoError(t, err)
	assert.Equal(t, date(2026, time.January, 1), last.Start)
	assert.Equal(t, date(2026, time.March, 31), last.End)

	this, err := Resolve("this quarter", now)
	require.NoError(t, err)
	assert.Equal(t, date(2026, time.April, 1), this.Start)
	assert.Equal(t, now, this.End)
}

func TestResolveYearToDate(t *testing.T) {
	now := date(2026, time.August, 24)

	r, err := Resolve("conversions ytd", now)
	require.NoError(t, err)
	assert.Equal(t, date(2026, time.January, 1), r.Start)
	assert.Equal(t, now, r.End)
}

func TestResolveAmbiguousPhrasesAskInsteadOfGuessing(t *testing.T) {
	now := date(2026, time.August, 24)

	for _, q := range []string{
		"how did we do recently",
		"show me the last period",
		"numbers from a while ago",
	} {
		_, err := Resolve(q, now)
		assert.ErrorIs(t, err, ErrAmbiguous, q)
	}
}

func TestResolveNoPhrase(t *testing.T) {
	_, err := Resolve("how is the summer sale campaign doing", date(2026, time.August, 24))
	assert.ErrorIs(t, err, ErrNoPhrase)
}

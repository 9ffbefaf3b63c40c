// Package timeparse resolves relative date phrases ("last month", "this
// week") into concrete calendar ranges. The resolved range is always echoed
// back to the user before any data is fetched, so boundaries must be exact
// and deterministic for a given reference date.
package timeparse

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrAmbiguous signals a phrase that needs a clarification turn rather
// than a guess.
var ErrAmbiguous = errors.New("ambiguous date phrase")

// ErrNoPhrase signals no recognizable date phrase in the query.
var ErrNoPhrase = errors.New("no date phrase found")

type Range struct {
	Start time.Time
	End   time.Time
	// Label is the phrase the range was resolved from.
	Label string
}

func (r Range) String() string {
	return fmt.Sprintf("%s…%s", r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))
}

// ambiguousPhrases cannot be resolved without asking: "recently" has no
// agreed boundary and "last period" depends on an unstated period length.
var ambiguousPhrases = []string{"recently", "last period", "a while ago", "previous period"}

var phrases = []string{
	"last month", "this month", "last week", "this week",
	"yesterday", "today", "last quarter", "this quarter",
	"last year", "this year", "year to date", "ytd",
}

// Resolve scans query text for a date phrase and resolves it against now.
// All ranges are inclusive calendar-day ranges in now's location.
func Resolve(query string, now time.Time) (Range, error) {
	q := strings.ToLower(query)

	for _, p := range ambiguousPhrases {
		if strings.Contains(q, p) {
			return Range{}, fmt.Errorf("%w: %q", ErrAmbiguous, p)
		}
	}

	for _, p := range phrases {
		if strings.Contains(q, p) {
			return resolvePhrase(p, now)
		}
	}

	return Range{}, ErrNoPhrase
}

func resolvePhrase(phrase string, now time.Time) (Range, error) {
	y, m, d := now.Date()
	loc := now.Location()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)

	switch phrase {
	case "last month":
		start := time.Date(y, m, 1, 0, 0, 0, 0, loc).AddDate(0, -1, 0)
		end := time.Date(y, m, 1, 0, 0, 0, 0, loc).AddDate(0, 0, -1)
		return Range{Start: start, End: end, Label: phrase}, nil
	case "this month":
		start := time.Date(y, m, 1, 0, 0, 0, 0, loc)
		return Range{Start: start, End: today, Label: phrase}, nil
	case "last week":
		// ISO weeks: Monday through Sunday.
		monday := today.AddDate(0, 0, -mondayOffset(today))
		return Range{Start: monday.AddDate(0, 0, -7), End: monday.AddDate(0, 0, -1), Label: phrase}, nil
	case "this week":
		monday := today.AddDate(0, 0, -mondayOffset(today))
		return Range{Start: monday, End: today, Label: phrase}, nil
	case "yesterday":
		yd := today.AddDate(0, 0, -1)
		return Range{Start: yd, End: yd, Label: phrase}, nil
	case "today":
		return Range{Start: today, End: today, Label: phrase}, nil
	case "last quarter":
		qStart := quarterStart(today)
		prev := qStart.AddDate(0, -3, 0)
		return Range{Start: prev, End: qStart.AddDate(0, 0, -1), Label: phrase}, nil
	case "this quarter":
		return Range{Start: quarterStart(today), End: today, Label: phrase}, nil
	case "last year":
		start := time.Date(y-1, 1, 1, 0, 0, 0, 0, loc)
		end := time.Date(y-1, 12, 31, 0, 0, 0, 0, loc)
		return Range{Start: start, End: end, Label: phrase}, nil
	case "this year", "year to date", "ytd":
		start := time.Date(y, 1, 1, 0, 0, 0, 0, loc)
		return Range{Start: start, End: today, Label: phrase}, nil
	}

	return Range{}, ErrNoPhrase
}

func mondayOffset(day time.Time) int {
	wd := int(day.Weekday())
	if wd == 0 {
		return 6
	}
	return wd - 1
}

func quarterStart(day time.Time) time.Time {
	q := (int(day.Month()) - 1) / 3
	return time.Date(day.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, day.Location())
}

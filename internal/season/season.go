// Package season derives the treatment-history facts that phenology rules
// evaluate against: per-category application counts, recency, and nitrogen
// totals, all scoped to the current season instance.
//
// A season instance is the concrete occurrence of a season around a
// reference date (e.g. "fall 2026", Sep 1 - Nov 30 2026). Winter wraps the
// year boundary and is keyed by the year in which it starts: a January
// reference belongs to the winter that began the previous December.
package season

import (
	"fmt"
	"time"

	"turfwatch/internal/types"
)

// Instance is one concrete occurrence of a season: its name and the
// inclusive day range it covers.
type Instance struct {
	Season types.Season
	Start  time.Time
	End    time.Time
}

// Of resolves the season instance containing the reference instant.
// Boundaries follow the turf calendar: spring Feb-May, summer Jun-Aug,
// fall Sep-Nov, winter Dec-Jan.
func Of(ref time.Time) Instance {
	ref = ref.UTC()
	year := ref.Year()

	switch ref.Month() {
	case time.February, time.March, time.April, time.May:
		return Instance{
			Season: types.SeasonSpring,
			Start:  time.Date(year, time.February, 1, 0, 0, 0, 0, time.UTC),
			End:    time.Date(year, time.May, 31, 0, 0, 0, 0, time.UTC),
		}
	case time.June, time.July, time.August:
		return Instance{
			Season: types.SeasonSummer,
			Start:  time.Date(year, time.June, 1, 0, 0, 0, 0, time.UTC),
			End:    time.Date(year, time.August, 31, 0, 0, 0, 0, time.UTC),
		}
	case time.September, time.October, time.November:
		return Instance{
			Season: types.SeasonFall,
			Start:  time.Date(year, time.September, 1, 0, 0, 0, 0, time.UTC),
			End:    time.Date(year, time.November, 30, 0, 0, 0, 0, time.UTC),
		}
	case time.January:
		// January belongs to the winter that started the previous December.
		year--
	}
	return Instance{
		Season: types.SeasonWinter,
		Start:  time.Date(year, time.December, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(year+1, time.January, 31, 0, 0, 0, 0, time.UTC),
	}
}

// Contains reports whether the instant's UTC calendar date falls inside the
// instance.
func (i Instance) Contains(t time.Time) bool {
	d := types.NormalizeAppliedAt(t)
	return !d.Before(i.Start) && !d.After(i.End)
}

// StartYear returns the year the instance began, which keys the instance
// (winter 2026 runs Dec 2026 - Jan 2027).
func (i Instance) StartYear() int {
	return i.Start.Year()
}

// Facts derives the season-fact map for a treatment history as of a
// reference instant. Counts, presence flags, and the nitrogen total are
// scoped to the current season instance; recency is measured against the
// whole history. Applications dated after the reference instant are
// ignored.
//
// Fact names, per category:
//
//	<category>_count      applications this season instance
//	has_<category>        1 if applied this season instance, else 0
//	days_since_<category> whole days since the most recent application,
//	                      omitted entirely if the category never appears
//
// plus nitrogen_this_season, the sum of recorded fertilizer amounts
// (lbs N / 1000 sq ft) this season instance.
func Facts(history []types.Application, ref time.Time) map[string]float64 {
	inst := Of(ref)
	refDay := types.NormalizeAppliedAt(ref)

	facts := make(map[string]float64, 3*len(types.AllCategories)+1)
	for _, cat := range types.AllCategories {
		facts[fmt.Sprintf("%s_count", cat)] = 0
		facts[fmt.Sprintf("has_%s", cat)] = 0
	}
	facts["nitrogen_this_season"] = 0

	latest := make(map[types.ApplicationCategory]time.Time)

	for _, app := range history {
		day := types.NormalizeAppliedAt(app.AppliedAt)
		if day.After(refDay) {
			continue
		}

		if prev, ok := latest[app.Category]; !ok || day.After(prev) {
			latest[app.Category] = day
		}

		if !inst.Contains(day) {
			continue
		}
		facts[fmt.Sprintf("%s_count", app.Category)]++
		facts[fmt.Sprintf("has_%s", app.Category)] = 1
		if app.Category == types.CategoryFertilizer {
			facts["nitrogen_this_season"] += app.Amount
		}
	}

	for cat, day := range latest {
		days := refDay.Sub(day).Hours() / 24
		facts[fmt.Sprintf("days_since_%s", cat)] = days
	}

	return facts
}

package aggregate

import (
	"time"

	"turfwatch/internal/types"
)

// DefaultStableBand is the half-width, in metric units, inside which a
// split-half difference is reported as stable rather than rising/falling.
const DefaultStableBand = 1.0

// DetectTrend classifies the direction of a metric series across a trailing
// window by splitting the window at its midpoint and comparing the mean of
// the older half against the newer half. A difference within stableBand is
// stable; either half being empty yields TrendUnknown.
func DetectTrend(series []types.Reading, windowDays int, ref time.Time, stableBand float64) types.Trend {
	ref = ref.UTC()
	start := ref.Add(-time.Duration(windowDays) * 24 * time.Hour)
	mid := start.Add(ref.Sub(start) / 2)

	var olderSum, newerSum float64
	var olderN, newerN int
	for _, r := range series {
		ts := r.Timestamp.UTC()
		if ts.Before(start) || ts.After(ref) {
			continue
		}
		if ts.Before(mid) {
			olderSum += r.Value
			olderN++
		} else {
			newerSum += r.Value
			newerN++
		}
	}

	if olderN == 0 || newerN == 0 {
		return types.TrendUnknown
	}

	diff := newerSum/float64(newerN) - olderSum/float64(olderN)
	switch {
	case diff > stableBand:
		return types.TrendRising
	case diff < -stableBand:
		return types.TrendFalling
	default:
		return types.TrendStable
	}
}

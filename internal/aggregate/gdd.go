package aggregate

import (
	"time"

	"turfwatch/internal/types"
)

// DefaultGDDBase is the base temperature (°F) for growing degree day
// accumulation. 50°F is the standard base for cool-season turfgrass and the
// common pre-emergent timing models.
const DefaultGDDBase = 50.0

// GrowingDegreeDays accumulates growing degree days over the trailing
// window using the averaging method: for each calendar day with samples,
// max(0, (dayMin+dayMax)/2 - base). The second return is false when the
// window contains no ambient temperature samples at all.
func GrowingDegreeDays(series []types.Reading, windowDays int, ref time.Time, base float64) (float64, bool) {
	w := Compute(types.MetricAmbientTemp, series, windowDays, ref)
	if w.Insufficient() {
		return 0, false
	}

	var total float64
	for _, de := range w.days {
		if de.count == 0 {
			continue
		}
		dayMean := (de.min + de.max) / 2
		if dayMean > base {
			total += dayMean - base
		}
	}
	return total, true
}

// Package aggregate computes rolling-window statistics over sensor metric
// series. A Window is the bridge between raw time-stamped readings and the
// rule predicates: it exposes the arithmetic mean, extremes, and the
// sustained-day counts that multi-day condition triggers are written
// against.
//
// Windows are never persisted; they are recomputed from the series on every
// evaluation pass. A window with zero samples is explicitly "insufficient"
// and must never be read as zero.
package aggregate

import (
	"time"

	"turfwatch/internal/types"
)

// dayExtremes tracks the per-calendar-day envelope of a series. Sustained
// conditions are defined over whole days: a day qualifies as "above t" only
// when its minimum sample is above t, and as "below t" only when its
// maximum sample is below t.
type dayExtremes struct {
	min   float64
	max   float64
	count int
}

// Window holds the derived statistics of one metric over a trailing span of
// days ending at a reference instant. Construct with Compute; the zero
// value is not meaningful.
type Window struct {
	Key   types.AggregateKey
	Start time.Time
	End   time.Time

	SampleCount int
	Mean        float64
	Min         float64
	Max         float64

	days map[string]dayExtremes
}

// Compute filters the series to [ref - windowDays, ref] (both endpoints
// inclusive) and derives the window statistics. Input readings may arrive
// in any order; the series is treated as an unordered multiset. All
// instants are interpreted in UTC.
func Compute(metric types.Metric, series []types.Reading, windowDays int, ref time.Time) *Window {
	ref = ref.UTC()
	start := ref.Add(-time.Duration(windowDays) * 24 * time.Hour)

	w := &Window{
		Key:   types.AggregateKey{Metric: metric, WindowDays: windowDays},
		Start: start,
		End:   ref,
		days:  make(map[string]dayExtremes),
	}

	var sum float64
	for _, r := range series {
		ts := r.Timestamp.UTC()
		if ts.Before(start) || ts.After(ref) {
			continue
		}

		if w.SampleCount == 0 {
			w.Min, w.Max = r.Value, r.Value
		} else {
			if r.Value < w.Min {
				w.Min = r.Value
			}
			if r.Value > w.Max {
				w.Max = r.Value
			}
		}
		sum += r.Value
		w.SampleCount++

		day := ts.Format("2006-01-02")
		de, ok := w.days[day]
		if !ok {
			de = dayExtremes{min: r.Value, max: r.Value}
		} else {
			if r.Value < de.min {
				de.min = r.Value
			}
			if r.Value > de.max {
				de.max = r.Value
			}
		}
		de.count++
		w.days[day] = de
	}

	if w.SampleCount > 0 {
		w.Mean = sum / float64(w.SampleCount)
	}
	return w
}

// Insufficient reports whether the window holds no samples at all. Callers
// must treat an insufficient window as "cannot evaluate", never as a zero
// reading.
func (w *Window) Insufficient() bool {
	return w.SampleCount == 0
}

// SustainedDaysAbove counts the distinct calendar days in the window on
// which every sample is strictly above the threshold. Days without samples
// never count.
func (w *Window) SustainedDaysAbove(threshold float64) int {
	n := 0
	for _, de := range w.days {
		if de.count > 0 && de.min > threshold {
			n++
		}
	}
	return n
}

// SustainedDaysBelow counts the distinct calendar days in the window on
// which every sample is strictly below the threshold.
func (w *Window) SustainedDaysBelow(threshold float64) int {
	n := 0
	for _, de := range w.days {
		if de.count > 0 && de.max < threshold {
			n++
		}
	}
	return n
}

// DaysWithSamples counts the distinct calendar days in the window that hold
// at least one sample.
func (w *Window) DaysWithSamples() int {
	return len(w.days)
}

// Stat resolves one named statistic of the window. The threshold
// parameterizes the sustained-day stats and is ignored otherwise. The
// second return is false when the window is insufficient or the statistic
// is unknown; callers must then treat the comparison as non-matching.
func (w *Window) Stat(stat types.AggregateStat, threshold float64) (float64, bool) {
	if w.Insufficient() {
		return 0, false
	}
	switch stat {
	case types.StatMean:
		return w.Mean, true
	case types.StatMin:
		return w.Min, true
	case types.StatMax:
		return w.Max, true
	case types.StatSustainedDaysAbove:
		return float64(w.SustainedDaysAbove(threshold)), true
	case types.StatSustainedDaysBelow:
		return float64(w.SustainedDaysBelow(threshold)), true
	default:
		return 0, false
	}
}

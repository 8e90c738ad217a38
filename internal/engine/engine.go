// Package engine implements the rules evaluation pass: one synchronous,
// side-effect-free sweep of the rule catalog against a snapshot of sensor
// readings and application history. The pass fetches each metric's series
// once, computes rolling aggregates, derives season facts, evaluates every
// rule's tier ladder, and composes the ranked recommendation list.
//
// The engine owns no mutable state and performs no I/O beyond the two
// provider calls; identical inputs always produce identical output.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"turfwatch/internal/aggregate"
	"turfwatch/internal/rules"
	"turfwatch/internal/season"
	"turfwatch/internal/types"
)

const (
	// DefaultClockSkewBound is how far the newest reading may lead the
	// reference instant before the pass attaches a clock-skew warning.
	DefaultClockSkewBound = time.Hour

	// DefaultHistoryHorizon bounds how far back application history is
	// pulled. Two years covers every days-since fact a rule can ask about
	// while keeping the fetch bounded on long-lived lawns.
	DefaultHistoryHorizon = 2 * 365 * 24 * time.Hour
)

// Config holds the evaluation pass tunables. Zero values select the
// package defaults.
type Config struct {
	ClockSkewBound time.Duration
	HistoryHorizon time.Duration
}

func (c Config) withDefaults() Config {
	if c.ClockSkewBound <= 0 {
		c.ClockSkewBound = DefaultClockSkewBound
	}
	if c.HistoryHorizon <= 0 {
		c.HistoryHorizon = DefaultHistoryHorizon
	}
	return c
}

// Result is the outcome of one evaluation pass. Warnings carry non-fatal
// conditions (clock skew) that the caller may surface alongside the
// recommendations; they never suppress or reorder them.
type Result struct {
	Recommendations []types.Recommendation
	Warnings        []*types.AppError
}

// Engine drives evaluation passes against an immutable rule catalog.
// Construct once at startup and share freely; Run is safe for concurrent
// use as long as each call gets its own input snapshot.
type Engine struct {
	Config  Config
	Catalog *rules.Catalog
	Log     *slog.Logger
}

// Run executes one evaluation pass at the given reference instant.
//
// Provider failures abort the pass and propagate to the caller; proceeding
// on partial data could suppress a Critical recommendation. Per-rule
// conditions (dormant window, insufficient data) resolve locally to
// "no trigger" and never surface as errors.
func (e *Engine) Run(ctx context.Context, series types.MetricSeriesProvider, history types.ApplicationHistoryProvider, ref time.Time) (*Result, error) {
	if e.Catalog == nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "engine: no rule catalog configured", nil)
	}
	cfg := e.Config.withDefaults()
	log := e.Log
	if log == nil {
		log = slog.Default()
	}
	ref = ref.UTC()
	start := time.Now()

	// Step 1: Fetch each metric's series once, at the deepest window any
	// rule declares for it. Sorted metric order keeps fetch order stable.
	horizons := e.Catalog.MetricWindows()
	metrics := make([]types.Metric, 0, len(horizons))
	for m := range horizons {
		metrics = append(metrics, m)
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i] < metrics[j] })

	byMetric := make(map[types.Metric][]types.Reading, len(metrics))
	var newest time.Time
	for _, m := range metrics {
		since := ref.Add(-time.Duration(horizons[m]) * 24 * time.Hour)
		readings, err := series.Series(ctx, m, since)
		if err != nil {
			return nil, fmt.Errorf("engine: fetching %s series: %w", m, err)
		}
		byMetric[m] = readings
		for _, r := range readings {
			if ts := r.Timestamp.UTC(); ts.After(newest) {
				newest = ts
			}
		}
	}

	result := &Result{}

	// Step 2: Sanity-check the reference instant against the data. A pass
	// evaluated "in the past" relative to the series still completes, but
	// the caller should know the output describes stale conditions.
	if !newest.IsZero() && newest.Sub(ref) > cfg.ClockSkewBound {
		warn := types.NewAppErrorWithDetails(types.ErrCodeClockSkew,
			"reference instant trails the newest reading", nil,
			map[string]any{
				"reference_time": ref.Format(time.RFC3339),
				"newest_reading": newest.Format(time.RFC3339),
			})
		result.Warnings = append(result.Warnings, warn)
		log.WarnContext(ctx, "clock skew between reference instant and readings",
			"reference_time", ref.Format(time.RFC3339),
			"newest_reading", newest.Format(time.RFC3339),
		)
	}

	// Step 3: Compute every aggregate window the catalog references.
	// Catalog order plus per-rule key sorting makes this deterministic.
	aggregates := make(map[types.AggregateKey]*aggregate.Window)
	for _, spec := range e.Catalog.Rules() {
		for _, key := range spec.AggregateKeys() {
			if _, ok := aggregates[key]; ok {
				continue
			}
			aggregates[key] = aggregate.Compute(key.Metric, byMetric[key.Metric], key.WindowDays, ref)
		}
	}

	// Step 4: Derive season facts once, shared across all rules.
	apps, err := history.Applications(ctx, ref.Add(-cfg.HistoryHorizon))
	if err != nil {
		return nil, fmt.Errorf("engine: fetching application history: %w", err)
	}
	facts := season.Facts(apps, ref)

	in := &passInputs{Aggregates: aggregates, Facts: facts, Ref: ref}

	// Step 5: Evaluate the catalog in order and compose the ranked output.
	var triggered []Triggered
	for _, spec := range e.Catalog.Rules() {
		t, ok := e.evaluateRule(spec, in)
		if !ok {
			continue
		}
		triggered = append(triggered, t)
		log.DebugContext(ctx, "rule triggered",
			"rule_id", spec.ID,
			"severity", string(t.Tier.Severity),
		)
	}
	result.Recommendations = e.compose(triggered, ref)

	log.InfoContext(ctx, "evaluation pass complete",
		"reference_time", ref.Format(time.RFC3339),
		"rules_evaluated", e.Catalog.Len(),
		"recommendations", len(result.Recommendations),
		"warnings", len(result.Warnings),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

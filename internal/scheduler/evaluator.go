// Package scheduler implements the background services of the platform:
// the per-lawn evaluation runner fed by the evaluations queue or an
// interval loop, and the maintenance tasks that keep stored data within
// its retention bounds.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"turfwatch/internal/engine"
	"turfwatch/internal/telemetry"
	"turfwatch/internal/types"
)

// defaultConcurrency bounds the evaluation fan-out when the config does not.
const defaultConcurrency = 4

// LawnProvider supplies the lawns the evaluator runs against.
type LawnProvider interface {
	GetByID(ctx context.Context, id string) (*types.Lawn, error)
	ListAll(ctx context.Context) ([]*types.Lawn, error)
}

// SeriesRepo reads stored readings per lawn and metric.
type SeriesRepo interface {
	Series(ctx context.Context, lawnID string, metric types.Metric, since time.Time) ([]types.Reading, error)
}

// HistoryRepo reads stored application records per lawn.
type HistoryRepo interface {
	ListSince(ctx context.Context, lawnID string, since time.Time) ([]types.Application, error)
}

// RecommendationRepo persists evaluation output and serves the previous
// set for diffing.
type RecommendationRepo interface {
	ReplaceForLawn(ctx context.Context, lawnID string, recs []types.Recommendation) (int, error)
	ListForLawn(ctx context.Context, lawnID string, activeOnly bool, now time.Time) ([]types.Recommendation, error)
}

// EventSink publishes recommendation events for downstream notifiers.
type EventSink interface {
	Publish(ctx context.Context, event types.RecommendationEvent) error
}

// Evaluator runs full evaluation passes: it adapts the stored series and
// history of one lawn into the engine's provider interfaces, persists the
// ranked output atomically, and publishes an event when the pass surfaced
// new advice worth acting on.
type Evaluator struct {
	engine          *engine.Engine
	lawns           LawnProvider
	readings        SeriesRepo
	applications    HistoryRepo
	recommendations RecommendationRepo
	events          EventSink
	metrics         telemetry.Metrics

	concurrency int
	clock       types.Clock
	logger      *slog.Logger
}

// EvaluatorConfig holds the configuration for creating an Evaluator.
type EvaluatorConfig struct {
	Engine          *engine.Engine
	Lawns           LawnProvider
	Readings        SeriesRepo
	Applications    HistoryRepo
	Recommendations RecommendationRepo
	Events          EventSink
	Metrics         telemetry.Metrics

	Concurrency int
	Clock       types.Clock
	Logger      *slog.Logger
}

// NewEvaluator creates a new Evaluator with the given configuration.
func NewEvaluator(cfg EvaluatorConfig) *Evaluator {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.Noop{}
	}

	return &Evaluator{
		engine:          cfg.Engine,
		lawns:           cfg.Lawns,
		readings:        cfg.Readings,
		applications:    cfg.Applications,
		recommendations: cfg.Recommendations,
		events:          cfg.Events,
		metrics:         metrics,
		concurrency:     concurrency,
		clock:           clock,
		logger:          logger,
	}
}

// lawnSeries adapts the readings repository to the engine's per-metric
// series provider for one lawn.
type lawnSeries struct {
	repo   SeriesRepo
	lawnID string
}

func (s lawnSeries) Series(ctx context.Context, metric types.Metric, since time.Time) ([]types.Reading, error) {
	return s.repo.Series(ctx, s.lawnID, metric, since)
}

// lawnHistory adapts the applications repository to the engine's history
// provider for one lawn.
type lawnHistory struct {
	repo   HistoryRepo
	lawnID string
}

func (h lawnHistory) Applications(ctx context.Context, since time.Time) ([]types.Application, error) {
	return h.repo.ListSince(ctx, h.lawnID, since)
}

// EvaluateLawn runs one evaluation pass for a lawn at the given reference
// instant and persists the outcome. It returns the ranked recommendations
// and any non-fatal warning codes raised during the pass.
func (e *Evaluator) EvaluateLawn(ctx context.Context, lawnID string, ref time.Time) ([]types.Recommendation, []string, error) {
	start := time.Now()

	lawn, err := e.lawns.GetByID(ctx, lawnID)
	if err != nil {
		return nil, nil, err
	}
	if ref.IsZero() {
		ref = e.clock.Now()
	}
	ref = ref.UTC()

	// The previous set is read before the replace so the diff sees what
	// the operator saw until this pass.
	previous, err := e.recommendations.ListForLawn(ctx, lawnID, true, ref)
	if err != nil {
		e.metrics.RecordEvaluationFailure(ctx, lawnID)
		return nil, nil, fmt.Errorf("loading previous recommendations: %w", err)
	}

	result, err := e.engine.Run(ctx,
		lawnSeries{repo: e.readings, lawnID: lawnID},
		lawnHistory{repo: e.applications, lawnID: lawnID},
		ref,
	)
	if err != nil {
		e.metrics.RecordEvaluationFailure(ctx, lawnID)
		return nil, nil, err
	}

	recs := result.Recommendations
	for i := range recs {
		recs[i].LawnID = lawnID
	}

	if _, err := e.recommendations.ReplaceForLawn(ctx, lawnID, recs); err != nil {
		e.metrics.RecordEvaluationFailure(ctx, lawnID)
		return nil, nil, fmt.Errorf("persisting recommendations: %w", err)
	}

	warnings := make([]string, 0, len(result.Warnings))
	for _, w := range result.Warnings {
		warnings = append(warnings, string(w.Code))
		if w.Code == types.ErrCodeClockSkew {
			e.metrics.RecordClockSkew(ctx, lawnID)
		}
	}

	e.recordSeverities(ctx, recs)
	e.metrics.RecordEvaluation(ctx, lawnID, time.Since(start), len(recs))

	e.logger.InfoContext(ctx, "lawn evaluated",
		"lawn_id", lawnID,
		"lawn_name", lawn.Name,
		"reference_time", ref.Format(time.RFC3339),
		"recommendations", len(recs),
		"warnings", len(warnings),
	)

	// Notify only when the pass surfaced something new at warning or
	// above; repeating known advice on every pass would drown notifiers.
	if e.events != nil && hasNewActionable(previous, recs) {
		event := types.RecommendationEvent{
			LawnID:          lawnID,
			EvaluatedAt:     ref,
			Recommendations: recs,
			Warnings:        warnings,
			TraceID:         types.GetRequestID(ctx),
		}
		if err := e.events.Publish(ctx, event); err != nil {
			e.logger.WarnContext(ctx, "recommendation event publish failed",
				"lawn_id", lawnID,
				"error", err,
			)
		}
	}

	return recs, warnings, nil
}

// RunAll evaluates every lawn at the given reference instant, fanning out
// with bounded concurrency. Per-lawn failures are isolated; the pass only
// errors when every lawn fails.
func (e *Evaluator) RunAll(ctx context.Context, ref time.Time) (int, error) {
	lawns, err := e.lawns.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing lawns: %w", err)
	}
	if len(lawns) == 0 {
		e.logger.InfoContext(ctx, "no lawns to evaluate")
		return 0, nil
	}

	var evaluated, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, lawn := range lawns {
		g.Go(func() error {
			if _, _, err := e.EvaluateLawn(gctx, lawn.ID, ref); err != nil {
				failed.Add(1)
				e.logger.ErrorContext(gctx, "lawn evaluation failed",
					"lawn_id", lawn.ID,
					"error", err,
				)
				return nil
			}
			evaluated.Add(1)
			return nil
		})
	}

	// Workers always return nil; Wait only surfaces context cancellation.
	if err := g.Wait(); err != nil {
		return int(evaluated.Load()), err
	}

	e.logger.InfoContext(ctx, "evaluation sweep complete",
		"lawns", len(lawns),
		"evaluated", evaluated.Load(),
		"failed", failed.Load(),
	)

	if int(failed.Load()) == len(lawns) {
		return 0, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("evaluation failed for all %d lawns", len(lawns)),
			nil,
		)
	}
	return int(evaluated.Load()), nil
}

func (e *Evaluator) recordSeverities(ctx context.Context, recs []types.Recommendation) {
	counts := make(map[types.Severity]int)
	for _, r := range recs {
		counts[r.Severity]++
	}
	for severity, count := range counts {
		e.metrics.RecordSeverity(ctx, severity, count)
	}
}

// hasNewActionable reports whether the new set contains a warning-or-above
// recommendation that was absent, or lower in severity, in the previous
// set.
func hasNewActionable(previous, current []types.Recommendation) bool {
	prevRank := make(map[string]int, len(previous))
	for _, r := range previous {
		prevRank[r.RuleID] = r.Severity.Rank()
	}
	warningRank := types.SeverityWarning.Rank()
	for _, r := range current {
		if r.Severity.Rank() < warningRank {
			continue
		}
		if prev, ok := prevRank[r.RuleID]; !ok || r.Severity.Rank() > prev {
			return true
		}
	}
	return false
}

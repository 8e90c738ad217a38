package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"turfwatch/internal/telemetry"
	"turfwatch/internal/types"
)

// stationLookback is how far back the first station poll for a lawn reaches
// when there is no stored high-water mark. Two weeks covers the longest
// trailing window any builtin rule aggregates over, with room to spare.
const stationLookback = 14 * 24 * time.Hour

// defaultConcurrency bounds the per-lawn fan-out when the config does not.
const defaultConcurrency = 4

// LawnSource lists the lawns to poll.
type LawnSource interface {
	ListAll(ctx context.Context) ([]*types.Lawn, error)
}

// ReadingStore persists fetched readings and tracks the ingestion
// high-water mark per lawn.
type ReadingStore interface {
	// InsertBatch stores readings for a lawn and returns how many were
	// inserted (duplicates are skipped).
	InsertBatch(ctx context.Context, lawnID string, readings []types.Reading) (int, error)
	// LatestTimestamp returns the newest stored timestamp for a metric,
	// or nil when the lawn has no readings for it.
	LatestTimestamp(ctx context.Context, lawnID string, metric types.Metric) (*time.Time, error)
}

// ForecastSource fetches reduced forecast readings for a location.
type ForecastSource interface {
	Fetch(ctx context.Context, loc types.Location) ([]types.Reading, error)
}

// StationSource fetches soil-station readings recorded after since.
type StationSource interface {
	FetchSince(ctx context.Context, stationID string, since time.Time) ([]types.Reading, error)
}

// EvaluationTrigger requests a rules pass for a lawn after fresh data lands.
type EvaluationTrigger interface {
	TriggerEvaluation(ctx context.Context, req types.EvaluationRequest) error
}

// IngestPoller fans out over all lawns and pulls fresh data from each
// lawn's providers. Provider failures are isolated twice over: one provider
// failing does not stop the other, and one lawn failing does not stop the
// rest. A pass only returns an error when listing lawns fails or when every
// polled lawn fails.
type IngestPoller struct {
	lawns    LawnSource
	readings ReadingStore
	forecast ForecastSource
	station  StationSource
	trigger  EvaluationTrigger
	metrics  telemetry.Metrics

	concurrency int
	clock       types.Clock
	logger      *slog.Logger
}

// IngestPollerConfig holds the configuration for creating an IngestPoller.
type IngestPollerConfig struct {
	Lawns    LawnSource
	Readings ReadingStore
	Forecast ForecastSource
	Station  StationSource
	Trigger  EvaluationTrigger
	Metrics  telemetry.Metrics

	Concurrency int
	Clock       types.Clock
	Logger      *slog.Logger
}

// NewIngestPoller creates a new IngestPoller with the given configuration.
func NewIngestPoller(cfg IngestPollerConfig) *IngestPoller {
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

	return &IngestPoller{
		lawns:       cfg.Lawns,
		readings:    cfg.Readings,
		forecast:    cfg.Forecast,
		station:     cfg.Station,
		trigger:     cfg.Trigger,
		metrics:     metrics,
		concurrency: concurrency,
		clock:       clock,
		logger:      logger,
	}
}

// RunOnce executes one poll pass over every lawn. It returns the total
// number of readings ingested across all lawns.
func (p *IngestPoller) RunOnce(ctx context.Context) (int, error) {
	lawns, err := p.lawns.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing lawns: %w", err)
	}
	if len(lawns) == 0 {
		p.logger.InfoContext(ctx, "no lawns to poll")
		return 0, nil
	}

	var (
		totalIngested atomic.Int64
		failedLawns   atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, lawn := range lawns {
		g.Go(func() error {
			n, err := p.pollLawn(gctx, lawn)
			totalIngested.Add(int64(n))
			if err != nil {
				failedLawns.Add(1)
				p.logger.ErrorContext(gctx, "lawn poll failed",
					"lawn_id", lawn.ID,
					"error", err,
				)
			}
			// Lawn failures never abort the group; the pass is resilient.
			return nil
		})
	}

	// Workers always return nil; Wait only surfaces context cancellation.
	if err := g.Wait(); err != nil {
		return int(totalIngested.Load()), err
	}

	ingested := int(totalIngested.Load())
	failed := int(failedLawns.Load())

	p.logger.InfoContext(ctx, "poll pass complete",
		"lawns", len(lawns),
		"failed", failed,
		"readings", ingested,
	)

	if failed == len(lawns) {
		return ingested, types.NewAppError(
			types.ErrCodeProviderUnavailable,
			fmt.Sprintf("ingestion failed for all %d lawns", len(lawns)),
			nil,
		)
	}
	return ingested, nil
}

// pollLawn pulls both providers for one lawn, stores the readings, and
// triggers an evaluation when anything new landed. It returns the number
// of readings stored and an error only when the lawn produced nothing
// but failures.
func (p *IngestPoller) pollLawn(ctx context.Context, lawn *types.Lawn) (int, error) {
	ctx = types.WithRequestID(ctx, "poll_"+uuid.NewString())

	ingested := 0
	var firstErr error

	n, err := p.pollForecast(ctx, lawn)
	ingested += n
	if err != nil {
		firstErr = err
		p.logger.WarnContext(ctx, "forecast poll failed",
			"lawn_id", lawn.ID,
			"error", err,
		)
	}

	if lawn.StationID != "" {
		n, err := p.pollStation(ctx, lawn)
		ingested += n
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			p.logger.WarnContext(ctx, "station poll failed",
				"lawn_id", lawn.ID,
				"station_id", lawn.StationID,
				"error", err,
			)
		}
	}

	if ingested == 0 {
		if firstErr != nil {
			p.metrics.RecordIngestFailure(ctx, lawn.ID)
			return 0, firstErr
		}
		return 0, nil
	}

	p.metrics.RecordIngest(ctx, lawn.ID, ingested)

	// Fresh data is durable at this point; a lost trigger only delays
	// advice until the next scheduled pass.
	req := types.EvaluationRequest{
		LawnID:  lawn.ID,
		Reason:  types.EvalReasonDataArrival,
		TraceID: types.GetRequestID(ctx),
	}
	if err := p.trigger.TriggerEvaluation(ctx, req); err != nil {
		p.logger.WarnContext(ctx, "evaluation trigger failed",
			"lawn_id", lawn.ID,
			"error", err,
		)
	}

	return ingested, nil
}

func (p *IngestPoller) pollForecast(ctx context.Context, lawn *types.Lawn) (int, error) {
	readings, err := p.forecast.Fetch(ctx, lawn.Location)
	if err != nil {
		p.metrics.RecordProviderFailure(ctx, forecastSourceName)
		return 0, err
	}
	return p.store(ctx, lawn.ID, readings)
}

func (p *IngestPoller) pollStation(ctx context.Context, lawn *types.Lawn) (int, error) {
	since, err := p.stationSince(ctx, lawn.ID)
	if err != nil {
		return 0, err
	}
	readings, err := p.station.FetchSince(ctx, lawn.StationID, since)
	if err != nil {
		p.metrics.RecordProviderFailure(ctx, stationSourceName)
		return 0, err
	}
	return p.store(ctx, lawn.ID, readings)
}

// stationSince resolves the fetch cutoff for a lawn's station poll from the
// stored high-water mark. Soil temperature is the product's anchor metric;
// every row carries it unless the sensor itself is down.
func (p *IngestPoller) stationSince(ctx context.Context, lawnID string) (time.Time, error) {
	latest, err := p.readings.LatestTimestamp(ctx, lawnID, types.MetricSoilTemp10cm)
	if err != nil {
		return time.Time{}, fmt.Errorf("resolving station high-water mark: %w", err)
	}
	if latest == nil {
		return p.clock.Now().Add(-stationLookback), nil
	}
	return *latest, nil
}

// store validates and persists readings in batches. Readings that fail
// validation (provider values outside the metric's plausible range) are
// dropped with a warning rather than poisoning the batch.
func (p *IngestPoller) store(ctx context.Context, lawnID string, readings []types.Reading) (int, error) {
	valid := readings[:0]
	for _, r := range readings {
		if err := r.Validate(); err != nil {
			p.logger.WarnContext(ctx, "dropping invalid reading",
				"lawn_id", lawnID,
				"metric", string(r.Metric),
				"value", r.Value,
				"error", err,
			)
			continue
		}
		valid = append(valid, r)
	}

	total := 0
	for start := 0; start < len(valid); start += types.MaxReadingBatch {
		end := min(start+types.MaxReadingBatch, len(valid))
		n, err := p.readings.InsertBatch(ctx, lawnID, valid[start:end])
		total += n
		if err != nil {
			return total, fmt.Errorf("storing readings: %w", err)
		}
	}
	return total, nil
}

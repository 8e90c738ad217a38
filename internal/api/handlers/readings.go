package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"turfwatch/internal/aggregate"
	"turfwatch/internal/core"
	"turfwatch/internal/types"
)

// ReadingStore defines the data access contract for sensor readings.
type ReadingStore interface {
	InsertBatch(ctx context.Context, lawnID string, readings []types.Reading) (int, error)
	Query(ctx context.Context, lawnID string, params ReadingQueryParams) ([]types.Reading, error)
	Series(ctx context.Context, lawnID string, metric types.Metric, since time.Time) ([]types.Reading, error)
}

// ReadingQueryParams mirrors the db-layer query parameters. A zero Metric
// means all metrics.
type ReadingQueryParams struct {
	Metric types.Metric
	Since  time.Time
	Until  time.Time
	Limit  int
	Cursor string
}

// EvalTrigger requests an asynchronous evaluation pass for a lawn. The
// trigger is advisory: ingestion never fails because the queue is down.
type EvalTrigger interface {
	TriggerEvaluation(ctx context.Context, req types.EvaluationRequest) error
}

// ReadingInput is one reading in an ingest batch.
type ReadingInput struct {
	Metric    string    `json:"metric" validate:"required,metric_name"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Source    string    `json:"source,omitempty" validate:"omitempty,max=50"`
}

// IngestReadingsRequest is the request body for POST /v1/lawns/{lawnID}/readings.
type IngestReadingsRequest struct {
	Readings []ReadingInput `json:"readings" validate:"dive"`
}

// IngestReadingsResult reports what happened to a batch. Duplicates are
// rows already present at the same (metric, timestamp); re-sending a batch
// is safe and reports them here.
type IngestReadingsResult struct {
	Received   int `json:"received"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
}

// ReadingSummary is the response for GET /v1/lawns/{lawnID}/readings/summary.
// GrowingDegreeDays is only present for the ambient_temp metric.
type ReadingSummary struct {
	Metric      types.Metric `json:"metric"`
	WindowDays  int          `json:"window_days"`
	SampleCount int          `json:"sample_count"`
	Mean        *float64     `json:"mean,omitempty"`
	Min         *float64     `json:"min,omitempty"`
	Max         *float64     `json:"max,omitempty"`
	Trend       types.Trend  `json:"trend"`

	GrowingDegreeDays *float64 `json:"growing_degree_days,omitempty"`
	GDDBase           *float64 `json:"gdd_base,omitempty"`
}

// ingestClockSkewBound matches the engine's tolerance for readings
// timestamped ahead of the server clock. Such readings are accepted and
// stored but flagged so station operators can spot a drifting clock.
const ingestClockSkewBound = time.Hour

// ReadingHandler manages reading ingestion and retrieval for a lawn.
type ReadingHandler struct {
	store     ReadingStore
	lawns     LawnGetter
	trigger   EvalTrigger
	validator *core.Validator
	logger    *slog.Logger
}

// NewReadingHandler creates a ReadingHandler. The trigger may be nil, in
// which case ingestion does not request evaluation passes.
func NewReadingHandler(store ReadingStore, lawns LawnGetter, trigger EvalTrigger, v *core.Validator, l *slog.Logger) *ReadingHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ReadingHandler{
		store:     store,
		lawns:     lawns,
		trigger:   trigger,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts reading routes onto the provided router.
func (h *ReadingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/lawns/{lawnID}/readings", h.Ingest)
	r.Get("/lawns/{lawnID}/readings", h.Query)
	r.Get("/lawns/{lawnID}/readings/summary", h.Summary)
}

// Ingest handles POST /v1/lawns/{lawnID}/readings. Batches are idempotent:
// rows that already exist at the same (metric, timestamp) are counted as
// duplicates, not errors. A successful ingest queues an evaluation pass.
func (h *ReadingHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthKeyMissing, "Authentication required", nil))
		return
	}

	lawnID := chi.URLParam(r, "lawnID")
	if _, err := h.lawns.GetByID(r.Context(), lawnID); err != nil {
		core.Error(w, r, err)
		return
	}

	var req IngestReadingsRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if len(req.Readings) == 0 {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField, "at least one reading is required", nil))
		return
	}
	if len(req.Readings) > types.MaxReadingBatch {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationBatchSize,
			fmt.Sprintf("batch exceeds %d readings", types.MaxReadingBatch),
			nil,
			map[string]any{"max": types.MaxReadingBatch, "received": len(req.Readings)},
		))
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	now := time.Now().UTC()
	skewLimit := now.Add(ingestClockSkewBound)
	ahead := 0

	readings := make([]types.Reading, 0, len(req.Readings))
	for i, in := range req.Readings {
		if in.Timestamp.IsZero() {
			core.Error(w, r, types.NewAppErrorWithDetails(
				types.ErrCodeValidationMissingField, "reading timestamp is required",
				nil, map[string]any{"index": i},
			))
			return
		}

		reading := types.Reading{
			Metric:    types.Metric(in.Metric),
			Timestamp: in.Timestamp.UTC(),
			Value:     in.Value,
			Source:    in.Source,
		}
		if err := reading.Validate(); err != nil {
			core.Error(w, r, wrapReadingError(err, i))
			return
		}
		if reading.Timestamp.After(skewLimit) {
			ahead++
		}
		readings = append(readings, reading)
	}

	inserted, err := h.store.InsertBatch(r.Context(), lawnID, readings)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "readings ingested",
		"lawn_id", lawnID,
		"received", len(readings),
		"inserted", inserted,
		"actor_id", actor.ID,
	)

	h.requestEvaluation(r.Context(), lawnID)

	meta := &types.ResponseMeta{}
	if ahead > 0 {
		meta.Warnings = append(meta.Warnings, fmt.Sprintf(
			"%d reading(s) timestamped more than %s ahead of the server clock",
			ahead, ingestClockSkewBound,
		))
	}

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{
		Data: IngestReadingsResult{
			Received:   len(readings),
			Inserted:   inserted,
			Duplicates: len(readings) - inserted,
		},
		Meta: meta,
	})
}

// Query handles GET /v1/lawns/{lawnID}/readings. Supports filtering by
// metric and time range, with cursor pagination ordered by recorded_at
// descending.
func (h *ReadingHandler) Query(w http.ResponseWriter, r *http.Request) {
	lawnID := chi.URLParam(r, "lawnID")
	if _, err := h.lawns.GetByID(r.Context(), lawnID); err != nil {
		core.Error(w, r, err)
		return
	}

	params := ReadingQueryParams{}

	if raw := r.URL.Query().Get("metric"); raw != "" {
		m := types.Metric(raw)
		if !m.Valid() {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationInvalidMetric,
				fmt.Sprintf("unknown metric %q", raw), nil))
			return
		}
		params.Metric = m
	}

	var err error
	if params.Since, err = parseTimeParam(r, "since"); err != nil {
		core.Error(w, r, err)
		return
	}
	if params.Until, err = parseTimeParam(r, "until"); err != nil {
		core.Error(w, r, err)
		return
	}
	if params.Limit, err = parseLimitParam(r, defaultReadingLimit, maxReadingLimit); err != nil {
		core.Error(w, r, err)
		return
	}
	params.Cursor = r.URL.Query().Get("cursor")

	readings, err := h.store.Query(r.Context(), lawnID, params)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	readings, pageInfo := types.TrimPage(readings, params.Limit, func(rd types.Reading) string {
		return rd.Timestamp.Format(time.RFC3339Nano)
	})

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: readings,
		Meta: &types.ResponseMeta{Pagination: &pageInfo},
	})
}

// Summary handles GET /v1/lawns/{lawnID}/readings/summary. It derives the
// rolling-window statistics for one metric: sample count, mean, min, max,
// and trend direction, plus growing degree days when the metric is
// ambient_temp. An empty window reports sample_count 0 and trend unknown
// rather than an error.
func (h *ReadingHandler) Summary(w http.ResponseWriter, r *http.Request) {
	lawnID := chi.URLParam(r, "lawnID")
	if _, err := h.lawns.GetByID(r.Context(), lawnID); err != nil {
		core.Error(w, r, err)
		return
	}

	raw := r.URL.Query().Get("metric")
	if raw == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField, "metric query parameter is required", nil))
		return
	}
	metric := types.Metric(raw)
	if !metric.Valid() {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidMetric,
			fmt.Sprintf("unknown metric %q", raw), nil))
		return
	}

	windowDays := defaultSummaryWindowDays
	if rawDays := r.URL.Query().Get("window_days"); rawDays != "" {
		d, err := strconv.Atoi(rawDays)
		if err != nil || d < 1 || d > types.MaxWindowDays {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationValueRange,
				fmt.Sprintf("window_days must be a number between 1 and %d", types.MaxWindowDays),
				nil))
			return
		}
		windowDays = d
	}

	gddBase := aggregate.DefaultGDDBase
	if rawBase := r.URL.Query().Get("gdd_base"); rawBase != "" {
		b, err := strconv.ParseFloat(rawBase, 64)
		if err != nil || b < 32 || b > 90 {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationValueRange,
				"gdd_base must be a temperature between 32 and 90", nil))
			return
		}
		gddBase = b
	}

	now := time.Now().UTC()
	since := now.Add(-time.Duration(windowDays) * 24 * time.Hour)

	series, err := h.store.Series(r.Context(), lawnID, metric, since)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	win := aggregate.Compute(metric, series, windowDays, now)
	summary := ReadingSummary{
		Metric:      metric,
		WindowDays:  windowDays,
		SampleCount: win.SampleCount,
		Trend:       aggregate.DetectTrend(series, windowDays, now, aggregate.DefaultStableBand),
	}
	if !win.Insufficient() {
		summary.Mean = &win.Mean
		summary.Min = &win.Min
		summary.Max = &win.Max
	}

	if metric == types.MetricAmbientTemp {
		if gdd, ok := aggregate.GrowingDegreeDays(series, windowDays, now, gddBase); ok {
			summary.GrowingDegreeDays = &gdd
			summary.GDDBase = &gddBase
		}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: summary})
}

// requestEvaluation queues an evaluation pass after new data arrives.
// Failures are logged and swallowed so ingestion stays available when the
// queue is not.
func (h *ReadingHandler) requestEvaluation(ctx context.Context, lawnID string) {
	if h.trigger == nil {
		return
	}
	req := types.EvaluationRequest{
		LawnID:  lawnID,
		Reason:  types.EvalReasonDataArrival,
		TraceID: types.GetRequestID(ctx),
	}
	if err := h.trigger.TriggerEvaluation(ctx, req); err != nil {
		h.logger.WarnContext(ctx, "failed to queue evaluation request",
			"lawn_id", lawnID,
			"error", err,
		)
	}
}

// wrapReadingError attaches the batch index to a per-reading validation
// failure so the caller can locate the bad row.
func wrapReadingError(err error, index int) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.WithDetails(map[string]any{"index": index})
	}
	return err
}

const (
	defaultReadingLimit      = 100
	maxReadingLimit          = 500
	defaultSummaryWindowDays = 7
)

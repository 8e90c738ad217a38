package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turfwatch/internal/core"
	"turfwatch/internal/types"
)

// =============================================================================
// Mocks
// =============================================================================

// mockReadingStore implements ReadingStore for testing.
type mockReadingStore struct {
	insertBatchFn func(ctx context.Context, lawnID string, readings []types.Reading) (int, error)
	queryFn       func(ctx context.Context, lawnID string, params ReadingQueryParams) ([]types.Reading, error)
	seriesFn      func(ctx context.Context, lawnID string, metric types.Metric, since time.Time) ([]types.Reading, error)

	capturedLawnID string
	capturedBatch  []types.Reading
	capturedQuery  ReadingQueryParams
}

func (m *mockReadingStore) InsertBatch(ctx context.Context, lawnID string, readings []types.Reading) (int, error) {
	m.capturedLawnID = lawnID
	m.capturedBatch = readings
	if m.insertBatchFn != nil {
		return m.insertBatchFn(ctx, lawnID, readings)
	}
	return len(readings), nil
}

func (m *mockReadingStore) Query(ctx context.Context, lawnID string, params ReadingQueryParams) ([]types.Reading, error) {
	m.capturedLawnID = lawnID
	m.capturedQuery = params
	if m.queryFn != nil {
		return m.queryFn(ctx, lawnID, params)
	}
	return nil, nil
}

func (m *mockReadingStore) Series(ctx context.Context, lawnID string, metric types.Metric, since time.Time) ([]types.Reading, error) {
	m.capturedLawnID = lawnID
	if m.seriesFn != nil {
		return m.seriesFn(ctx, lawnID, metric, since)
	}
	return nil, nil
}

// mockEvalTrigger implements EvalTrigger for testing.
type mockEvalTrigger struct {
	err      error
	requests []types.EvaluationRequest
}

func (m *mockEvalTrigger) TriggerEvaluation(ctx context.Context, req types.EvaluationRequest) error {
	m.requests = append(m.requests, req)
	return m.err
}

func newTestReadingHandler() (*ReadingHandler, *mockReadingStore, *mockLawnGetter, *mockEvalTrigger) {
	store := &mockReadingStore{}
	lawns := &mockLawnGetter{}
	trigger := &mockEvalTrigger{}
	handler := NewReadingHandler(store, lawns, trigger, core.NewValidator(testLogger()), testLogger())
	return handler, store, lawns, trigger
}

func readingRouter(h *ReadingHandler) chi.Router {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func ingestBody(t *testing.T, readings ...ReadingInput) *http.Request {
	t.Helper()
	body := jsonBody(t, IngestReadingsRequest{Readings: readings})
	req := httptest.NewRequest(http.MethodPost, "/lawns/lawn_123/readings", body)
	return req.WithContext(testActorCtx())
}

// =============================================================================
// Ingest Tests
// =============================================================================

func TestReadingHandler_Ingest_Success(t *testing.T) {
	handler, store, _, trigger := newTestReadingHandler()

	now := time.Now().UTC()
	req := ingestBody(t,
		ReadingInput{Metric: "soil_temp_10cm", Timestamp: now.Add(-2 * time.Hour), Value: 54.2, Source: "station"},
		ReadingInput{Metric: "soil_temp_10cm", Timestamp: now.Add(-time.Hour), Value: 55.1, Source: "station"},
		ReadingInput{Metric: "soil_moisture", Timestamp: now.Add(-time.Hour), Value: 0.31, Source: "station"},
	)
	rr := httptest.NewRecorder()

	readingRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)

	var resp struct {
		Data IngestReadingsResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Data.Received)
	assert.Equal(t, 3, resp.Data.Inserted)
	assert.Equal(t, 0, resp.Data.Duplicates)

	assert.Equal(t, "lawn_123", store.capturedLawnID)
	require.Len(t, store.capturedBatch, 3)
	assert.Equal(t, types.MetricSoilTemp10cm, store.capturedBatch[0].Metric)

	// Fresh data queues an evaluation pass.
	require.Len(t, trigger.requests, 1)
	assert.Equal(t, "lawn_123", trigger.requests[0].LawnID)
	assert.Equal(t, types.EvalReasonDataArrival, trigger.requests[0].Reason)
}

func TestReadingHandler_Ingest_ReportsDuplicates(t *testing.T) {
	handler, store, _, _ := newTestReadingHandler()
	store.insertBatchFn = func(ctx context.Context, lawnID string, readings []types.Reading) (int, error) {
		return len(readings) - 1, nil
	}

	now := time.Now().UTC()
	req := ingestBody(t,
		ReadingInput{Metric: "ambient_temp", Timestamp: now.Add(-2 * time.Hour), Value: 71},
		ReadingInput{Metric: "ambient_temp", Timestamp: now.Add(-time.Hour), Value: 72},
	)
	rr := httptest.NewRecorder()

	readingRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)

	var resp struct {
		Data IngestReadingsResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.Received)
	assert.Equal(t, 1, resp.Data.Inserted)
	assert.Equal(t, 1, resp.Data.Duplicates)
}

func TestReadingHandler_Ingest_EmptyBatch(t *testing.T) {
	handler, _, _, trigger := newTestReadingHandler()

	req := ingestBody(t)
	rr := httptest.NewRecorder()

	readingRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(types.ErrCodeValidationMissingField), decodeErrorCode(t, rr.Body))
	assert.Empty(t, trigger.requests)
}

func TestReadingHandler_Ingest_BatchTooLarge(t *testing.T) {
	handler, store, _, _ := newTestReadingHandler()

	now := time.Now().UTC()
	readings := make([]ReadingInput, types.MaxReadingBatch+1)
	for i := range readings {
		readings[i] = ReadingInput{
			Metric:    "ambient_temp",
			Timestamp: now.Add(-time.Duration(i) * time.Minute),
			Value:     70,
		}
	}

	req := ingestBody(t, readings...)
	rr := httptest.NewRecorder()

	readingRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var resp core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, string(types.ErrCodeValidationBatchSize), resp.Error.Code)
	assert.EqualValues(t, types.MaxReadingBatch, resp.Error.Details["max"])
	assert.Nil(t, store.capturedBatch)
}

func TestReadingHandler_Ingest_UnknownMetric(t *testing.T) {
	handler, _, _, _ := newTestReadingHandler()

	req := ingestBody(t, ReadingInput{
		Metric:    "leaf_wetness",
		Timestamp: time.Now().UTC(),
		Value:     5,
	})
	rr := httptest.NewRecorder()

	readingRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(types.ErrCodeValidationInvalidMetric), decodeErrorCode(t, rr.Body))
}

func TestReadingHandler_Ingest_ValueOutOfRange(t *testing.T) {
	handler, _, _, _ := newTestReadingHandler()

	// 200°F soil is outside the plausible sensor range.
	req := ingestBody(t,
		ReadingInput{Metric: "soil_temp_10cm", Timestamp: time.Now().UTC().Add(-time.Hour), Value: 55},
		ReadingInput{Metric: "soil_temp_10cm", Timestamp: time.Now().UTC(), Value: 200},
	)
	rr := httptest.NewRecorder()

	readingRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var resp core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, string(types.ErrCodeValidationValueRange), resp.Error.Code)
	assert.EqualValues(t, 1, resp.Error.Details["index"], "error must locate the bad row")
}

func TestReadingHandler_Ingest_ClockAheadWarning(t *testing.T) {
	handler, _, _, _ := newTestReadingHandler()

	now := time.Now().UTC()
	req := ingestBody(t,
		ReadingInput{Metric: "ambient_temp", Timestamp: now, Value: 70},
		ReadingInput{Metric: "ambient_temp", Timestamp: now.Add(3 * time.Hour), Value: 71},
	)
	rr := httptest.NewRecorder()

	readingRouter(handler).ServeHTTP(rr, req)

	// Accepted, with the skew surfaced as a warning.
	assert.Equal(t, http.StatusAccepted, rr.Code)

	var resp struct {
		Data IngestReadingsResult `json:"data"`
		Meta types.ResponseMeta   `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.Received)
	require.Len(t, resp.Meta.Warnings, 1)
	assert.Contains(t, resp.Meta.Warnings[0], "ahead of the server clock")
}

func TestReadingHandler_Ingest_LawnNotFound(t *testing.T) {
	handler, store, lawns, _ := newTestReadingHandler()
	lawns.getByIDFn = func(ctx context.Context, id string) (*types.Lawn, error) {
		return nil, types.NewAppError(types.ErrCodeNotFoundLawn, "lawn not found", nil)
	}

	req := ingestBody(t, ReadingInput{
		Metric:    "ambient_temp",
		Timestamp: time.Now().UTC(),
		Value:     70,
	})
	rr := httptest.NewRecorder()

	readingRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Nil(t, store.capturedBatch)
}

func TestReadingHandler_Ingest_TriggerFailureDoesNotFailIngest(t *testing.T) {
	handler, _, _, trigger := newTestReadingHandler()
	trigger.err = errors.New("queue unavailable")

	req := ingestBody(t, ReadingInput{
		Metric:    "ambient_temp",
		Timestamp: time.Now().UTC(),
		Value:     70,
	})
	rr := httptest.NewRecorder()

	readingRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Len(t, trigger.requests, 1, "trigger must still have been attempted")
}

// =============================================================================
// Query Tests
// =============================================================================

func TestReadingHandler_Query_MetricFilter(t *testing.T) {
	handler, store, _, _ := newTestReadingHandler()

	req := httptest.NewRequest(http.MethodGet,
		"/lawns/lawn_123/readings?metric=soil_temp_10cm&since=2026-04-01&until=2026-04-08", nil)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	readingRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, types.MetricSoilTemp10cm, store.capturedQuery.Metric)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), store.capturedQuery.Since)
	assert.Equal(t, time.Date(2026, 4, 8, 0, 0, 0, 0, time.UTC), store.capturedQuery.Until)
}

func TestReadingHandler_Query_UnknownMetric(t *testing.T) {
	handler, _, _, _ := newTestReadingHandler()

	req := httptest.NewRequest(http.MethodGet, "/lawns/lawn_123/readings?metric=bogus", nil)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	readingRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(types.ErrCodeValidationInvalidMetric), decodeErrorCode(t, rr.Body))
}

func TestReadingHandler_Query_Pagination(t *testing.T) {
	handler, store, _, _ := newTestReadingHandler()

	base := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	store.queryFn = func(ctx context.Context, lawnID string, params ReadingQueryParams) ([]types.Reading, error) {
		readings := make([]types.Reading, params.Limit+1)
		for i := range readings {
			readings[i] = types.Reading{
				Metric:    types.MetricAmbientTemp,
				Timestamp: base.Add(-time.Duration(i) * time.Hour),
				Value:     70,
			}
		}
		return readings, nil
	}

	req := httptest.NewRequest(http.MethodGet, "/lawns/lawn_123/readings?limit=10", nil)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	readingRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data []types.Reading    `json:"data"`
		Meta types.ResponseMeta `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 10)
	require.NotNil(t, resp.Meta.Pagination)
	assert.True(t, resp.Meta.Pagination.HasMore)
	assert.Equal(t,
		resp.Data[9].Timestamp.Format(time.RFC3339Nano),
		resp.Meta.Pagination.NextCursor,
	)
}

func TestReadingHandler_Query_BadSince(t *testing.T) {
	handler, _, _, _ := newTestReadingHandler()

	req := httptest.NewRequest(http.MethodGet, "/lawns/lawn_123/readings?since=yesterday", nil)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	readingRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(types.ErrCodeValidationValueRange), decodeErrorCode(t, rr.Body))
}

// =============================================================================
// Summary Tests
// =============================================================================

// summarySeries builds a few days of hourly-ish readings around the given
// values, one value per day ending yesterday.
func summarySeries(metric types.Metric, values ...float64) []types.Reading {
	now := time.Now().UTC()
	readings := make([]types.Reading, 0, len(values))
	for i, v := range values {
		readings = append(readings, types.Reading{
			Metric:    metric,
			Timestamp: now.Add(-time.Duration(len(values)-i) * 24 * time.Hour),
			Value:     v,
		})
	}
	return readings
}

func TestReadingHandler_Summary_Success(t *testing.T) {
	handler, store, _, _ := newTestReadingHandler()
	store.seriesFn = func(ctx context.Context, lawnID string, metric types.Metric, since time.Time) ([]types.Reading, error) {
		assert.Equal(t, types.MetricSoilTemp10cm, metric)
		return summarySeries(metric, 52, 54, 56), nil
	}

	req := httptest.NewRequest(http.MethodGet,
		"/lawns/lawn_123/readings/summary?metric=soil_temp_10cm&window_days=7", nil)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	readingRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data ReadingSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, types.MetricSoilTemp10cm, resp.Data.Metric)
	assert.Equal(t, 7, resp.Data.WindowDays)
	assert.Equal(t, 3, resp.Data.SampleCount)
	require.NotNil(t, resp.Data.Mean)
	assert.InDelta(t, 54.0, *resp.Data.Mean, 0.001)
	require.NotNil(t, resp.Data.Min)
	assert.InDelta(t, 52.0, *resp.Data.Min, 0.001)
	require.NotNil(t, resp.Data.Max)
	assert.InDelta(t, 56.0, *resp.Data.Max, 0.001)
	assert.NotEmpty(t, resp.Data.Trend)
	assert.Nil(t, resp.Data.GrowingDegreeDays, "GDD only applies to ambient_temp")
}

func TestReadingHandler_Summary_GDDForAmbientTemp(t *testing.T) {
	handler, store, _, _ := newTestReadingHandler()
	store.seriesFn = func(ctx context.Context, lawnID string, metric types.Metric, since time.Time) ([]types.Reading, error) {
		return summarySeries(metric, 60, 64, 68), nil
	}

	req := httptest.NewRequest(http.MethodGet,
		"/lawns/lawn_123/readings/summary?metric=ambient_temp", nil)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	readingRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data ReadingSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotNil(t, resp.Data.GrowingDegreeDays)
	assert.Greater(t, *resp.Data.GrowingDegreeDays, 0.0)
	require.NotNil(t, resp.Data.GDDBase)
	assert.InDelta(t, 50.0, *resp.Data.GDDBase, 0.001, "default base is 50°F")
}

func TestReadingHandler_Summary_CustomGDDBase(t *testing.T) {
	handler, store, _, _ := newTestReadingHandler()
	store.seriesFn = func(ctx context.Context, lawnID string, metric types.Metric, since time.Time) ([]types.Reading, error) {
		return summarySeries(metric, 60, 64, 68), nil
	}

	req := httptest.NewRequest(http.MethodGet,
		"/lawns/lawn_123/readings/summary?metric=ambient_temp&gdd_base=55", nil)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	readingRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data ReadingSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotNil(t, resp.Data.GDDBase)
	assert.InDelta(t, 55.0, *resp.Data.GDDBase, 0.001)
}

func TestReadingHandler_Summary_EmptySeries(t *testing.T) {
	handler, _, _, _ := newTestReadingHandler()

	req := httptest.NewRequest(http.MethodGet,
		"/lawns/lawn_123/readings/summary?metric=soil_moisture", nil)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	readingRouter(handler).ServeHTTP(rr, req)

	// No data is a valid answer, not an error.
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data ReadingSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Data.SampleCount)
	assert.Equal(t, types.TrendUnknown, resp.Data.Trend)
	assert.Nil(t, resp.Data.Mean)
	assert.Nil(t, resp.Data.Min)
	assert.Nil(t, resp.Data.Max)
}

func TestReadingHandler_Summary_MissingMetric(t *testing.T) {
	handler, _, _, _ := newTestReadingHandler()

	req := httptest.NewRequest(http.MethodGet, "/lawns/lawn_123/readings/summary", nil)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	readingRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(types.ErrCodeValidationMissingField), decodeErrorCode(t, rr.Body))
}

func TestReadingHandler_Summary_WindowTooLarge(t *testing.T) {
	handler, _, _, _ := newTestReadingHandler()

	req := httptest.NewRequest(http.MethodGet,
		"/lawns/lawn_123/readings/summary?metric=ambient_temp&window_days=365", nil)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	readingRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(types.ErrCodeValidationValueRange), decodeErrorCode(t, rr.Body))
}

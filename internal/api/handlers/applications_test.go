package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
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

// mockApplicationStore implements ApplicationStore for testing.
type mockApplicationStore struct {
	createFn    func(ctx context.Context, app *types.Application) error
	listSinceFn func(ctx context.Context, lawnID string, since time.Time) ([]types.Application, error)
	deleteFn    func(ctx context.Context, id, lawnID string) error

	capturedApp   *types.Application
	capturedSince time.Time
	deletedID     string
}

func (m *mockApplicationStore) Create(ctx context.Context, app *types.Application) error {
	m.capturedApp = app
	if m.createFn != nil {
		return m.createFn(ctx, app)
	}
	return nil
}

func (m *mockApplicationStore) ListSince(ctx context.Context, lawnID string, since time.Time) ([]types.Application, error) {
	m.capturedSince = since
	if m.listSinceFn != nil {
		return m.listSinceFn(ctx, lawnID, since)
	}
	return nil, nil
}

func (m *mockApplicationStore) Delete(ctx context.Context, id, lawnID string) error {
	m.deletedID = id
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id, lawnID)
	}
	return nil
}

func newTestApplicationHandler() (*ApplicationHandler, *mockApplicationStore, *mockLawnGetter, *mockEvalTrigger) {
	store := &mockApplicationStore{}
	lawns := &mockLawnGetter{}
	trigger := &mockEvalTrigger{}
	handler := NewApplicationHandler(store, lawns, trigger, core.NewValidator(testLogger()), testLogger())
	return handler, store, lawns, trigger
}

func applicationRouter(h *ApplicationHandler) chi.Router {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// =============================================================================
// Create Tests
// =============================================================================

func TestApplicationHandler_Create_Success(t *testing.T) {
	handler, store, _, trigger := newTestApplicationHandler()

	body := jsonBody(t, CreateApplicationRequest{
		Category:  "fertilizer",
		AppliedAt: "2026-04-15",
		Amount:    0.75,
		Notes:     "spring starter, 24-0-6",
	})

	req := httptest.NewRequest(http.MethodPost, "/lawns/lawn_123/applications", body)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	applicationRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)

	var resp struct {
		Data types.Application `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.Data.ID, "app_"))
	assert.Equal(t, types.CategoryFertilizer, resp.Data.Category)
	assert.Equal(t, "lawn_123", resp.Data.LawnID)

	require.NotNil(t, store.capturedApp)
	assert.Equal(t,
		time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC),
		store.capturedApp.AppliedAt,
		"applied_at must normalize to midnight UTC",
	)

	// The treatment log feeds phenology facts, so a pass is queued.
	require.Len(t, trigger.requests, 1)
	assert.Equal(t, "lawn_123", trigger.requests[0].LawnID)
}

func TestApplicationHandler_Create_TimestampTruncatedToDate(t *testing.T) {
	handler, store, _, _ := newTestApplicationHandler()

	body := jsonBody(t, CreateApplicationRequest{
		Category:  "pre_emergent",
		AppliedAt: "2026-03-20T14:30:45Z",
	})

	req := httptest.NewRequest(http.MethodPost, "/lawns/lawn_123/applications", body)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	applicationRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	require.NotNil(t, store.capturedApp)
	assert.Equal(t,
		time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC),
		store.capturedApp.AppliedAt,
	)
}

func TestApplicationHandler_Create_InvalidCategory(t *testing.T) {
	handler, _, _, _ := newTestApplicationHandler()

	body := jsonBody(t, CreateApplicationRequest{
		Category:  "watering",
		AppliedAt: "2026-04-15",
	})

	req := httptest.NewRequest(http.MethodPost, "/lawns/lawn_123/applications", body)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	applicationRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(types.ErrCodeValidationInvalidCategory), decodeErrorCode(t, rr.Body))
}

func TestApplicationHandler_Create_FutureDate(t *testing.T) {
	handler, store, _, _ := newTestApplicationHandler()

	future := time.Now().UTC().AddDate(0, 0, 3).Format("2006-01-02")
	body := jsonBody(t, CreateApplicationRequest{
		Category:  "fertilizer",
		AppliedAt: future,
	})

	req := httptest.NewRequest(http.MethodPost, "/lawns/lawn_123/applications", body)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	applicationRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(types.ErrCodeValidationValueRange), decodeErrorCode(t, rr.Body))
	assert.Nil(t, store.capturedApp)
}

func TestApplicationHandler_Create_BadDateFormat(t *testing.T) {
	handler, _, _, _ := newTestApplicationHandler()

	body := jsonBody(t, CreateApplicationRequest{
		Category:  "fertilizer",
		AppliedAt: "04/15/2026",
	})

	req := httptest.NewRequest(http.MethodPost, "/lawns/lawn_123/applications", body)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	applicationRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(types.ErrCodeValidationValueRange), decodeErrorCode(t, rr.Body))
}

func TestApplicationHandler_Create_NegativeAmount(t *testing.T) {
	handler, _, _, _ := newTestApplicationHandler()

	body := jsonBody(t, CreateApplicationRequest{
		Category:  "fertilizer",
		AppliedAt: "2026-04-15",
		Amount:    -1,
	})

	req := httptest.NewRequest(http.MethodPost, "/lawns/lawn_123/applications", body)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	applicationRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestApplicationHandler_Create_LawnNotFound(t *testing.T) {
	handler, store, lawns, _ := newTestApplicationHandler()
	lawns.getByIDFn = func(ctx context.Context, id string) (*types.Lawn, error) {
		return nil, types.NewAppError(types.ErrCodeNotFoundLawn, "lawn not found", nil)
	}

	body := jsonBody(t, CreateApplicationRequest{
		Category:  "fertilizer",
		AppliedAt: "2026-04-15",
	})

	req := httptest.NewRequest(http.MethodPost, "/lawns/lawn_missing/applications", body)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	applicationRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Nil(t, store.capturedApp)
}

// =============================================================================
// List Tests
// =============================================================================

func TestApplicationHandler_List_DefaultHorizon(t *testing.T) {
	handler, store, _, _ := newTestApplicationHandler()
	store.listSinceFn = func(ctx context.Context, lawnID string, since time.Time) ([]types.Application, error) {
		return []types.Application{
			{ID: "app_1", LawnID: lawnID, Category: types.CategoryFertilizer},
		}, nil
	}

	req := httptest.NewRequest(http.MethodGet, "/lawns/lawn_123/applications", nil)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	applicationRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "app_1")

	// Default range is the two-season phenology lookback.
	expected := time.Now().UTC().AddDate(0, 0, -applicationHistoryDays)
	assert.WithinDuration(t, expected, store.capturedSince, time.Minute)
}

func TestApplicationHandler_List_ExplicitSince(t *testing.T) {
	handler, store, _, _ := newTestApplicationHandler()

	req := httptest.NewRequest(http.MethodGet, "/lawns/lawn_123/applications?since=2026-01-01", nil)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	applicationRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), store.capturedSince)
}

// =============================================================================
// Delete Tests
// =============================================================================

func TestApplicationHandler_Delete_Success(t *testing.T) {
	handler, store, _, trigger := newTestApplicationHandler()

	req := httptest.NewRequest(http.MethodDelete, "/lawns/lawn_123/applications/app_42", nil)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	applicationRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "app_42", store.deletedID)
	assert.Len(t, trigger.requests, 1, "removing history re-evaluates the lawn")
}

func TestApplicationHandler_Delete_NotFound(t *testing.T) {
	handler, store, _, trigger := newTestApplicationHandler()
	store.deleteFn = func(ctx context.Context, id, lawnID string) error {
		return types.NewAppError(types.ErrCodeNotFoundApplication, "application not found", nil)
	}

	req := httptest.NewRequest(http.MethodDelete, "/lawns/lawn_123/applications/app_missing", nil)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	applicationRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Empty(t, trigger.requests)
}

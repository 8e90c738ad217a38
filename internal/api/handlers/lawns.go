package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"turfwatch/internal/core"
	"turfwatch/internal/types"
)

// LawnStore defines the data access contract for lawn CRUD.
type LawnStore interface {
	Create(ctx context.Context, lawn *types.Lawn) error
	GetByID(ctx context.Context, id string) (*types.Lawn, error)
	List(ctx context.Context, params LawnListParams) ([]*types.Lawn, error)
	Update(ctx context.Context, lawn *types.Lawn) error
	Delete(ctx context.Context, id string) error
}

// LawnGetter is the narrow read contract used by the lawn-scoped handlers
// (readings, applications, recommendations) to confirm a lawn exists.
type LawnGetter interface {
	GetByID(ctx context.Context, id string) (*types.Lawn, error)
}

// LawnListParams mirrors the db-layer list parameters.
type LawnListParams struct {
	Limit  int
	Cursor string
}

// LocationInput is the request shape for a lawn's coordinates. Service
// coverage is the continental US, so latitude carries the CONUS check;
// out-of-footprint coordinates are rejected at this boundary rather than
// deep in the engine.
type LocationInput struct {
	Lat float64 `json:"lat" validate:"is_conus"`
	Lon float64 `json:"lon" validate:"longitude"`
}

// CreateLawnRequest is the request body for POST /v1/lawns.
type CreateLawnRequest struct {
	Name      string        `json:"name" validate:"required,max=200"`
	Location  LocationInput `json:"location"`
	GrassType string        `json:"grass_type" validate:"required,grass_type"`
	StationID string        `json:"station_id,omitempty" validate:"omitempty,max=100"`
	AreaSqFt  int           `json:"area_sqft,omitempty" validate:"omitempty,min=1"`
}

// UpdateLawnRequest is the request body for PATCH /v1/lawns/{lawnID}.
// Nil fields are left unchanged.
type UpdateLawnRequest struct {
	Name      *string        `json:"name,omitempty" validate:"omitempty,max=200"`
	Location  *LocationInput `json:"location,omitempty"`
	GrassType *string        `json:"grass_type,omitempty" validate:"omitempty,grass_type"`
	StationID *string        `json:"station_id,omitempty" validate:"omitempty,max=100"`
	AreaSqFt  *int           `json:"area_sqft,omitempty" validate:"omitempty,min=1"`
}

// LawnHandler manages the lawn resource.
type LawnHandler struct {
	store     LawnStore
	validator *core.Validator
	logger    *slog.Logger
}

// NewLawnHandler creates a LawnHandler with the provided dependencies.
func NewLawnHandler(store LawnStore, v *core.Validator, l *slog.Logger) *LawnHandler {
	if l == nil {
		l = slog.Default()
	}
	return &LawnHandler{
		store:     store,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts lawn routes onto the provided router. The /lawns
// subtree is shared with the readings, applications, and recommendations
// handlers, so routes are registered per-method with a common {lawnID}
// parameter instead of mounting a subrouter that would own the subtree.
func (h *LawnHandler) RegisterRoutes(r chi.Router) {
	r.Post("/lawns", h.Create)
	r.Get("/lawns", h.List)
	r.Get("/lawns/{lawnID}", h.Get)
	r.Patch("/lawns/{lawnID}", h.Update)
	r.Delete("/lawns/{lawnID}", h.Delete)
}

// Create handles POST /v1/lawns.
func (h *LawnHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthKeyMissing, "Authentication required", nil))
		return
	}

	var req CreateLawnRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	now := time.Now().UTC()
	lawn := &types.Lawn{
		ID:        "lawn_" + uuid.New().String(),
		Name:      req.Name,
		Location:  types.Location{Lat: req.Location.Lat, Lon: req.Location.Lon},
		GrassType: types.GrassType(req.GrassType),
		StationID: req.StationID,
		AreaSqFt:  req.AreaSqFt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.Create(r.Context(), lawn); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "lawn created",
		"lawn_id", lawn.ID,
		"grass_type", lawn.GrassType,
		"actor_id", actor.ID,
	)

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: lawn})
}

// Get handles GET /v1/lawns/{lawnID}.
func (h *LawnHandler) Get(w http.ResponseWriter, r *http.Request) {
	lawn, err := h.store.GetByID(r.Context(), chi.URLParam(r, "lawnID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: lawn})
}

// List handles GET /v1/lawns with cursor pagination.
func (h *LawnHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimitParam(r, defaultListLimit, maxListLimit)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	lawns, err := h.store.List(r.Context(), LawnListParams{
		Limit:  limit,
		Cursor: r.URL.Query().Get("cursor"),
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	lawns, pageInfo := types.TrimPage(lawns, limit, func(l *types.Lawn) string {
		return l.CreatedAt.Format(time.RFC3339Nano)
	})

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: lawns,
		Meta: &types.ResponseMeta{Pagination: &pageInfo},
	})
}

// Update handles PATCH /v1/lawns/{lawnID}. Only fields present in the
// request body change.
func (h *LawnHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthKeyMissing, "Authentication required", nil))
		return
	}

	lawn, err := h.store.GetByID(r.Context(), chi.URLParam(r, "lawnID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req UpdateLawnRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Name != nil {
		lawn.Name = *req.Name
	}
	if req.Location != nil {
		lawn.Location = types.Location{Lat: req.Location.Lat, Lon: req.Location.Lon}
	}
	if req.GrassType != nil {
		lawn.GrassType = types.GrassType(*req.GrassType)
	}
	if req.StationID != nil {
		lawn.StationID = *req.StationID
	}
	if req.AreaSqFt != nil {
		lawn.AreaSqFt = *req.AreaSqFt
	}
	lawn.UpdatedAt = time.Now().UTC()

	if err := h.store.Update(r.Context(), lawn); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "lawn updated",
		"lawn_id", lawn.ID,
		"actor_id", actor.ID,
	)

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: lawn})
}

// Delete handles DELETE /v1/lawns/{lawnID}. Readings, applications, and
// recommendations for the lawn are removed by the database cascade.
func (h *LawnHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthKeyMissing, "Authentication required", nil))
		return
	}

	lawnID := chi.URLParam(r, "lawnID")
	if err := h.store.Delete(r.Context(), lawnID); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "lawn deleted",
		"lawn_id", lawnID,
		"actor_id", actor.ID,
	)

	w.WriteHeader(http.StatusNoContent)
}

// --- Shared parameter helpers ---

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// parseLimitParam reads the limit query parameter, applying the default
// when absent and rejecting values outside [1, max].
func parseLimitParam(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > max {
		return 0, types.NewAppError(
			types.ErrCodeValidationValueRange,
			"limit must be a number between 1 and "+strconv.Itoa(max),
			nil,
		)
	}
	return limit, nil
}

// parseTimeParam reads an RFC 3339 timestamp or YYYY-MM-DD date query
// parameter. Returns the zero time when the parameter is absent.
func parseTimeParam(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, types.NewAppError(
		types.ErrCodeValidationValueRange,
		key+" must be an RFC 3339 timestamp or YYYY-MM-DD date",
		nil,
	)
}

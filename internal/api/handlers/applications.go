package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"turfwatch/internal/core"
	"turfwatch/internal/types"
)

// ApplicationStore defines the data access contract for the treatment log.
type ApplicationStore interface {
	Create(ctx context.Context, app *types.Application) error
	ListSince(ctx context.Context, lawnID string, since time.Time) ([]types.Application, error)
	Delete(ctx context.Context, id, lawnID string) error
}

// CreateApplicationRequest is the request body for
// POST /v1/lawns/{lawnID}/applications. AppliedAt is a calendar date; a
// full timestamp is accepted and truncated to its UTC date.
type CreateApplicationRequest struct {
	Category  string  `json:"category" validate:"required,app_category"`
	AppliedAt string  `json:"applied_at" validate:"required"`
	Amount    float64 `json:"amount,omitempty" validate:"omitempty,min=0"`
	Notes     string  `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// applicationHistoryDays bounds the default listing range. Phenology
// rules look back at most two growing seasons, so older entries only
// matter for audits and are available via an explicit since parameter.
const applicationHistoryDays = 2 * 365

// ApplicationHandler manages the treatment log for a lawn.
type ApplicationHandler struct {
	store     ApplicationStore
	lawns     LawnGetter
	trigger   EvalTrigger
	validator *core.Validator
	logger    *slog.Logger
}

// NewApplicationHandler creates an ApplicationHandler. The trigger may be
// nil, in which case log changes do not request evaluation passes.
func NewApplicationHandler(store ApplicationStore, lawns LawnGetter, trigger EvalTrigger, v *core.Validator, l *slog.Logger) *ApplicationHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ApplicationHandler{
		store:     store,
		lawns:     lawns,
		trigger:   trigger,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts application routes onto the provided router.
func (h *ApplicationHandler) RegisterRoutes(r chi.Router) {
	r.Post("/lawns/{lawnID}/applications", h.Create)
	r.Get("/lawns/{lawnID}/applications", h.List)
	r.Delete("/lawns/{lawnID}/applications/{id}", h.Delete)
}

// Create handles POST /v1/lawns/{lawnID}/applications. Recording a
// treatment changes the phenology facts, so a successful write queues an
// evaluation pass.
func (h *ApplicationHandler) Create(w http.ResponseWriter, r *http.Request) {
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

	var req CreateApplicationRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	appliedAt, err := parseAppliedAt(req.AppliedAt)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	app := &types.Application{
		ID:        "app_" + uuid.New().String(),
		LawnID:    lawnID,
		Category:  types.ApplicationCategory(req.Category),
		AppliedAt: appliedAt,
		Amount:    req.Amount,
		Notes:     req.Notes,
		CreatedAt: time.Now().UTC(),
	}
	if err := app.Validate(); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.store.Create(r.Context(), app); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "application logged",
		"application_id", app.ID,
		"lawn_id", lawnID,
		"category", app.Category,
		"actor_id", actor.ID,
	)

	h.requestEvaluation(r.Context(), lawnID)

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: app})
}

// List handles GET /v1/lawns/{lawnID}/applications. Entries are returned
// newest-first; the range defaults to the phenology lookback horizon.
func (h *ApplicationHandler) List(w http.ResponseWriter, r *http.Request) {
	lawnID := chi.URLParam(r, "lawnID")
	if _, err := h.lawns.GetByID(r.Context(), lawnID); err != nil {
		core.Error(w, r, err)
		return
	}

	since, err := parseTimeParam(r, "since")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if since.IsZero() {
		since = time.Now().UTC().AddDate(0, 0, -applicationHistoryDays)
	}

	apps, err := h.store.ListSince(r.Context(), lawnID, since)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: apps})
}

// Delete handles DELETE /v1/lawns/{lawnID}/applications/{id}. Removing an
// entry rewrites history, so the lawn is re-evaluated.
func (h *ApplicationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthKeyMissing, "Authentication required", nil))
		return
	}

	lawnID := chi.URLParam(r, "lawnID")
	appID := chi.URLParam(r, "id")

	if err := h.store.Delete(r.Context(), appID, lawnID); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "application deleted",
		"application_id", appID,
		"lawn_id", lawnID,
		"actor_id", actor.ID,
	)

	h.requestEvaluation(r.Context(), lawnID)

	w.WriteHeader(http.StatusNoContent)
}

// requestEvaluation queues an evaluation pass after the treatment log
// changes. Failures are logged and swallowed.
func (h *ApplicationHandler) requestEvaluation(ctx context.Context, lawnID string) {
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

// parseAppliedAt parses the applied_at field, accepting a date or a full
// RFC 3339 timestamp, and normalizes to midnight UTC. Dates more than a
// day ahead are rejected; the log records what happened, not plans.
func parseAppliedAt(raw string) (time.Time, error) {
	var t time.Time
	var err error
	if t, err = time.Parse("2006-01-02", raw); err != nil {
		if t, err = time.Parse(time.RFC3339, raw); err != nil {
			return time.Time{}, types.NewAppError(
				types.ErrCodeValidationValueRange,
				"applied_at must be a YYYY-MM-DD date or RFC 3339 timestamp",
				nil,
			)
		}
	}

	normalized := types.NormalizeAppliedAt(t)
	if normalized.After(time.Now().UTC().Add(24 * time.Hour)) {
		return time.Time{}, types.NewAppError(
			types.ErrCodeValidationValueRange,
			"applied_at cannot be in the future",
			nil,
		)
	}
	return normalized, nil
}

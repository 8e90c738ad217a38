package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"turfwatch/internal/core"
	"turfwatch/internal/types"
)

// RecommendationStore defines the read contract for stored recommendations.
type RecommendationStore interface {
	ListForLawn(ctx context.Context, lawnID string, activeOnly bool, now time.Time) ([]types.Recommendation, error)
}

// LawnEvaluator runs a full evaluation pass for one lawn and persists the
// outcome. It returns the ranked recommendations and any non-fatal
// warnings raised during the pass.
type LawnEvaluator interface {
	EvaluateLawn(ctx context.Context, lawnID string, ref time.Time) ([]types.Recommendation, []string, error)
}

// EvaluateRequest is the optional request body for
// POST /v1/lawns/{lawnID}/evaluate. ReferenceTime pins the evaluation
// instant for reproducing a past pass; omitted means now.
type EvaluateRequest struct {
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// RecommendationHandler serves stored recommendations and on-demand
// evaluation.
type RecommendationHandler struct {
	store     RecommendationStore
	lawns     LawnGetter
	evaluator LawnEvaluator
	logger    *slog.Logger
}

// NewRecommendationHandler creates a RecommendationHandler.
func NewRecommendationHandler(store RecommendationStore, lawns LawnGetter, evaluator LawnEvaluator, l *slog.Logger) *RecommendationHandler {
	if l == nil {
		l = slog.Default()
	}
	return &RecommendationHandler{
		store:     store,
		lawns:     lawns,
		evaluator: evaluator,
		logger:    l,
	}
}

// RegisterRoutes mounts recommendation routes onto the provided router.
func (h *RecommendationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/lawns/{lawnID}/recommendations", h.List)
	r.Post("/lawns/{lawnID}/evaluate", h.Evaluate)
}

// List handles GET /v1/lawns/{lawnID}/recommendations. By default only
// recommendations still inside their validity window are returned; pass
// include_expired=true for the full stored set.
func (h *RecommendationHandler) List(w http.ResponseWriter, r *http.Request) {
	lawnID := chi.URLParam(r, "lawnID")
	if _, err := h.lawns.GetByID(r.Context(), lawnID); err != nil {
		core.Error(w, r, err)
		return
	}

	activeOnly := r.URL.Query().Get("include_expired") != "true"

	recs, err := h.store.ListForLawn(r.Context(), lawnID, activeOnly, time.Now().UTC())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: recs})
}

// Evaluate handles POST /v1/lawns/{lawnID}/evaluate. The pass runs
// synchronously: the stored recommendation set for the lawn is replaced
// and the new set returned. Non-fatal diagnostics (clock skew, sparse
// data) surface as warnings in the response meta.
func (h *RecommendationHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
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

	ref := time.Now().UTC()
	if r.ContentLength > 0 {
		var req EvaluateRequest
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
		if req.ReferenceTime != nil {
			ref = req.ReferenceTime.UTC()
		}
	}

	recs, warnings, err := h.evaluator.EvaluateLawn(r.Context(), lawnID, ref)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "on-demand evaluation completed",
		"lawn_id", lawnID,
		"reference_time", ref,
		"recommendations", len(recs),
		"warnings", len(warnings),
		"actor_id", actor.ID,
	)

	var meta *types.ResponseMeta
	if len(warnings) > 0 {
		meta = &types.ResponseMeta{Warnings: warnings}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: recs, Meta: meta})
}

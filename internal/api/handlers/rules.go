package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"turfwatch/internal/core"
	"turfwatch/internal/rules"
	"turfwatch/internal/types"
)

// RuleStore defines the data access contract for operator-authored rules.
// Builtin rules never pass through it.
type RuleStore interface {
	Create(ctx context.Context, spec *types.RuleSpec) error
	GetByID(ctx context.Context, id string) (*types.RuleSpec, error)
	List(ctx context.Context) ([]types.RuleSpec, error)
	Delete(ctx context.Context, id string) error
}

// RuleResponse is one rule in a catalog listing, annotated with where it
// came from.
type RuleResponse struct {
	types.RuleSpec
	Source string `json:"origin"`
}

// Rule origins.
const (
	ruleSourceBuiltin = "builtin"
	ruleSourceCustom  = "custom"
)

// catalogReloadWarning is attached to write responses. The running catalog
// is immutable; stored changes apply when the service next builds it.
const catalogReloadWarning = "rule changes take effect after the next catalog reload"

// RuleHandler serves the rule catalog and manages operator-authored rules.
// The catalog it holds is the one the engine evaluates against: immutable
// for the life of the process, assembled at startup from the builtin set,
// optional rule documents, and the rule store.
type RuleHandler struct {
	catalog    *rules.Catalog
	store      RuleStore
	builtinIDs map[string]bool
	logger     *slog.Logger
}

// NewRuleHandler creates a RuleHandler around the live catalog.
func NewRuleHandler(catalog *rules.Catalog, store RuleStore, l *slog.Logger) *RuleHandler {
	if l == nil {
		l = slog.Default()
	}
	builtinIDs := make(map[string]bool)
	for _, spec := range rules.Builtin() {
		builtinIDs[spec.ID] = true
	}
	return &RuleHandler{
		catalog:    catalog,
		store:      store,
		builtinIDs: builtinIDs,
		logger:     l,
	}
}

// RegisterRoutes mounts rule routes onto the provided router.
func (h *RuleHandler) RegisterRoutes(r chi.Router) {
	r.Route("/rules", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Delete("/{id}", h.Delete)
	})
}

// List handles GET /v1/rules. Returns the live catalog in evaluation
// order, which is also the ranking tie-break order.
func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	specs := h.catalog.Rules()
	data := make([]RuleResponse, 0, len(specs))
	for _, spec := range specs {
		data = append(data, RuleResponse{RuleSpec: spec, Source: h.sourceOf(spec.ID)})
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: data})
}

// Get handles GET /v1/rules/{id}. Looks in the live catalog first; rules
// stored but not yet loaded are returned with a reload warning.
func (h *RuleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if spec, ok := h.catalog.Get(id); ok {
		core.JSON(w, r, http.StatusOK, core.APIResponse{
			Data: RuleResponse{RuleSpec: spec, Source: h.sourceOf(id)},
		})
		return
	}

	spec, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: RuleResponse{RuleSpec: *spec, Source: ruleSourceCustom},
		Meta: &types.ResponseMeta{Warnings: []string{catalogReloadWarning}},
	})
}

// Create handles POST /v1/rules. The submitted rule is fully validated
// (window endpoints, predicate shape, tier severities) before it is
// stored. It joins the catalog at the next reload.
func (h *RuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthKeyMissing, "Authentication required", nil))
		return
	}

	var spec types.RuleSpec
	if err := core.DecodeJSON(w, r, &spec); err != nil {
		core.Error(w, r, err)
		return
	}
	if spec.ID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField, "rule id is required", nil))
		return
	}
	if err := spec.Validate(); err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationValueRange,
			fmt.Sprintf("invalid rule definition: %v", err), err))
		return
	}

	if _, exists := h.catalog.Get(spec.ID); exists {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeConflictRuleID,
			fmt.Sprintf("rule id %q already exists in the catalog", spec.ID), nil))
		return
	}

	if err := h.store.Create(r.Context(), &spec); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "custom rule stored",
		"rule_id", spec.ID,
		"category", spec.Category,
		"actor_id", actor.ID,
	)

	core.JSON(w, r, http.StatusCreated, core.APIResponse{
		Data: RuleResponse{RuleSpec: spec, Source: ruleSourceCustom},
		Meta: &types.ResponseMeta{Warnings: []string{catalogReloadWarning}},
	})
}

// Delete handles DELETE /v1/rules/{id}. Only operator-authored rules can
// be removed; the builtin set ships with the binary.
func (h *RuleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthKeyMissing, "Authentication required", nil))
		return
	}

	id := chi.URLParam(r, "id")
	if h.builtinIDs[id] {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeConflictRuleID,
			fmt.Sprintf("rule %q is builtin and cannot be deleted", id), nil))
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "custom rule deleted",
		"rule_id", id,
		"actor_id", actor.ID,
	)

	w.WriteHeader(http.StatusNoContent)
}

func (h *RuleHandler) sourceOf(id string) string {
	if h.builtinIDs[id] {
		return ruleSourceBuiltin
	}
	return ruleSourceCustom
}

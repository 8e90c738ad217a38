// Package handlers contains the HTTP handler implementations for the
// turfwatch API. Each handler declares the narrow service interfaces it
// needs, decodes and validates its request DTOs, and writes responses
// through the core envelope helpers. Persistence wiring happens in cmd/api.
package handlers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"turfwatch/internal/core"
	"turfwatch/internal/types"
)

// APIKeyStore defines the data access contract for API key operations.
// Declared locally so the handler stays decoupled from the db package and
// tests can substitute mocks.
type APIKeyStore interface {
	Create(ctx context.Context, key *types.APIKey) error
	List(ctx context.Context, params APIKeyListParams) ([]*types.APIKey, error)
	Revoke(ctx context.Context, id string) error
}

// APIKeyListParams mirrors the db-layer list parameters so the handler
// does not import the db package directly.
type APIKeyListParams struct {
	ActiveOnly bool
	Limit      int
	Cursor     string
}

// CreateAPIKeyRequest is the request body for POST /v1/api-keys.
type CreateAPIKeyRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

// APIKeyResponse is the safe representation for list responses. It never
// carries the secret, only the visible prefix.
type APIKeyResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// APIKeySecretResponse is returned once, at creation time. The plaintext
// key is never stored and cannot be retrieved again.
type APIKeySecretResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

const (
	// apiKeySecretLength is the number of random bytes behind each key.
	apiKeySecretLength = 32

	// apiKeyPrefixLength is how many characters of the encoded secret are
	// kept as the visible prefix used for lookup and display.
	apiKeyPrefixLength = 8

	// apiKeyBcryptCost is the bcrypt cost factor for stored key hashes.
	apiKeyBcryptCost = 12

	// apiKeyTag marks every issued key so leaked strings are recognizable.
	apiKeyTag = "tw_"
)

// APIKeyHandler manages programmatic access credentials.
type APIKeyHandler struct {
	store     APIKeyStore
	validator *core.Validator
	logger    *slog.Logger
}

// NewAPIKeyHandler creates an APIKeyHandler with the provided dependencies.
func NewAPIKeyHandler(store APIKeyStore, v *core.Validator, l *slog.Logger) *APIKeyHandler {
	if l == nil {
		l = slog.Default()
	}
	return &APIKeyHandler{
		store:     store,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts API key routes onto the provided router.
func (h *APIKeyHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api-keys", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Delete("/{id}", h.Revoke)
	})
}

// List handles GET /v1/api-keys. Secrets are never included; callers see
// the prefix and lifecycle timestamps only.
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	params := APIKeyListParams{Limit: defaultListLimit}

	limit, err := parseLimitParam(r, defaultListLimit, maxListLimit)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	params.Limit = limit
	params.Cursor = r.URL.Query().Get("cursor")
	params.ActiveOnly = r.URL.Query().Get("active") == "true"

	keys, err := h.store.List(r.Context(), params)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	keys, pageInfo := types.TrimPage(keys, params.Limit, func(k *types.APIKey) string {
		return k.CreatedAt.Format(time.RFC3339Nano)
	})

	data := make([]APIKeyResponse, 0, len(keys))
	for _, k := range keys {
		data = append(data, toAPIKeyResponse(k))
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: data,
		Meta: &types.ResponseMeta{Pagination: &pageInfo},
	})
}

// Create handles POST /v1/api-keys. The secret is generated server-side,
// stored only as a bcrypt hash, and returned in plaintext exactly once.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthKeyMissing, "Authentication required", nil))
		return
	}

	var req CreateAPIKeyRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	plaintext, prefix, hash, err := generateAPIKeySecret()
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to generate API key secret",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeInternalUnexpected, "failed to generate API key", err))
		return
	}

	key := &types.APIKey{
		ID:        "key_" + uuid.New().String(),
		Name:      req.Name,
		Prefix:    prefix,
		KeyHash:   hash,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.store.Create(r.Context(), key); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "api key issued",
		"key_id", key.ID,
		"prefix", prefix,
		"issued_by", actor.ID,
	)

	resp := APIKeySecretResponse{
		APIKeyResponse: toAPIKeyResponse(key),
		Key:            plaintext,
	}
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: resp})
}

// Revoke handles DELETE /v1/api-keys/{id}. Revocation is a soft delete:
// the row keeps its revoked_at timestamp so the prefix stays reserved and
// later presentations of the key map to a distinct error.
func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthKeyMissing, "Authentication required", nil))
		return
	}

	keyID := chi.URLParam(r, "id")
	if keyID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField, "API key ID is required", nil))
		return
	}

	if err := h.store.Revoke(r.Context(), keyID); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "api key revoked",
		"key_id", keyID,
		"revoked_by", actor.ID,
	)

	w.WriteHeader(http.StatusNoContent)
}

// generateAPIKeySecret generates a key of the form tw_<43 base64 chars>.
// Returns the plaintext, the visible prefix, and the bcrypt hash. The
// plaintext (46 bytes) stays well under bcrypt's 72-byte input limit.
func generateAPIKeySecret() (plaintext, prefix, hash string, err error) {
	randomBytes := make([]byte, apiKeySecretLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("crypto/rand read failed: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(randomBytes)
	plaintext = apiKeyTag + encoded

	prefixLen := apiKeyPrefixLength
	if len(encoded) < prefixLen {
		prefixLen = len(encoded)
	}
	prefix = apiKeyTag + encoded[:prefixLen]

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(plaintext), apiKeyBcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("bcrypt hash failed: %w", err)
	}
	return plaintext, prefix, string(hashBytes), nil
}

// toAPIKeyResponse converts a types.APIKey to its safe response shape.
// The key hash is deliberately omitted.
func toAPIKeyResponse(k *types.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:         k.ID,
		Name:       k.Name,
		Prefix:     k.Prefix,
		LastUsedAt: k.LastUsedAt,
		RevokedAt:  k.RevokedAt,
		CreatedAt:  k.CreatedAt,
	}
}

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
	"golang.org/x/crypto/bcrypt"

	"turfwatch/internal/core"
	"turfwatch/internal/types"
)

// =============================================================================
// Mocks
// =============================================================================

// mockAPIKeyStore implements APIKeyStore for testing.
type mockAPIKeyStore struct {
	createFn func(ctx context.Context, key *types.APIKey) error
	listFn   func(ctx context.Context, params APIKeyListParams) ([]*types.APIKey, error)
	revokeFn func(ctx context.Context, id string) error

	capturedKey    *types.APIKey
	capturedParams APIKeyListParams
	revokedID      string
}

func (m *mockAPIKeyStore) Create(ctx context.Context, key *types.APIKey) error {
	m.capturedKey = key
	if m.createFn != nil {
		return m.createFn(ctx, key)
	}
	return nil
}

func (m *mockAPIKeyStore) List(ctx context.Context, params APIKeyListParams) ([]*types.APIKey, error) {
	m.capturedParams = params
	if m.listFn != nil {
		return m.listFn(ctx, params)
	}
	return nil, nil
}

func (m *mockAPIKeyStore) Revoke(ctx context.Context, id string) error {
	m.revokedID = id
	if m.revokeFn != nil {
		return m.revokeFn(ctx, id)
	}
	return nil
}

func newTestAPIKeyHandler() (*APIKeyHandler, *mockAPIKeyStore) {
	store := &mockAPIKeyStore{}
	handler := NewAPIKeyHandler(store, core.NewValidator(testLogger()), testLogger())
	return handler, store
}

func apiKeyRouter(h *APIKeyHandler) chi.Router {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// =============================================================================
// Create Tests
// =============================================================================

func TestAPIKeyHandler_Create_Success(t *testing.T) {
	handler, store := newTestAPIKeyHandler()

	body := jsonBody(t, CreateAPIKeyRequest{Name: "station-poller"})
	req := httptest.NewRequest(http.MethodPost, "/api-keys", body)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	apiKeyRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)

	var resp struct {
		Data APIKeySecretResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	// The plaintext comes back exactly once.
	assert.True(t, strings.HasPrefix(resp.Data.Key, "tw_"))
	assert.Len(t, resp.Data.Key, len("tw_")+43, "32 random bytes base64url-encode to 43 chars")

	// Prefix is the visible head of the key.
	assert.True(t, strings.HasPrefix(resp.Data.Key, resp.Data.Prefix))
	assert.Len(t, resp.Data.Prefix, len("tw_")+8)
	assert.True(t, strings.HasPrefix(resp.Data.ID, "key_"))
	assert.Equal(t, "station-poller", resp.Data.Name)

	// Stored record carries the hash, never the plaintext.
	require.NotNil(t, store.capturedKey)
	assert.True(t, strings.HasPrefix(store.capturedKey.KeyHash, "$2a$"))
	assert.NoError(t, bcrypt.CompareHashAndPassword(
		[]byte(store.capturedKey.KeyHash), []byte(resp.Data.Key)),
		"stored hash must verify against the returned plaintext")
}

func TestAPIKeyHandler_Create_PlaintextNeverStored(t *testing.T) {
	handler, store := newTestAPIKeyHandler()
	store.createFn = func(ctx context.Context, key *types.APIKey) error {
		assert.False(t, strings.HasPrefix(key.KeyHash, "tw_"),
			"KeyHash must not be the plaintext")
		assert.True(t, strings.HasPrefix(key.KeyHash, "$2a$"),
			"KeyHash must be a bcrypt hash")
		return nil
	}

	body := jsonBody(t, CreateAPIKeyRequest{Name: "security-check"})
	req := httptest.NewRequest(http.MethodPost, "/api-keys", body)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	apiKeyRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestAPIKeyHandler_Create_UniqueSecrets(t *testing.T) {
	handler, _ := newTestAPIKeyHandler()

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		body := jsonBody(t, CreateAPIKeyRequest{Name: "poller"})
		req := httptest.NewRequest(http.MethodPost, "/api-keys", body)
		req = req.WithContext(testActorCtx())
		rr := httptest.NewRecorder()

		apiKeyRouter(handler).ServeHTTP(rr, req)
		require.Equal(t, http.StatusCreated, rr.Code)

		var resp struct {
			Data APIKeySecretResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.False(t, seen[resp.Data.Key], "secrets must never repeat")
		seen[resp.Data.Key] = true
	}
}

func TestAPIKeyHandler_Create_MissingName(t *testing.T) {
	handler, store := newTestAPIKeyHandler()

	body := jsonBody(t, CreateAPIKeyRequest{})
	req := httptest.NewRequest(http.MethodPost, "/api-keys", body)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	apiKeyRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(types.ErrCodeValidationMissingField), decodeErrorCode(t, rr.Body))
	assert.Nil(t, store.capturedKey)
}

func TestAPIKeyHandler_Create_NoActor(t *testing.T) {
	handler, _ := newTestAPIKeyHandler()

	body := jsonBody(t, CreateAPIKeyRequest{Name: "orphan"})
	req := httptest.NewRequest(http.MethodPost, "/api-keys", body)
	rr := httptest.NewRecorder()

	apiKeyRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

// =============================================================================
// List Tests
// =============================================================================

func TestAPIKeyHandler_List_MasksSecrets(t *testing.T) {
	handler, store := newTestAPIKeyHandler()

	lastUsed := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	store.listFn = func(ctx context.Context, params APIKeyListParams) ([]*types.APIKey, error) {
		return []*types.APIKey{
			{
				ID:         "key_1",
				Name:       "station-poller",
				Prefix:     "tw_abc12345",
				KeyHash:    "$2a$12$secretsecretsecretsecret",
				LastUsedAt: &lastUsed,
				CreatedAt:  time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
			},
		}, nil
	}

	req := httptest.NewRequest(http.MethodGet, "/api-keys", nil)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	apiKeyRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "$2a$", "hash must never leave the server")
	assert.Contains(t, rr.Body.String(), "tw_abc12345")
	assert.Contains(t, rr.Body.String(), "last_used_at")
}

func TestAPIKeyHandler_List_Pagination(t *testing.T) {
	handler, store := newTestAPIKeyHandler()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store.listFn = func(ctx context.Context, params APIKeyListParams) ([]*types.APIKey, error) {
		keys := make([]*types.APIKey, params.Limit+1)
		for i := range keys {
			keys[i] = &types.APIKey{
				ID:        "key_" + string(rune('a'+i)),
				Name:      "poller",
				Prefix:    "tw_xxxxxxxx",
				CreatedAt: base.Add(time.Duration(i) * time.Hour),
			}
		}
		return keys, nil
	}

	req := httptest.NewRequest(http.MethodGet, "/api-keys?limit=2", nil)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	apiKeyRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data []APIKeyResponse   `json:"data"`
		Meta types.ResponseMeta `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
	require.NotNil(t, resp.Meta.Pagination)
	assert.True(t, resp.Meta.Pagination.HasMore)
	assert.Equal(t,
		resp.Data[1].CreatedAt.Format(time.RFC3339Nano),
		resp.Meta.Pagination.NextCursor,
	)
}

func TestAPIKeyHandler_List_ActiveFilter(t *testing.T) {
	handler, store := newTestAPIKeyHandler()

	req := httptest.NewRequest(http.MethodGet, "/api-keys?active=true", nil)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	apiKeyRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, store.capturedParams.ActiveOnly)
}

// =============================================================================
// Revoke Tests
// =============================================================================

func TestAPIKeyHandler_Revoke_Success(t *testing.T) {
	handler, store := newTestAPIKeyHandler()

	req := httptest.NewRequest(http.MethodDelete, "/api-keys/key_42", nil)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	apiKeyRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "key_42", store.revokedID)
}

func TestAPIKeyHandler_Revoke_NotFound(t *testing.T) {
	handler, store := newTestAPIKeyHandler()
	store.revokeFn = func(ctx context.Context, id string) error {
		return types.NewAppError(types.ErrCodeNotFoundAPIKey, "API key not found", nil)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api-keys/key_missing", nil)
	req = req.WithContext(testActorCtx())
	rr := httptest.NewRecorder()

	apiKeyRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAPIKeyHandler_Revoke_NoActor(t *testing.T) {
	handler, store := newTestAPIKeyHandler()

	req := httptest.NewRequest(http.MethodDelete, "/api-keys/key_42", nil)
	rr := httptest.NewRecorder()

	apiKeyRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, store.revokedID)
}

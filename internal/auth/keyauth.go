// Package auth implements API key authentication for the turfwatch API.
//
// Every request presents a bearer key. The configured admin key is checked
// first with a constant-time comparison; all other keys are verified against
// bcrypt hashes stored in the database, located via their display prefix.
package auth

import (
	"context"
	"crypto/subtle"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"turfwatch/internal/types"
)

// keyLookupPrefixLen is the length of the stored lookup prefix: the "tw_"
// tag plus the first eight characters of the encoded secret. Issued keys
// always carry this head, so the first eleven characters of a presented
// key select the candidate rows.
const keyLookupPrefixLen = 11

// adminActorID identifies requests authenticated with the configured
// admin key rather than a database-backed key.
const adminActorID = "admin"

// KeyRepo defines the data access methods needed by the KeyAuthenticator.
type KeyRepo interface {
	// GetByPrefix returns every key sharing a display prefix, revoked
	// rows included.
	GetByPrefix(ctx context.Context, prefix string) ([]*types.APIKey, error)
	// TouchLastUsed records that a key authenticated a request.
	TouchLastUsed(ctx context.Context, id string) error
}

// KeyAuthenticator resolves presented API keys to Actors. It implements
// the core.Authenticator interface consumed by the HTTP auth middleware.
type KeyAuthenticator struct {
	repo     KeyRepo
	adminKey types.SecretString
	logger   *slog.Logger
}

// NewKeyAuthenticator creates a KeyAuthenticator. The admin key comes from
// configuration and bootstraps key management before any database-backed
// key exists; pass an empty SecretString to disable it.
// If logger is nil, slog.Default() is used.
func NewKeyAuthenticator(repo KeyRepo, adminKey types.SecretString, logger *slog.Logger) *KeyAuthenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyAuthenticator{
		repo:     repo,
		adminKey: adminKey,
		logger:   logger,
	}
}

// ResolveKey resolves a presented API key to the Actor it represents.
//
// The admin key is compared first, in constant time and without a database
// round trip. Other keys are looked up by their display prefix and the
// presented secret is verified against each candidate's bcrypt hash. The
// prefix is not unique, so every candidate is tried before giving up.
//
// A key that matches a revoked record returns ErrCodeAuthKeyRevoked so the
// caller knows to issue a replacement. Everything else that fails to match
// returns ErrCodeAuthKeyInvalid.
func (a *KeyAuthenticator) ResolveKey(ctx context.Context, key string) (*types.Actor, error) {
	if key == "" {
		return nil, types.NewAppError(types.ErrCodeAuthKeyInvalid, "empty API key", nil)
	}

	if admin := a.adminKey.Unmask(); admin != "" &&
		subtle.ConstantTimeCompare([]byte(key), []byte(admin)) == 1 {
		return &types.Actor{ID: adminActorID, Name: adminActorID, Type: types.ActorTypeAPIKey}, nil
	}

	if len(key) < keyLookupPrefixLen {
		return nil, types.NewAppError(types.ErrCodeAuthKeyInvalid, "malformed API key", nil)
	}

	candidates, err := a.repo.GetByPrefix(ctx, key[:keyLookupPrefixLen])
	if err != nil {
		return nil, err
	}

	for _, candidate := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(candidate.KeyHash), []byte(key)) != nil {
			continue
		}

		if candidate.Revoked() {
			return nil, types.NewAppError(types.ErrCodeAuthKeyRevoked, "API key has been revoked", nil)
		}

		// Usage bookkeeping never fails authentication.
		if touchErr := a.repo.TouchLastUsed(ctx, candidate.ID); touchErr != nil {
			a.logger.Warn("failed to record API key use",
				"key_id", candidate.ID,
				"error", touchErr,
			)
		}

		return &types.Actor{
			ID:   candidate.ID,
			Name: candidate.Name,
			Type: types.ActorTypeAPIKey,
		}, nil
	}

	return nil, types.NewAppError(types.ErrCodeAuthKeyInvalid, "unknown API key", nil)
}

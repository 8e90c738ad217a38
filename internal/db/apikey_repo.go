package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"turfwatch/internal/types"
)

// APIKeyRepository is the data access layer for api_keys. Rows hold bcrypt
// hashes only; the plaintext secret exists nowhere below the handler that
// minted it.
type APIKeyRepository struct {
	db DBTX
}

// NewAPIKeyRepository builds a repository over a pool or transaction.
func NewAPIKeyRepository(db DBTX) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// apiKeyColumns is the select list every read shares. key_hash stays
// internal; response builders must never copy it out.
const apiKeyColumns = `id, name, prefix, key_hash, created_at, last_used_at, revoked_at`

// defaultKeyPageSize bounds List when the caller passes no limit.
const defaultKeyPageSize = 20

// ListAPIKeysParams filters and pages the List operation.
type ListAPIKeysParams struct {
	ActiveOnly bool
	Limit      int
	Cursor     string
}

// Create inserts a key record. key.KeyHash must already be the bcrypt hash
// of the secret.
func (r *APIKeyRepository) Create(ctx context.Context, key *types.APIKey) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO api_keys (id, name, prefix, key_hash, created_at)
		 VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))`,
		key.ID,
		key.Name,
		key.Prefix,
		key.KeyHash,
		nilIfZeroTime(key.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create API key", err)
	}
	return nil
}

// List pages keys newest-first. It fetches limit+1 rows so the handler can
// detect a further page from the extra row before trimming it.
func (r *APIKeyRepository) List(ctx context.Context, params ListAPIKeysParams) ([]*types.APIKey, error) {
	var (
		where []string
		args  []any
	)

	if params.ActiveOnly {
		where = append(where, "revoked_at IS NULL")
	}
	if params.Cursor != "" {
		cursorTime, err := time.Parse(time.RFC3339Nano, params.Cursor)
		if err != nil {
			return nil, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"invalid cursor format; expected RFC3339 timestamp",
				err,
			)
		}
		args = append(args, cursorTime)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}

	query := "SELECT " + apiKeyColumns + " FROM api_keys"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultKeyPageSize
	}
	args = append(args, limit+1)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	return collectAPIKeys(rows, err)
}

// GetByPrefix returns every key sharing a display prefix, revoked rows
// included. Prefixes are not unique, so authentication checks the presented
// secret against each candidate's hash; keeping revoked rows in the answer
// lets it tell a revoked key apart from an unknown one.
func (r *APIKeyRepository) GetByPrefix(ctx context.Context, prefix string) ([]*types.APIKey, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+apiKeyColumns+" FROM api_keys WHERE prefix = $1",
		prefix,
	)
	return collectAPIKeys(rows, err)
}

// Revoke soft-revokes a key by stamping revoked_at. A key that does not
// exist or was already revoked reports ErrCodeNotFoundAPIKey.
func (r *APIKeyRepository) Revoke(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE api_keys SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to revoke API key", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAPIKey, "API key not found or already revoked", nil)
	}
	return nil
}

// TouchLastUsed stamps last_used_at. Callers treat failures as advisory and
// only log them.
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update API key last_used_at", err)
	}
	return nil
}

// DeleteRevokedBefore hard-deletes keys revoked before the cutoff and
// reports the row count. Recently revoked keys are kept so GetByPrefix can
// still answer "revoked" instead of "unknown".
func (r *APIKeyRepository) DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM api_keys WHERE revoked_at IS NOT NULL AND revoked_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete revoked API keys", err)
	}
	return int(tag.RowsAffected()), nil
}

// collectAPIKeys drains a query result into key records. Scan order must
// match apiKeyColumns. Accepting the (rows, err) pair lets callers forward
// Query results directly.
func collectAPIKeys(rows pgx.Rows, queryErr error) ([]*types.APIKey, error) {
	if queryErr != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query API keys", queryErr)
	}
	defer rows.Close()

	var keys []*types.APIKey
	for rows.Next() {
		var k types.APIKey
		err := rows.Scan(&k.ID, &k.Name, &k.Prefix, &k.KeyHash, &k.CreatedAt, &k.LastUsedAt, &k.RevokedAt)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan API key row", err)
		}
		keys = append(keys, &k)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating API key rows", err)
	}
	return keys, nil
}

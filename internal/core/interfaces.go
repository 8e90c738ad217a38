package core

import (
	"context"

	"turfwatch/internal/types"
)

// Authenticator is the server's seam to API key verification. The HTTP
// layer sees only this interface, so middleware tests swap in a mock and
// the real implementation (internal/auth) stays free of HTTP concerns.
type Authenticator interface {
	// ResolveKey maps a presented API key to its Actor. The admin key from
	// configuration short-circuits in constant time; every other key is
	// matched by display prefix and verified against stored bcrypt hashes,
	// with last-used bookkeeping on success. Failures carry
	// ErrCodeAuthKeyInvalid for malformed and unknown keys and
	// ErrCodeAuthKeyRevoked when the key matched a revoked record.
	ResolveKey(ctx context.Context, key string) (*types.Actor, error)
}

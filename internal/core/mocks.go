package core

import (
	"context"
	"sync"

	"turfwatch/internal/types"
)

// MockAuthenticator is a test double for the Authenticator interface.
// Resolution precedence per call: ResolveKeyFunc when set, then Err, then
// Actor. The zero value resolves every key to (nil, nil), which the auth
// middleware treats as an invalid key.
type MockAuthenticator struct {
	// Actor is handed back for every key when no Err or func is set.
	Actor *types.Actor

	// Err, when set, fails every resolution.
	Err error

	// ResolveKeyFunc overrides Actor and Err for per-key behavior.
	ResolveKeyFunc func(ctx context.Context, key string) (*types.Actor, error)

	mu sync.Mutex
	// Calls records every key presented, in order.
	Calls []string
}

var _ Authenticator = (*MockAuthenticator)(nil)

func (m *MockAuthenticator) ResolveKey(ctx context.Context, key string) (*types.Actor, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, key)
	m.mu.Unlock()

	switch {
	case m.ResolveKeyFunc != nil:
		return m.ResolveKeyFunc(ctx, key)
	case m.Err != nil:
		return nil, m.Err
	default:
		return m.Actor, nil
	}
}

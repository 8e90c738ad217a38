package config

import "context"

// SecretProvider resolves secret values referenced from the environment.
// Deployments pick the implementation: AWS SSM Parameter Store for the
// hosted API and the scheduled Lambda binaries, plain environment variables
// for local development and tests.
type SecretProvider interface {
	// GetParametersBatch resolves the given parameter identifiers and
	// returns identifier -> plaintext value for every one it found.
	// Implementations own their batching and throttling behavior; callers
	// hand over the full key set in a single call.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}

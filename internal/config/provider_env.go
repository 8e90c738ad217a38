package config

import (
	"context"
	"os"
)

// EnvVarProvider answers secret lookups from the process environment. It
// stands in for Parameter Store during local development and tests, where
// a .env file supplies the values.
type EnvVarProvider struct{}

var _ SecretProvider = (*EnvVarProvider)(nil)

// NewEnvVarProvider creates an EnvVarProvider.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{}
}

// GetParametersBatch resolves each key with os.LookupEnv. Absent keys are
// left out of the result rather than failing the batch; the loader decides
// whether a gap is fatal.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	found := make(map[string]string, len(keys))
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			found[key] = value
		}
	}
	return found, nil
}

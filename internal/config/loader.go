// loader.go assembles the runtime configuration: pin the process to UTC,
// overlay a .env file, resolve Parameter Store pointers, then let envconfig
// populate Config and validator check it. Values already in the OS
// environment always win; .env fills gaps; SSM fills what remains.
package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError tags a loading failure with the stage that produced it so
// startup logs can say whether parsing, validation, or SSM was at fault.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix marks pointer variables. DATABASE_URL_SSM_PARAM names the
// SSM path whose value becomes DATABASE_URL.
const ssmParamSuffix = "_SSM_PARAM"

// localEnv is the APP_ENV value that bypasses SSM resolution entirely.
const localEnv = "local"

// environment is the loader's seam to the process environment. Tests swap
// in an in-memory map so SSM scanning never mutates real process state.
type environment struct {
	lookup func(key string) (string, bool)
	set    func(key, value string) error
	list   func() []string
}

func processEnvironment() environment {
	return environment{lookup: os.LookupEnv, set: os.Setenv, list: os.Environ}
}

// LoadConfig builds and validates the full Config. provider resolves SSM
// pointer variables; it may be nil for local development, where resolution
// is skipped, but must be set in any deployed environment that carries
// _SSM_PARAM bindings.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfig(provider, processEnvironment())
}

func loadConfig(provider SecretProvider, env environment) (*Config, error) {
	// Evaluation windows and season boundaries are all UTC; a stray TZ
	// var must not shift them.
	time.Local = time.UTC

	// godotenv never overrides variables that are already set.
	_ = godotenv.Load()

	if appEnv, _ := env.lookup("APP_ENV"); appEnv != localEnv {
		if err := resolveSSMParams(provider, env); err != nil {
			return nil, err
		}
	}

	// The empty prefix makes envconfig tags name env vars directly.
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	return &cfg, nil
}

// ResolveSecrets runs SSM resolution alone, without building a Config.
// Lambda entry points that read env vars directly call this first so every
// later os.Getenv sees resolved values. A no-op for local environments.
func ResolveSecrets(provider SecretProvider) error {
	if appEnv, _ := os.LookupEnv("APP_ENV"); appEnv == localEnv {
		return nil
	}
	return resolveSSMParams(provider, processEnvironment())
}

// resolveSSMParams fetches every bound SSM parameter in one batch and
// injects the values into the environment for envconfig to pick up.
func resolveSSMParams(provider SecretProvider, env environment) error {
	bindings := ssmBindings(env)
	if len(bindings) == 0 {
		return nil
	}

	if provider == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SecretProvider is required for non-local environments (need to resolve: %s)", strings.Join(sortedTargets(bindings), ", ")),
		}
	}

	paths := make([]string, 0, len(bindings))
	for path := range bindings {
		paths = append(paths, path)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for path, target := range bindings {
		value, ok := resolved[path]
		if !ok {
			missing = append(missing, target)
			continue
		}
		if err := env.set(target, value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", target),
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SSM parameters not found for: %s", strings.Join(missing, ", ")),
		}
	}

	return nil
}

// ssmBindings scans for pointer variables and returns SSM path to target
// var for every target that is not already set. Set targets keep their
// value, which preserves the OS-then-dotenv-then-SSM priority chain.
func ssmBindings(env environment) map[string]string {
	bindings := map[string]string{}
	for _, entry := range env.list() {
		key, path, ok := strings.Cut(entry, "=")
		if !ok || path == "" || !strings.HasSuffix(key, ssmParamSuffix) {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, set := env.lookup(target); set {
			continue
		}
		bindings[path] = target
	}
	return bindings
}

func sortedTargets(bindings map[string]string) []string {
	targets := make([]string, 0, len(bindings))
	for _, target := range bindings {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	return targets
}

// Package config defines the runtime configuration for the TurfWatch
// service. Every binary loads it once at startup (cold start for the
// Lambda workers, main() for the API server) and treats it as immutable
// from then on.
//
// A value set directly in the OS environment always wins; a .env file
// fills what the environment leaves unset, and SSM Parameter Store fills
// what remains. Any missing required value or invalid format fails startup
// immediately.
package config

import (
	"time"

	"turfwatch/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values (database URLs, provider API keys).
type SecretString = types.SecretString

// Config is the top-level configuration for the TurfWatch service.
// Components receive only the sub-struct they need, never the whole thing.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"turfwatch"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Providers     ProvidersConfig
	Engine        EngineConfig
	Ingest        IngestConfig
	Archive       ArchiveConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build is filled by NewBuildInfo, not the environment.
	Build BuildInfo
}

// ServerConfig holds HTTP server tuning.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig carries the connection string and pgx pool tuning.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig names the AWS resources the service talks to. Queue URLs are
// optional: an unset queue disables the corresponding publisher, which is
// how local single-process deployments run without SQS.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	EvalQueueURL           string `envconfig:"SQS_EVALUATIONS" validate:"omitempty,url"`
	RecommendationQueueURL string `envconfig:"SQS_RECOMMENDATIONS" validate:"omitempty,url"`

	// EndpointURL points every AWS client at LocalStack when set. Leave it
	// empty in deployed environments.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ProvidersConfig holds the upstream data-provider endpoints and credentials.
// The forecast provider is a 5-day/3-hour JSON forecast API; the station
// provider serves the hourly soil/climate text product.
type ProvidersConfig struct {
	ForecastAPIKey  SecretString  `envconfig:"FORECAST_API_KEY"`
	ForecastBaseURL string        `envconfig:"FORECAST_BASE_URL" default:"https://api.openweathermap.org/data/2.5"`
	StationBaseURL  string        `envconfig:"STATION_BASE_URL" default:"https://www.ncei.noaa.gov/pub/data/uscrn/products/hourly02"`
	RequestTimeout  time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"15s"`
}

// EngineConfig holds evaluation pass tunables.
type EngineConfig struct {
	ClockSkewBound time.Duration `envconfig:"ENGINE_CLOCK_SKEW_BOUND" default:"1h"`
	HistoryHorizon time.Duration `envconfig:"ENGINE_HISTORY_HORIZON" default:"17520h"`
	// RulesFile optionally points at a JSON rule document merged after the
	// builtin catalog at startup. Changes require a restart.
	RulesFile string `envconfig:"RULES_FILE"`
}

// IngestConfig holds data-poller tuning.
type IngestConfig struct {
	PollInterval time.Duration `envconfig:"INGEST_POLL_INTERVAL" default:"1h"`
	Concurrency  int           `envconfig:"INGEST_CONCURRENCY" default:"4"`
	// Forecast-derived readings look this far ahead when reducing the
	// provider's forecast list to point-in-time values.
	ForecastTempHorizon time.Duration `envconfig:"INGEST_FORECAST_TEMP_HORIZON" default:"72h"`
	ForecastRainHorizon time.Duration `envconfig:"INGEST_FORECAST_RAIN_HORIZON" default:"48h"`
}

// ArchiveConfig holds readings-archive and retention maintenance settings.
type ArchiveConfig struct {
	Dir                  string `envconfig:"ARCHIVE_DIR" default:"/var/lib/turfwatch/archive"`
	RetentionDays        int    `envconfig:"ARCHIVE_RETENTION_DAYS" default:"90"`
	RecommendationDays   int    `envconfig:"RECOMMENDATION_RETENTION_DAYS" default:"30"`
	JobHistoryRetainDays int    `envconfig:"JOB_HISTORY_RETENTION_DAYS" default:"14"`
	RevokedKeyDays       int    `envconfig:"REVOKED_KEY_RETENTION_DAYS" default:"30"`
}

// SecurityConfig holds admin access and CORS settings. The admin key
// bootstraps API-key management before any database-backed key exists.
type SecurityConfig struct {
	AdminAPIKey        SecretString `envconfig:"ADMIN_API_KEY" validate:"required"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"TurfWatch"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo is the version metadata NewBuildInfo reports for this binary.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType names the loading stage a ConfigError came from.
type ConfigErrorType string

const (
	// ErrSSMResolution: fetching or injecting SSM-bound secrets failed.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation: the assembled Config failed struct validation.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing: an environment value would not parse into its field.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)

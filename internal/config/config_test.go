package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"turfwatch/internal/types"
)

// setMinimalEnv sets the required environment variables for a valid Config.
// t.Setenv restores prior values automatically.
func setMinimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "local")
	t.Setenv("DATABASE_URL", "postgres://turfwatch:pw@localhost:5432/turfwatch_test")
	t.Setenv("ADMIN_API_KEY", "twadm-0f1e2d3c4b5a6978")
}

// TestSecretStringAlias verifies that config.SecretString is the same type
// as types.SecretString and retains its redaction behavior.
func TestSecretStringAlias(t *testing.T) {
	secret := SecretString("owm-live-key")

	if got := secret.String(); got != "***REDACTED***" {
		t.Errorf("String() = %q, want redaction", got)
	}
	if got := fmt.Sprintf("%v", secret); got != "***REDACTED***" {
		t.Errorf("fmt.Sprintf(%%v) = %q, want redaction", got)
	}
	if got := secret.Unmask(); got != "owm-live-key" {
		t.Errorf("Unmask() = %q", got)
	}

	var typesSecret types.SecretString = "x"
	var configSecret SecretString = typesSecret
	if configSecret != typesSecret {
		t.Error("config.SecretString and types.SecretString should be the same type")
	}
}

func TestDefaults(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Service != "turfwatch" {
		t.Errorf("Service = %q", cfg.Service)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %q", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout != 30*time.Second {
		t.Errorf("Server.RequestTimeout = %v", cfg.Server.RequestTimeout)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v", cfg.Server.ShutdownTimeout)
	}

	if cfg.Database.MaxConns != 10 || cfg.Database.MinConns != 2 {
		t.Errorf("pool defaults = %d/%d", cfg.Database.MaxConns, cfg.Database.MinConns)
	}
	if cfg.Database.MaxConnLifetime != 30*time.Minute {
		t.Errorf("MaxConnLifetime = %v", cfg.Database.MaxConnLifetime)
	}
	if cfg.Database.AcquireTimeout != 2*time.Second {
		t.Errorf("AcquireTimeout = %v", cfg.Database.AcquireTimeout)
	}

	if cfg.AWS.Region != "us-east-1" {
		t.Errorf("AWS.Region = %q", cfg.AWS.Region)
	}
	if cfg.AWS.EvalQueueURL != "" || cfg.AWS.RecommendationQueueURL != "" {
		t.Error("queue URLs should default to unset")
	}

	if !strings.Contains(cfg.Providers.ForecastBaseURL, "openweathermap.org") {
		t.Errorf("ForecastBaseURL = %q", cfg.Providers.ForecastBaseURL)
	}
	if !strings.Contains(cfg.Providers.StationBaseURL, "uscrn") {
		t.Errorf("StationBaseURL = %q", cfg.Providers.StationBaseURL)
	}
	if cfg.Providers.RequestTimeout != 15*time.Second {
		t.Errorf("Providers.RequestTimeout = %v", cfg.Providers.RequestTimeout)
	}

	if cfg.Engine.ClockSkewBound != time.Hour {
		t.Errorf("ClockSkewBound = %v", cfg.Engine.ClockSkewBound)
	}
	if cfg.Engine.HistoryHorizon != 17520*time.Hour {
		t.Errorf("HistoryHorizon = %v", cfg.Engine.HistoryHorizon)
	}
	if cfg.Engine.RulesFile != "" {
		t.Errorf("RulesFile = %q, want empty", cfg.Engine.RulesFile)
	}

	if cfg.Ingest.PollInterval != time.Hour || cfg.Ingest.Concurrency != 4 {
		t.Errorf("ingest defaults = %v/%d", cfg.Ingest.PollInterval, cfg.Ingest.Concurrency)
	}
	if cfg.Ingest.ForecastTempHorizon != 72*time.Hour {
		t.Errorf("ForecastTempHorizon = %v", cfg.Ingest.ForecastTempHorizon)
	}
	if cfg.Ingest.ForecastRainHorizon != 48*time.Hour {
		t.Errorf("ForecastRainHorizon = %v", cfg.Ingest.ForecastRainHorizon)
	}

	if cfg.Archive.RetentionDays != 90 || cfg.Archive.RecommendationDays != 30 {
		t.Errorf("archive retention = %d/%d", cfg.Archive.RetentionDays, cfg.Archive.RecommendationDays)
	}
	if cfg.Archive.Dir == "" {
		t.Error("Archive.Dir should have a default")
	}

	if got := cfg.Security.CorsAllowedOrigins; len(got) != 1 || got[0] != "*" {
		t.Errorf("CorsAllowedOrigins = %v", got)
	}

	if cfg.Observability.MetricNamespace != "TurfWatch" {
		t.Errorf("MetricNamespace = %q", cfg.Observability.MetricNamespace)
	}
	if !cfg.Observability.EnableMetrics {
		t.Error("EnableMetrics should default to true")
	}
}

func TestEnvOverrides(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("SQS_EVALUATIONS", "https://sqs.us-east-1.amazonaws.com/123/turfwatch-evaluations")
	t.Setenv("SQS_RECOMMENDATIONS", "https://sqs.us-east-1.amazonaws.com/123/turfwatch-recommendations")
	t.Setenv("INGEST_POLL_INTERVAL", "15m")
	t.Setenv("INGEST_CONCURRENCY", "8")
	t.Setenv("ENGINE_CLOCK_SKEW_BOUND", "2h")
	t.Setenv("RULES_FILE", "/etc/turfwatch/rules.json")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com,https://staging.example.com")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.AWS.EvalQueueURL != "https://sqs.us-east-1.amazonaws.com/123/turfwatch-evaluations" {
		t.Errorf("EvalQueueURL = %q", cfg.AWS.EvalQueueURL)
	}
	if cfg.Ingest.PollInterval != 15*time.Minute {
		t.Errorf("PollInterval = %v", cfg.Ingest.PollInterval)
	}
	if cfg.Ingest.Concurrency != 8 {
		t.Errorf("Concurrency = %d", cfg.Ingest.Concurrency)
	}
	if cfg.Engine.ClockSkewBound != 2*time.Hour {
		t.Errorf("ClockSkewBound = %v", cfg.Engine.ClockSkewBound)
	}
	if cfg.Engine.RulesFile != "/etc/turfwatch/rules.json" {
		t.Errorf("RulesFile = %q", cfg.Engine.RulesFile)
	}
	if len(cfg.Security.CorsAllowedOrigins) != 2 {
		t.Errorf("CorsAllowedOrigins = %v", cfg.Security.CorsAllowedOrigins)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestInvalidQueueURLFailsValidation(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("SQS_EVALUATIONS", "not a url")

	_, err := LoadConfig(nil)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Type != ErrValidation {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func TestSecretsRedactedInJSON(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("FORECAST_API_KEY", "owm-live-9f8e7d6c5b4a")

	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	out, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(out)
	for _, secret := range []string{"turfwatch_test", "twadm-0f1e2d3c4b5a6978", "owm-live-9f8e7d6c5b4a"} {
		if strings.Contains(s, secret) {
			t.Errorf("marshalled config leaks secret %q", secret)
		}
	}
	if !strings.Contains(s, "***REDACTED***") {
		t.Error("marshalled config carries no redaction markers")
	}

	// The real values stay reachable for the components that need them.
	if cfg.Database.URL.Unmask() != "postgres://turfwatch:pw@localhost:5432/turfwatch_test" {
		t.Error("Unmask() lost the database URL")
	}
	if cfg.Providers.ForecastAPIKey.Unmask() != "owm-live-9f8e7d6c5b4a" {
		t.Error("Unmask() lost the forecast API key")
	}
}


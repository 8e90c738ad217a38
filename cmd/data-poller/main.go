// Package main is the entrypoint for the data poller worker.
//
// The poller pulls fresh provider data (forecast API, soil station
// product) for every lawn, persists the readings, and queues evaluation
// passes when new data lands. Deployed environments invoke it on an
// EventBridge schedule via Lambda; local mode runs an in-process interval
// loop instead.
//
// This file handles dependency wiring and delegates the poll logic to
// internal/ingest.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"turfwatch/internal/config"
	"turfwatch/internal/db"
	"turfwatch/internal/ingest"
	"turfwatch/internal/queue"
	"turfwatch/internal/security"
	"turfwatch/internal/telemetry"
)

// maxProviderRedirects bounds redirect chains on provider fetches.
const maxProviderRedirects = 3

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("data poller initializing")

	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	repos := db.NewRegistry(pool)

	if err := repos.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	var metrics telemetry.Metrics = telemetry.Noop{}
	if cfg.Observability.EnableMetrics {
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		metrics = telemetry.NewCloudWatchMetrics(cwClient, cfg.Observability.MetricNamespace, logger)
	}

	// Both provider clients share one hardened HTTP client: the transport
	// blocks fetches and redirects into private ranges, while retries and
	// circuit breaking live in the external base client underneath.
	httpClient := security.NewSafeHTTPClient(cfg.Providers.RequestTimeout, maxProviderRedirects)

	forecastClient := ingest.NewForecastClient(httpClient, ingest.ForecastClientConfig{
		APIKey:      cfg.Providers.ForecastAPIKey,
		BaseURL:     cfg.Providers.ForecastBaseURL,
		TempHorizon: cfg.Ingest.ForecastTempHorizon,
		RainHorizon: cfg.Ingest.ForecastRainHorizon,
		Logger:      logger,
	})
	stationClient := ingest.NewStationClient(httpClient, ingest.StationClientConfig{
		BaseURL: cfg.Providers.StationBaseURL,
		Logger:  logger,
	})

	poller := ingest.NewIngestPoller(ingest.IngestPollerConfig{
		Lawns:       repos.Lawns(),
		Readings:    repos.Readings(),
		Forecast:    forecastClient,
		Station:     stationClient,
		Trigger:     queue.NewEvaluationPublisher(sqsClient, cfg.AWS, logger),
		Metrics:     metrics,
		Concurrency: cfg.Ingest.Concurrency,
		Logger:      logger,
	})

	logger.Info("data poller initialized",
		"environment", cfg.Environment,
		"poll_interval", cfg.Ingest.PollInterval.String(),
		"concurrency", cfg.Ingest.Concurrency,
	)

	handler := newHandler(poller, logger)

	if cfg.Environment == "local" {
		runLocal(handler, cfg, logger)
		return
	}

	lambda.Start(handler)
}

// newPool builds the pgx pool with the configured tuning applied.
func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	return pgxpool.NewWithConfig(ctx, poolCfg)
}

// newHandler wraps one poll pass with logging and error handling. The
// same function serves as the Lambda handler and the local loop body.
func newHandler(poller *ingest.IngestPoller, logger *slog.Logger) func(ctx context.Context) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) (string, error) {
		ingested, err := poller.RunOnce(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "poll pass failed",
				"error", err,
				"ingested_before_error", ingested,
			)
			return "", fmt.Errorf("data poller failed: %w", err)
		}

		result := fmt.Sprintf("poll complete: %d readings ingested", ingested)
		logger.InfoContext(ctx, result, "ingested", ingested)
		return result, nil
	}
}

// runLocal drives the handler on the configured interval until the
// process receives SIGINT or SIGTERM. The first pass runs immediately so
// a fresh checkout has data without waiting out the interval.
func runLocal(handler func(ctx context.Context) (string, error), cfg *config.Config, logger *slog.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("running in local interval mode", "interval", cfg.Ingest.PollInterval.String())

	ticker := time.NewTicker(cfg.Ingest.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := handler(ctx); err != nil {
			logger.Error("local poll pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received, stopping poller")
			return
		case <-ticker.C:
		}
	}
}

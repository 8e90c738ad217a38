// Package main is the entry point for the TurfWatch API server.
//
// It loads configuration (resolving SSM-held secrets outside local mode),
// connects the Postgres pool, and wires the repositories, rule catalog,
// evaluator, and HTTP handlers into the core server chassis. The server
// runs as a plain HTTP process; the queue-driven workers live in their
// own binaries.
//
// Graceful shutdown is handled via OS signal interception (SIGINT,
// SIGTERM): in-flight requests drain before the pool closes.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"turfwatch/internal/api/handlers"
	"turfwatch/internal/auth"
	"turfwatch/internal/config"
	"turfwatch/internal/core"
	"turfwatch/internal/db"
	"turfwatch/internal/engine"
	"turfwatch/internal/queue"
	"turfwatch/internal/rules"
	"turfwatch/internal/scheduler"
	"turfwatch/internal/telemetry"
	"turfwatch/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run wires the process together and blocks until shutdown, leaving main a
// thin exit-code shim.
func run() error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("turfwatch API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("creating database pool: %w", err)
	}
	repos := db.NewRegistry(pool)

	if err := repos.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("loading AWS SDK config: %w", err)
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

	// Rule catalog: builtins plus the optional operator-supplied document.
	var extraRules []string
	if cfg.Engine.RulesFile != "" {
		extraRules = append(extraRules, cfg.Engine.RulesFile)
	}
	catalog, err := rules.Load(extraRules...)
	if err != nil {
		return fmt.Errorf("loading rule catalog: %w", err)
	}

	eng := &engine.Engine{
		Config: engine.Config{
			ClockSkewBound: cfg.Engine.ClockSkewBound,
			HistoryHorizon: cfg.Engine.HistoryHorizon,
		},
		Catalog: catalog,
		Log:     logger,
	}

	// Queue publishers no-op when their queue URL is unset, so a
	// single-process local deployment still serves every endpoint.
	evalQueue := queue.NewEvaluationPublisher(sqsClient, cfg.AWS, logger)
	recQueue := queue.NewRecommendationPublisher(sqsClient, cfg.AWS, logger)

	evaluator := scheduler.NewEvaluator(scheduler.EvaluatorConfig{
		Engine:          eng,
		Lawns:           repos.Lawns(),
		Readings:        repos.Readings(),
		Applications:    repos.Applications(),
		Recommendations: repos.Recommendations(),
		Events:          recQueue,
		Metrics:         metrics,
		Concurrency:     cfg.Ingest.Concurrency,
		Logger:          logger,
	})

	srv, err := core.NewServer(cfg, repos, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Authenticator = auth.NewKeyAuthenticator(repos.APIKeys(), cfg.Security.AdminAPIKey, logger)
	srv.Metrics = requestMetrics{sink: metrics}
	srv.HealthProbes = append(srv.HealthProbes, dbProbe{repos: repos})

	lawnHandler := handlers.NewLawnHandler(lawnStore{repos.Lawns()}, srv.Validator, logger)
	readingHandler := handlers.NewReadingHandler(readingStore{repos.Readings()}, repos.Lawns(), evalQueue, srv.Validator, logger)
	applicationHandler := handlers.NewApplicationHandler(repos.Applications(), repos.Lawns(), evalQueue, srv.Validator, logger)
	recommendationHandler := handlers.NewRecommendationHandler(repos.Recommendations(), repos.Lawns(), evaluator, logger)
	ruleHandler := handlers.NewRuleHandler(catalog, repos.Rules(), logger)
	apiKeyHandler := handlers.NewAPIKeyHandler(apiKeyStore{repos.APIKeys()}, srv.Validator, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		lawnHandler.RegisterRoutes,
		readingHandler.RegisterRoutes,
		applicationHandler.RegisterRoutes,
		recommendationHandler.RegisterRoutes,
		ruleHandler.RegisterRoutes,
		apiKeyHandler.RegisterRoutes,
	)

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
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

// runHTTPServer serves srv until SIGINT or SIGTERM arrives, then drains
// in-flight requests within the configured shutdown timeout before closing
// the pool.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// The pool closes only after the listener stops accepting work.
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger builds the process-wide JSON logger. Unknown names fall back to
// info so a typo in LOG_LEVEL cannot silence the service.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}

// =============================================================================
// Wiring adapters
//
// The handler packages declare their own parameter structs so they do not
// import the db package. These thin adapters translate at the boundary;
// everything else on the repositories is promoted unchanged.
// =============================================================================

// lawnStore adapts the lawn repository's list parameters.
type lawnStore struct {
	*db.LawnRepository
}

func (s lawnStore) List(ctx context.Context, params handlers.LawnListParams) ([]*types.Lawn, error) {
	return s.LawnRepository.List(ctx, db.ListLawnsParams{
		Limit:  params.Limit,
		Cursor: params.Cursor,
	})
}

// readingStore adapts the reading repository's query parameters.
type readingStore struct {
	*db.ReadingRepository
}

func (s readingStore) Query(ctx context.Context, lawnID string, params handlers.ReadingQueryParams) ([]types.Reading, error) {
	return s.ReadingRepository.Query(ctx, lawnID, db.QueryReadingsParams{
		Metric: params.Metric,
		Since:  params.Since,
		Until:  params.Until,
		Limit:  params.Limit,
		Cursor: params.Cursor,
	})
}

// apiKeyStore adapts the API key repository's list parameters.
type apiKeyStore struct {
	*db.APIKeyRepository
}

func (s apiKeyStore) List(ctx context.Context, params handlers.APIKeyListParams) ([]*types.APIKey, error) {
	return s.APIKeyRepository.List(ctx, db.ListAPIKeysParams{
		ActiveOnly: params.ActiveOnly,
		Limit:      params.Limit,
		Cursor:     params.Cursor,
	})
}

// requestMetrics feeds the middleware's per-request hook into the
// telemetry sink.
type requestMetrics struct {
	sink telemetry.Metrics
}

func (m requestMetrics) RecordRequest(method, endpoint, _ string, duration time.Duration) {
	m.sink.RecordAPILatency(context.Background(), method+" "+endpoint, duration)
}

// dbProbe reports database connectivity for /health.
type dbProbe struct {
	repos *db.Registry
}

func (p dbProbe) Name() string                    { return "database" }
func (p dbProbe) Check(ctx context.Context) error { return p.repos.Ping(ctx) }

// Compile-time interface assertions for the wiring adapters.
var (
	_ handlers.LawnStore    = lawnStore{}
	_ handlers.ReadingStore = readingStore{}
	_ handlers.APIKeyStore  = apiKeyStore{}
	_ core.MetricsCollector = requestMetrics{}
	_ core.HealthProbe      = dbProbe{}

	_ handlers.EvalTrigger   = (*queue.EvaluationPublisher)(nil)
	_ handlers.LawnEvaluator = (*scheduler.Evaluator)(nil)
)

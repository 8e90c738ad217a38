// Package main is the entry point for the evaluation worker.
//
// The worker consumes the evaluations SQS queue: each message asks for
// one lawn to be re-evaluated against the rule catalog. It also accepts
// direct invocations carrying a single evaluation request, where an
// empty lawn id triggers a full sweep across every lawn. Deployed as a
// Lambda behind the queue; run locally with APP_ENV=local and an event
// on stdin.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"turfwatch/internal/config"
	"turfwatch/internal/db"
	"turfwatch/internal/engine"
	"turfwatch/internal/queue"
	"turfwatch/internal/rules"
	"turfwatch/internal/scheduler"
	"turfwatch/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("evaluation worker initializing")

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

	var extraRules []string
	if cfg.Engine.RulesFile != "" {
		extraRules = append(extraRules, cfg.Engine.RulesFile)
	}
	catalog, err := rules.Load(extraRules...)
	if err != nil {
		logger.Error("failed to load rule catalog", "error", err)
		os.Exit(1)
	}

	eng := &engine.Engine{
		Config: engine.Config{
			ClockSkewBound: cfg.Engine.ClockSkewBound,
			HistoryHorizon: cfg.Engine.HistoryHorizon,
		},
		Catalog: catalog,
		Log:     logger,
	}

	evaluator := scheduler.NewEvaluator(scheduler.EvaluatorConfig{
		Engine:          eng,
		Lawns:           repos.Lawns(),
		Readings:        repos.Readings(),
		Applications:    repos.Applications(),
		Recommendations: repos.Recommendations(),
		Events:          queue.NewRecommendationPublisher(sqsClient, cfg.AWS, logger),
		Metrics:         metrics,
		Concurrency:     cfg.Ingest.Concurrency,
		Logger:          logger,
	})

	worker := &scheduler.Worker{
		Eval: evaluator,
		Log:  logger,
	}

	logger.Info("evaluation worker initialized",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"rules", len(catalog.Rules()),
		"eval_queue", cfg.AWS.EvalQueueURL,
	)

	// Local mode: read one JSON event from stdin instead of starting the
	// Lambda runtime.
	// Usage: echo '{"lawn_id":"lawn_1","reason":"manual"}' | go run ./cmd/evaluator
	if cfg.Environment == "local" {
		logger.Info("APP_ENV=local: reading event from stdin")
		payload, err := io.ReadAll(os.Stdin)
		if err != nil {
			logger.Error("failed to read stdin", "error", err)
			os.Exit(1)
		}
		if len(payload) == 0 {
			logger.Error("no input received on stdin")
			os.Exit(1)
		}
		result, err := worker.Handle(ctx, json.RawMessage(payload))
		if err != nil {
			logger.Error("handler execution failed", "error", err)
			os.Exit(1)
		}
		logger.Info("handler execution completed", "result", result)
		return
	}

	lambda.Start(worker.Handle)
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

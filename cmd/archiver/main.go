// Package main is the entry point for the maintenance worker.
//
// The worker multiplexes low-frequency maintenance tasks behind a single
// binary: EventBridge rules send a JSON payload naming the task, and the
// handler routes it to the matching maintenance operation. Consolidating
// the tasks keeps cold starts and infrastructure count down; a
// distributed job lock guarantees each task runs at most once per hour
// even when rules overlap or retries fire.
//
// Run locally with APP_ENV=local and a payload on stdin:
//
//	echo '{"task":"archive_readings"}' | go run ./cmd/archiver
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"turfwatch/internal/archive"
	"turfwatch/internal/config"
	"turfwatch/internal/db"
	"turfwatch/internal/scheduler"
	"turfwatch/internal/telemetry"
)

// lockTTL covers the typical worker execution duration with margin. A
// crashed worker's lock expires after this and the next invocation can
// re-acquire it.
const lockTTL = 15 * time.Minute

// MaintenanceService is the subset of maintenance operations the handler
// routes to. Satisfied by *scheduler.Maintainer.
type MaintenanceService interface {
	ArchiveReadings(ctx context.Context, now time.Time) (int, error)
	PurgeRecommendations(ctx context.Context, now time.Time) (int, error)
	PurgeJobHistory(ctx context.Context, now time.Time) (int, error)
	PurgeRevokedKeys(ctx context.Context, now time.Time) (int, error)
}

// JobLocker abstracts the distributed lock acquisition.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
}

// JobHistorian abstracts the job history recording.
type JobHistorian interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

// Handler holds the dependencies for the maintenance handler function.
type Handler struct {
	Maintenance MaintenanceService
	JobLock     JobLocker
	JobHistory  JobHistorian
	WorkerID    string
	Logger      *slog.Logger
}

// Handle processes one maintenance payload: pin the reference time, take
// the per-task hourly lock, then run the task with history bookkeeping
// around it.
//
// A held lock is not an error; the invocation reports itself skipped so
// overlapping EventBridge rules and Lambda retries stay harmless.
func (h *Handler) Handle(ctx context.Context, payload scheduler.MaintenancePayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if payload.Task == "" {
		return "", fmt.Errorf("empty task type in maintenance payload")
	}

	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	task := string(payload.Task)
	logger.InfoContext(ctx, "maintenance task received",
		"task", task,
		"reference_time", now.Format(time.RFC3339),
		"worker_id", h.WorkerID,
	)

	// One lock per task per hour. Retries within the hour deduplicate;
	// the next scheduled run gets a fresh lock.
	lockID := fmt.Sprintf("%s:%s", payload.Task, now.Truncate(time.Hour).Format("2006-01-02T15"))
	switch acquired, err := h.JobLock.Acquire(ctx, lockID, h.WorkerID, lockTTL); {
	case err != nil:
		logger.ErrorContext(ctx, "job lock acquisition failed", "lock_id", lockID, "error", err)
		return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	case !acquired:
		logger.InfoContext(ctx, "lock held elsewhere, skipping", "lock_id", lockID)
		return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
	}

	items, err := h.runRecorded(ctx, logger, payload.Task, now)
	if err != nil {
		logger.ErrorContext(ctx, "maintenance task failed",
			"task", task,
			"error", err,
			"items_before_error", items,
		)
		return "", fmt.Errorf("task %s failed: %w", task, err)
	}

	result := fmt.Sprintf("task %s complete: %d items processed", task, items)
	logger.InfoContext(ctx, result, "task", task, "items", items)
	return result, nil
}

// runRecorded executes the task with job history rows around it. History is
// best effort: a failed Start is logged and the task runs anyway, with
// Finish skipped since there is no row to close.
func (h *Handler) runRecorded(ctx context.Context, logger *slog.Logger, task scheduler.TaskType, now time.Time) (int, error) {
	jobID, err := h.JobHistory.Start(ctx, string(task))
	if err != nil {
		logger.ErrorContext(ctx, "failed to record job start, continuing without history",
			"task", string(task),
			"error", err,
		)
		jobID = 0
	}

	items, execErr := h.dispatch(ctx, task, now)

	if jobID != 0 {
		status := "success"
		if execErr != nil {
			status = "failed"
		}
		if err := h.JobHistory.Finish(ctx, jobID, status, items, execErr); err != nil {
			logger.ErrorContext(ctx, "failed to record job completion",
				"job_id", jobID,
				"task", string(task),
				"error", err,
			)
		}
	}
	return items, execErr
}

// dispatch routes a task to the matching maintenance operation. Retention
// windows live on the Maintainer, so every operation takes only the
// reference time.
func (h *Handler) dispatch(ctx context.Context, task scheduler.TaskType, now time.Time) (int, error) {
	switch task {
	case scheduler.TaskArchiveReadings:
		return h.Maintenance.ArchiveReadings(ctx, now)
	case scheduler.TaskPurgeRecommendations:
		return h.Maintenance.PurgeRecommendations(ctx, now)
	case scheduler.TaskPurgeJobHistory:
		return h.Maintenance.PurgeJobHistory(ctx, now)
	case scheduler.TaskPurgeRevokedKeys:
		return h.Maintenance.PurgeRevokedKeys(ctx, now)
	default:
		return 0, fmt.Errorf("unknown task type: %q", task)
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("maintenance worker initializing")

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

	var metrics telemetry.Metrics = telemetry.Noop{}
	if cfg.Observability.EnableMetrics {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			logger.Error("failed to load AWS SDK config", "error", err)
			os.Exit(1)
		}
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		metrics = telemetry.NewCloudWatchMetrics(cwClient, cfg.Observability.MetricNamespace, logger)
	}

	exporter, err := archive.NewExporter(archive.ExporterConfig{
		Readings: repos.Readings(),
		Store:    archive.NewFilesystemStore(cfg.Archive.Dir),
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to create readings exporter", "error", err)
		os.Exit(1)
	}

	maintainer := scheduler.NewMaintainer(scheduler.MaintainerConfig{
		Archiver:        exporter,
		Recommendations: repos.Recommendations(),
		JobHistory:      repos.JobHistory(),
		APIKeys:         repos.APIKeys(),

		ReadingRetention:        days(cfg.Archive.RetentionDays),
		RecommendationRetention: days(cfg.Archive.RecommendationDays),
		JobHistoryRetention:     days(cfg.Archive.JobHistoryRetainDays),
		RevokedKeyRetention:     days(cfg.Archive.RevokedKeyDays),

		Logger: logger,
	})

	// Lock ownership is tracked per worker instance.
	workerID := uuid.New().String()

	handler := &Handler{
		Maintenance: maintainer,
		JobLock:     repos.JobLocks(),
		JobHistory:  repos.JobHistory(),
		WorkerID:    workerID,
		Logger:      logger,
	}

	logger.Info("maintenance worker initialized",
		"worker_id", workerID,
		"archive_dir", cfg.Archive.Dir,
		"reading_retention_days", cfg.Archive.RetentionDays,
	)

	// Local mode: read one JSON payload from stdin instead of starting the
	// Lambda runtime.
	if cfg.Environment == "local" {
		logger.Info("APP_ENV=local: reading payload from stdin")
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			logger.Error("failed to read stdin", "error", err)
			os.Exit(1)
		}
		var payload scheduler.MaintenancePayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			logger.Error("failed to parse maintenance payload", "error", err)
			os.Exit(1)
		}
		result, err := handler.Handle(ctx, payload)
		if err != nil {
			logger.Error("handler execution failed", "error", err)
			os.Exit(1)
		}
		logger.Info("handler execution completed", "result", result)
		return
	}

	lambda.Start(handler.Handle)
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
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

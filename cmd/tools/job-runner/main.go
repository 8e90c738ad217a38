// Package main implements job-runner, a CLI for running maintenance tasks
// by hand instead of through the archiver Lambda. It exists for local
// development, manual backfills, and operational debugging.
//
//	go run ./cmd/tools/job-runner --list
//	go run ./cmd/tools/job-runner --task=archive_readings
//	go run ./cmd/tools/job-runner --task=purge_recommendations --reference-time=2026-08-01T02:00:00Z
//	go run ./cmd/tools/job-runner --dry-run --task=purge_job_history
//
// Configuration comes from DATABASE_URL and the same ARCHIVE_* variables
// the worker reads, with a .env overlay for local runs. A real execution
// goes through the worker's lock-and-dispatch flow, so a CLI run and a
// concurrently firing Lambda can never double the work.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"turfwatch/internal/archive"
	"turfwatch/internal/config"
	"turfwatch/internal/db"
	"turfwatch/internal/scheduler"
)

// validTasks mirrors the dispatch table in cmd/archiver.
var validTasks = map[scheduler.TaskType]string{
	scheduler.TaskArchiveReadings:      "Export aged readings to compressed archive objects, then delete them",
	scheduler.TaskPurgeRecommendations: "Delete recommendations whose validity window has lapsed",
	scheduler.TaskPurgeJobHistory:      "Delete job history rows past the retention window",
	scheduler.TaskPurgeRevokedKeys:     "Hard delete API keys revoked past the retention window",
}

// lockTTL matches the worker so a CLI run and a Lambda run contend for the
// same hourly lock on equal terms.
const lockTTL = 15 * time.Minute

type options struct {
	task    scheduler.TaskType
	refTime *time.Time
	dryRun  bool
}

func main() {
	taskFlag := flag.String("task", "", "task to execute (see --list)")
	refFlag := flag.String("reference-time", "", "override the reference instant (RFC3339)")
	listFlag := flag.Bool("list", false, "print available tasks and exit")
	dryRunFlag := flag.Bool("dry-run", false, "print the task payload without executing")
	flag.Parse()

	if *listFlag {
		listTasks(os.Stdout)
		return
	}

	opts, err := buildOptions(*taskFlag, *refFlag, *dryRunFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "job-runner: %v\n", err)
		listTasks(os.Stderr)
		os.Exit(1)
	}

	if opts.dryRun {
		printPayload(opts)
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := run(ctx, opts, logger)
	if err != nil {
		logger.Error("task failed", "task", string(opts.task), "error", err)
		os.Exit(1)
	}
	logger.Info("task finished", "task", string(opts.task), "result", summary)
}

func buildOptions(task, ref string, dryRun bool) (options, error) {
	if task == "" {
		return options{}, errors.New("--task is required")
	}
	tt := scheduler.TaskType(task)
	if _, ok := validTasks[tt]; !ok {
		return options{}, fmt.Errorf("unknown task %q", task)
	}

	opts := options{task: tt, dryRun: dryRun}
	if ref != "" {
		t, err := time.Parse(time.RFC3339, ref)
		if err != nil {
			return options{}, fmt.Errorf("invalid --reference-time %q: %v (want RFC3339, e.g. 2026-08-01T02:00:00Z)", ref, err)
		}
		opts.refTime = &t
	}
	return opts, nil
}

// run wires the database and archive dependencies, then hands off to the
// worker flow. The .env overlay loads here, after the dry-run exit, so a
// payload preview never needs credentials.
func run(ctx context.Context, opts options, logger *slog.Logger) (string, error) {
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file loaded (fine outside local development)", "error", err)
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return "", errors.New("DATABASE_URL environment variable is required")
	}

	var archiveCfg config.ArchiveConfig
	if err := envconfig.Process("", &archiveCfg); err != nil {
		return "", fmt.Errorf("reading archive settings: %w", err)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return "", fmt.Errorf("creating database pool: %w", err)
	}
	repos := db.NewRegistry(pool)
	defer repos.Close()

	if err := repos.Ping(ctx); err != nil {
		return "", fmt.Errorf("pinging database: %w", err)
	}

	maintainer, err := buildMaintainer(repos, archiveCfg, logger)
	if err != nil {
		return "", err
	}

	ref := time.Now().UTC()
	if opts.refTime != nil {
		ref = opts.refTime.UTC()
	}
	return runLocked(ctx, repos, maintainer, opts.task, ref, logger)
}

func buildMaintainer(repos *db.Registry, archiveCfg config.ArchiveConfig, logger *slog.Logger) (*scheduler.Maintainer, error) {
	exporter, err := archive.NewExporter(archive.ExporterConfig{
		Readings: repos.Readings(),
		Store:    archive.NewFilesystemStore(archiveCfg.Dir),
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating readings exporter: %w", err)
	}

	return scheduler.NewMaintainer(scheduler.MaintainerConfig{
		Archiver:        exporter,
		Recommendations: repos.Recommendations(),
		JobHistory:      repos.JobHistory(),
		APIKeys:         repos.APIKeys(),

		ReadingRetention:        days(archiveCfg.RetentionDays),
		RecommendationRetention: days(archiveCfg.RecommendationDays),
		JobHistoryRetention:     days(archiveCfg.JobHistoryRetainDays),
		RevokedKeyRetention:     days(archiveCfg.RevokedKeyDays),

		Logger: logger,
	}), nil
}

// runLocked runs the same flow as the archiver handler: take the hourly
// lock, record history, dispatch, record the outcome.
func runLocked(ctx context.Context, repos *db.Registry, m *scheduler.Maintainer, task scheduler.TaskType, ref time.Time, logger *slog.Logger) (string, error) {
	workerID := "job-runner-" + uuid.NewString()
	lockID := fmt.Sprintf("%s:%s", task, ref.Truncate(time.Hour).Format("2006-01-02T15"))

	logger.Info("executing task",
		"task", string(task),
		"reference_time", ref.Format(time.RFC3339),
		"worker_id", workerID,
	)

	acquired, err := repos.JobLocks().Acquire(ctx, lockID, workerID, lockTTL)
	if err != nil {
		return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
	}
	logger.Info("job lock acquired", "lock_id", lockID)

	jobID, err := repos.JobHistory().Start(ctx, string(task))
	if err != nil {
		logger.Warn("failed to record job start (continuing anyway)", "error", err)
		jobID = 0
	}

	items, execErr := dispatch(ctx, m, task, ref)

	if jobID != 0 {
		status := "success"
		if execErr != nil {
			status = "failed"
		}
		if finishErr := repos.JobHistory().Finish(ctx, jobID, status, items, execErr); finishErr != nil {
			logger.Error("failed to record job completion", "job_id", jobID, "error", finishErr)
		}
	}

	if execErr != nil {
		return "", fmt.Errorf("task %s failed: %w", task, execErr)
	}
	return fmt.Sprintf("task %s complete: %d items processed", task, items), nil
}

func dispatch(ctx context.Context, m *scheduler.Maintainer, task scheduler.TaskType, ref time.Time) (int, error) {
	switch task {
	case scheduler.TaskArchiveReadings:
		return m.ArchiveReadings(ctx, ref)
	case scheduler.TaskPurgeRecommendations:
		return m.PurgeRecommendations(ctx, ref)
	case scheduler.TaskPurgeJobHistory:
		return m.PurgeJobHistory(ctx, ref)
	case scheduler.TaskPurgeRevokedKeys:
		return m.PurgeRevokedKeys(ctx, ref)
	default:
		return 0, fmt.Errorf("unknown task type: %q", task)
	}
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func listTasks(w io.Writer) {
	fmt.Fprintln(w, "Available tasks:")
	for _, task := range slices.Sorted(maps.Keys(validTasks)) {
		fmt.Fprintf(w, "  %-24s %s\n", task, validTasks[task])
	}
}

func printPayload(opts options) {
	payload := scheduler.MaintenancePayload{Task: opts.task, ReferenceTime: opts.refTime}
	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "job-runner: marshaling payload: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

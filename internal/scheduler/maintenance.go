package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"turfwatch/internal/archive"
)

// ReadingArchiver drains readings older than a cutoff into cold storage.
type ReadingArchiver interface {
	ArchiveBefore(ctx context.Context, cutoff time.Time) (archive.Stats, error)
}

// RecommendationPurger removes recommendation snapshots past retention.
type RecommendationPurger interface {
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// JobHistoryPurger trims old rows from the job history audit table.
type JobHistoryPurger interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// RevokedKeyPurger removes API keys revoked before a cutoff.
type RevokedKeyPurger interface {
	DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Maintainer runs the retention tasks that keep the hot tables bounded.
// Each method takes an explicit reference time so backfills and tests can
// pin the clock; the maintenance worker passes the payload's reference
// time or the current wall clock.
type Maintainer struct {
	archiver        ReadingArchiver
	recommendations RecommendationPurger
	jobHistory      JobHistoryPurger
	apiKeys         RevokedKeyPurger

	readingRetention        time.Duration
	recommendationRetention time.Duration
	jobHistoryRetention     time.Duration
	revokedKeyRetention     time.Duration

	logger *slog.Logger
}

// MaintainerConfig holds the configuration for creating a Maintainer.
// Retention durations must be positive; a task whose retention is zero or
// negative is skipped rather than purging everything up to now.
type MaintainerConfig struct {
	Archiver        ReadingArchiver
	Recommendations RecommendationPurger
	JobHistory      JobHistoryPurger
	APIKeys         RevokedKeyPurger

	ReadingRetention        time.Duration
	RecommendationRetention time.Duration
	JobHistoryRetention     time.Duration
	RevokedKeyRetention     time.Duration

	Logger *slog.Logger
}

// NewMaintainer creates a new Maintainer with the given configuration.
func NewMaintainer(cfg MaintainerConfig) *Maintainer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintainer{
		archiver:                cfg.Archiver,
		recommendations:         cfg.Recommendations,
		jobHistory:              cfg.JobHistory,
		apiKeys:                 cfg.APIKeys,
		readingRetention:        cfg.ReadingRetention,
		recommendationRetention: cfg.RecommendationRetention,
		jobHistoryRetention:     cfg.JobHistoryRetention,
		revokedKeyRetention:     cfg.RevokedKeyRetention,
		logger:                  logger,
	}
}

// ArchiveReadings exports readings recorded before now minus the reading
// retention window and deletes them from the hot table. Returns the
// number of rows moved to cold storage.
func (m *Maintainer) ArchiveReadings(ctx context.Context, now time.Time) (int, error) {
	if m.readingRetention <= 0 {
		m.logger.WarnContext(ctx, "reading retention not configured, skipping archive")
		return 0, nil
	}
	cutoff := now.Add(-m.readingRetention)

	stats, err := m.archiver.ArchiveBefore(ctx, cutoff)
	if err != nil {
		return stats.Rows, fmt.Errorf("archiving readings: %w", err)
	}
	return stats.Rows, nil
}

// PurgeRecommendations deletes recommendation snapshots whose validity
// lapsed before now minus the recommendation retention window. The live
// snapshot for each lawn is untouched because ReplaceForLawn refreshes
// its expiry on every evaluation.
func (m *Maintainer) PurgeRecommendations(ctx context.Context, now time.Time) (int, error) {
	if m.recommendationRetention <= 0 {
		m.logger.WarnContext(ctx, "recommendation retention not configured, skipping purge")
		return 0, nil
	}
	cutoff := now.Add(-m.recommendationRetention)

	count, err := m.recommendations.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging recommendations: %w", err)
	}

	if count > 0 {
		m.logger.InfoContext(ctx, "purged expired recommendations",
			"count", count,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}
	return count, nil
}

// PurgeJobHistory trims job history rows older than the job history
// retention window.
func (m *Maintainer) PurgeJobHistory(ctx context.Context, now time.Time) (int, error) {
	if m.jobHistoryRetention <= 0 {
		m.logger.WarnContext(ctx, "job history retention not configured, skipping purge")
		return 0, nil
	}
	cutoff := now.Add(-m.jobHistoryRetention)

	count, err := m.jobHistory.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging job history: %w", err)
	}

	if count > 0 {
		m.logger.InfoContext(ctx, "purged job history",
			"count", count,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}
	return count, nil
}

// PurgeRevokedKeys hard-deletes API keys revoked before now minus the
// revoked key retention window. Keys are kept for a while after
// revocation so authentication can still report them as revoked rather
// than unknown.
func (m *Maintainer) PurgeRevokedKeys(ctx context.Context, now time.Time) (int, error) {
	if m.revokedKeyRetention <= 0 {
		m.logger.WarnContext(ctx, "revoked key retention not configured, skipping purge")
		return 0, nil
	}
	cutoff := now.Add(-m.revokedKeyRetention)

	count, err := m.apiKeys.DeleteRevokedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging revoked API keys: %w", err)
	}

	if count > 0 {
		m.logger.InfoContext(ctx, "purged revoked API keys",
			"count", count,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}
	return count, nil
}

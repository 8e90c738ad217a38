package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"turfwatch/internal/types"
)

// RecommendationRepository provides data access for the recommendations
// table. Storage is replace-per-run: each evaluation pass overwrites the
// lawn's full recommendation set, so the table always holds exactly the
// latest pass's output per lawn. The position column preserves the ranked
// order the composer produced.
type RecommendationRepository struct {
	db DBTX
}

// NewRecommendationRepository creates a new RecommendationRepository backed
// by the given database connection (pool or transaction).
func NewRecommendationRepository(db DBTX) *RecommendationRepository {
	return &RecommendationRepository{db: db}
}

// recommendationColumns defines the standard set of columns selected for
// recommendation queries.
const recommendationColumns = `rule_id, lawn_id, severity, message, triggered_at, valid_until`

// ReplaceForLawn atomically replaces a lawn's recommendation set with the
// given pass output. The purge and insert run in a single data-modifying
// CTE statement, so a concurrent reader never observes a partially written
// set. An empty set clears the lawn. Returns the number of rows written.
func (r *RecommendationRepository) ReplaceForLawn(ctx context.Context, lawnID string, recs []types.Recommendation) (int, error) {
	if len(recs) == 0 {
		_, err := r.db.Exec(ctx,
			`DELETE FROM recommendations WHERE lawn_id = $1`,
			lawnID,
		)
		if err != nil {
			return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to clear recommendations", err)
		}
		return 0, nil
	}

	valueClauses := make([]string, 0, len(recs))
	args := make([]any, 0, len(recs)*6+1)
	args = append(args, lawnID)
	argIdx := 2
	for i, rec := range recs {
		valueClauses = append(valueClauses, fmt.Sprintf("($1, $%d, $%d, $%d, $%d, $%d, $%d)",
			argIdx, argIdx+1, argIdx+2, argIdx+3, argIdx+4, argIdx+5))
		args = append(args,
			rec.RuleID,
			string(rec.Severity),
			rec.Message,
			rec.TriggeredAt.UTC(),
			rec.ValidUntil.UTC(),
			i,
		)
		argIdx += 6
	}

	query := fmt.Sprintf(
		`WITH purged AS (
		    DELETE FROM recommendations WHERE lawn_id = $1
		 )
		 INSERT INTO recommendations (lawn_id, rule_id, severity, message, triggered_at, valid_until, position)
		 VALUES %s`,
		strings.Join(valueClauses, ", "),
	)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to replace recommendations", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListForLawn retrieves a lawn's stored recommendation set in composer
// order. When activeOnly is set, recommendations whose validity has lapsed
// relative to now are filtered out.
func (r *RecommendationRepository) ListForLawn(ctx context.Context, lawnID string, activeOnly bool, now time.Time) ([]types.Recommendation, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("lawn_id = $%d", argIdx))
	args = append(args, lawnID)
	argIdx++

	if activeOnly {
		conditions = append(conditions, fmt.Sprintf("valid_until > $%d", argIdx))
		args = append(args, now.UTC())
		argIdx++
	}

	query := fmt.Sprintf(
		`SELECT %s FROM recommendations WHERE %s ORDER BY position ASC`,
		recommendationColumns,
		strings.Join(conditions, " AND "),
	)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query recommendations", err)
	}
	defer rows.Close()

	var results []types.Recommendation
	for rows.Next() {
		rec, scanErr := scanRecommendation(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan recommendation row", scanErr)
		}
		results = append(results, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating recommendation rows", err)
	}
	return results, nil
}

// DeleteExpiredBefore removes recommendations whose validity lapsed before
// the cutoff. Expired rows are retained for a grace period so the API can
// still show what recently fired; the maintenance task prunes them past
// the retention window. Returns the count of deleted rows.
func (r *RecommendationRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM recommendations WHERE valid_until < $1`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete expired recommendations", err)
	}
	return int(tag.RowsAffected()), nil
}

// scanRecommendation scans a recommendation from pgx.Rows. Column order
// must match recommendationColumns.
func scanRecommendation(rows pgx.Rows) (*types.Recommendation, error) {
	var rec types.Recommendation
	err := rows.Scan(
		&rec.RuleID,
		&rec.LawnID,
		&rec.Severity,
		&rec.Message,
		&rec.TriggeredAt,
		&rec.ValidUntil,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"turfwatch/internal/types"
)

// ReadingRepository provides data access for the readings table. Readings
// are append-only: ingestion inserts them, the engine and API read them,
// and the archiver eventually exports and removes old ones.
type ReadingRepository struct {
	db DBTX
}

// NewReadingRepository creates a new ReadingRepository backed by the given
// database connection (pool or transaction).
func NewReadingRepository(db DBTX) *ReadingRepository {
	return &ReadingRepository{db: db}
}

// readingColumns defines the standard set of columns selected for reading
// queries. The surrogate id is selected only where row identity is needed
// (archive export).
const readingColumns = `metric, recorded_at, value, source`

// ReadingRow pairs a reading with its owning lawn and surrogate row ID.
// Used for cross-lawn operations such as archive export, where rows must be
// deleted by identity after upload.
type ReadingRow struct {
	ID      int64
	LawnID  string
	Reading types.Reading
}

// InsertBatch inserts a batch of readings for one lawn in a single
// statement. Duplicate samples (same lawn, metric, timestamp, and source)
// are skipped via ON CONFLICT DO NOTHING so re-polling a provider is
// idempotent. Returns the number of rows actually inserted.
func (r *ReadingRepository) InsertBatch(ctx context.Context, lawnID string, readings []types.Reading) (int, error) {
	if len(readings) == 0 {
		return 0, nil
	}
	if len(readings) > types.MaxReadingBatch {
		return 0, types.NewAppErrorWithDetails(
			types.ErrCodeValidationBatchSize,
			fmt.Sprintf("batch size %d exceeds maximum of %d", len(readings), types.MaxReadingBatch),
			nil,
			map[string]any{"max_batch_size": types.MaxReadingBatch},
		)
	}

	valueClauses := make([]string, 0, len(readings))
	args := make([]any, 0, len(readings)*5)
	argIdx := 1
	for _, reading := range readings {
		valueClauses = append(valueClauses, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)",
			argIdx, argIdx+1, argIdx+2, argIdx+3, argIdx+4))
		args = append(args,
			lawnID,
			string(reading.Metric),
			reading.Timestamp.UTC(),
			reading.Value,
			reading.Source,
		)
		argIdx += 5
	}

	query := fmt.Sprintf(
		`INSERT INTO readings (lawn_id, metric, recorded_at, value, source)
		 VALUES %s
		 ON CONFLICT (lawn_id, metric, recorded_at, source) DO NOTHING`,
		strings.Join(valueClauses, ", "),
	)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to insert readings", err)
	}
	return int(tag.RowsAffected()), nil
}

// Series retrieves all readings of one metric for a lawn recorded at or
// after the given instant, ordered ascending. This is the engine's data
// path; the window is bounded by the deepest rule window, not paginated.
func (r *ReadingRepository) Series(ctx context.Context, lawnID string, metric types.Metric, since time.Time) ([]types.Reading, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(
			`SELECT %s FROM readings
			 WHERE lawn_id = $1 AND metric = $2 AND recorded_at >= $3
			 ORDER BY recorded_at ASC`,
			readingColumns,
		),
		lawnID,
		string(metric),
		since.UTC(),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query reading series", err)
	}
	defer rows.Close()

	return collectReadings(rows)
}

// QueryReadingsParams defines filtering options for the readings query API.
type QueryReadingsParams struct {
	Metric types.Metric // zero value means all metrics
	Since  time.Time
	Until  time.Time
	Limit  int
	Cursor string
}

// Query retrieves readings for a lawn, newest first, with optional metric
// and time-window filters. The repo returns up to limit+1 rows; the handler
// detects pagination by the extra row and trims it.
func (r *ReadingRepository) Query(ctx context.Context, lawnID string, params QueryReadingsParams) ([]types.Reading, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("lawn_id = $%d", argIdx))
	args = append(args, lawnID)
	argIdx++

	if params.Metric != "" {
		conditions = append(conditions, fmt.Sprintf("metric = $%d", argIdx))
		args = append(args, string(params.Metric))
		argIdx++
	}

	if !params.Since.IsZero() {
		conditions = append(conditions, fmt.Sprintf("recorded_at >= $%d", argIdx))
		args = append(args, params.Since.UTC())
		argIdx++
	}

	if !params.Until.IsZero() {
		conditions = append(conditions, fmt.Sprintf("recorded_at <= $%d", argIdx))
		args = append(args, params.Until.UTC())
		argIdx++
	}

	if params.Cursor != "" {
		cursorTime, err := time.Parse(time.RFC3339Nano, params.Cursor)
		if err != nil {
			return nil, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"invalid cursor format; expected RFC3339 timestamp",
				err,
			)
		}
		conditions = append(conditions, fmt.Sprintf("recorded_at < $%d", argIdx))
		args = append(args, cursorTime)
		argIdx++
	}

	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(
		`SELECT %s FROM readings %s ORDER BY recorded_at DESC LIMIT $%d`,
		readingColumns,
		whereClause,
		argIdx,
	)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query readings", err)
	}
	defer rows.Close()

	return collectReadings(rows)
}

// LatestTimestamp returns the newest recorded_at for a lawn and metric, or
// nil when the lawn has no readings of that metric. The ingestion poller
// uses this as its high-water mark so re-polls only fetch new data.
func (r *ReadingRepository) LatestTimestamp(ctx context.Context, lawnID string, metric types.Metric) (*time.Time, error) {
	var latest *time.Time
	err := r.db.QueryRow(ctx,
		`SELECT MAX(recorded_at) FROM readings WHERE lawn_id = $1 AND metric = $2`,
		lawnID,
		string(metric),
	).Scan(&latest)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query latest reading timestamp", err)
	}
	return latest, nil
}

// ListBefore returns up to limit readings recorded before the cutoff,
// oldest first, across all lawns. The archiver exports these rows and then
// removes them via DeleteByIDs.
func (r *ReadingRepository) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]ReadingRow, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(
			`SELECT id, lawn_id, %s FROM readings
			 WHERE recorded_at < $1
			 ORDER BY recorded_at ASC
			 LIMIT $2`,
			readingColumns,
		),
		cutoff.UTC(),
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query readings for archival", err)
	}
	defer rows.Close()

	var results []ReadingRow
	for rows.Next() {
		var rec ReadingRow
		if err := rows.Scan(
			&rec.ID,
			&rec.LawnID,
			&rec.Reading.Metric,
			&rec.Reading.Timestamp,
			&rec.Reading.Value,
			&rec.Reading.Source,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan reading row", err)
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating reading rows", err)
	}
	return results, nil
}

// DeleteByIDs removes readings by their surrogate IDs. Returns the count of
// deleted rows.
func (r *ReadingRepository) DeleteByIDs(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM readings WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete archived readings", err)
	}
	return int(tag.RowsAffected()), nil
}

// collectReadings scans all rows into a reading slice. Column order must
// match readingColumns.
func collectReadings(rows pgx.Rows) ([]types.Reading, error) {
	var results []types.Reading
	for rows.Next() {
		var reading types.Reading
		if err := rows.Scan(
			&reading.Metric,
			&reading.Timestamp,
			&reading.Value,
			&reading.Source,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan reading row", err)
		}
		results = append(results, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating reading rows", err)
	}
	return results, nil
}

package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"turfwatch/internal/types"
)

// ApplicationRepository provides data access for the applications table:
// the operator's treatment log. Applications drive season-fact derivation,
// so the engine reads them through the same repository the API writes to.
type ApplicationRepository struct {
	db DBTX
}

// NewApplicationRepository creates a new ApplicationRepository backed by
// the given database connection (pool or transaction).
func NewApplicationRepository(db DBTX) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// applicationColumns defines the standard set of columns selected for
// application queries.
const applicationColumns = `id, lawn_id, category, applied_at, amount, notes, created_at`

// Create inserts a new application record. AppliedAt is normalized to
// midnight UTC before storage so date-only semantics hold regardless of
// what the client sent.
func (r *ApplicationRepository) Create(ctx context.Context, app *types.Application) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO applications (id, lawn_id, category, applied_at, amount, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
		app.ID,
		app.LawnID,
		string(app.Category),
		types.NormalizeAppliedAt(app.AppliedAt),
		app.Amount,
		nilIfEmptyString(app.Notes),
		nilIfZeroTime(app.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create application", err)
	}
	return nil
}

// GetByID retrieves an application by ID, verifying lawn ownership.
// Returns ErrCodeNotFoundApplication if the record does not exist or
// belongs to a different lawn.
func (r *ApplicationRepository) GetByID(ctx context.Context, id, lawnID string) (*types.Application, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM applications WHERE id = $1 AND lawn_id = $2`, applicationColumns),
		id,
		lawnID,
	)

	app, err := scanApplicationRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundApplication, "application not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve application", err)
	}
	return app, nil
}

// ListSince retrieves a lawn's applications applied at or after the given
// instant, oldest first. This is both the engine's history path and the
// API's list path; the horizon bounds the result size.
func (r *ApplicationRepository) ListSince(ctx context.Context, lawnID string, since time.Time) ([]types.Application, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(
			`SELECT %s FROM applications
			 WHERE lawn_id = $1 AND applied_at >= $2
			 ORDER BY applied_at ASC, created_at ASC`,
			applicationColumns,
		),
		lawnID,
		since.UTC(),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query applications", err)
	}
	defer rows.Close()

	var results []types.Application
	for rows.Next() {
		app, scanErr := scanApplication(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan application row", scanErr)
		}
		results = append(results, *app)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating application rows", err)
	}
	return results, nil
}

// Delete permanently removes an application, verifying lawn ownership.
// Mistaken log entries are corrected by delete-and-relog rather than
// update, keeping the records immutable.
func (r *ApplicationRepository) Delete(ctx context.Context, id, lawnID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM applications WHERE id = $1 AND lawn_id = $2`,
		id,
		lawnID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete application", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundApplication, "application not found", nil)
	}
	return nil
}

// scanApplication scans an application from pgx.Rows. Column order must
// match applicationColumns.
func scanApplication(rows pgx.Rows) (*types.Application, error) {
	var app types.Application
	var notes *string
	err := rows.Scan(
		&app.ID,
		&app.LawnID,
		&app.Category,
		&app.AppliedAt,
		&app.Amount,
		&notes,
		&app.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if notes != nil {
		app.Notes = *notes
	}
	return &app, nil
}

// scanApplicationRow scans an application from a single pgx.Row.
// Column order must match applicationColumns.
func scanApplicationRow(row pgx.Row) (*types.Application, error) {
	var app types.Application
	var notes *string
	err := row.Scan(
		&app.ID,
		&app.LawnID,
		&app.Category,
		&app.AppliedAt,
		&app.Amount,
		&notes,
		&app.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if notes != nil {
		app.Notes = *notes
	}
	return &app, nil
}

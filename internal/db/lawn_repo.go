package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"turfwatch/internal/types"
)

// LawnRepository provides data access for the lawns table. A lawn is the
// unit of ingestion and evaluation: every reading, application, and
// recommendation hangs off one.
type LawnRepository struct {
	db DBTX
}

// NewLawnRepository creates a new LawnRepository backed by the given
// database connection (pool or transaction).
func NewLawnRepository(db DBTX) *LawnRepository {
	return &LawnRepository{db: db}
}

// lawnColumns defines the standard set of columns selected for lawn queries.
const lawnColumns = `id, name, location_lat, location_lon, grass_type,
	station_id, area_sqft, created_at, updated_at`

// Create inserts a new lawn record. Lawn names are unique; a duplicate name
// is reported as ErrCodeConflictLawnName.
func (r *LawnRepository) Create(ctx context.Context, lawn *types.Lawn) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO lawns (id, name, location_lat, location_lon, grass_type,
		 station_id, area_sqft, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()), COALESCE($8, NOW()))`,
		lawn.ID,
		lawn.Name,
		lawn.Location.Lat,
		lawn.Location.Lon,
		string(lawn.GrassType),
		nilIfEmptyString(lawn.StationID),
		lawn.AreaSqFt,
		nilIfZeroTime(lawn.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictLawnName, fmt.Sprintf("a lawn named %q already exists", lawn.Name), err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create lawn", err)
	}
	return nil
}

// GetByID retrieves a lawn by ID. Returns ErrCodeNotFoundLawn if no lawn
// with that ID exists.
func (r *LawnRepository) GetByID(ctx context.Context, id string) (*types.Lawn, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM lawns WHERE id = $1`, lawnColumns),
		id,
	)

	lawn, err := scanLawnRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundLawn, "lawn not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve lawn", err)
	}
	return lawn, nil
}

// ListLawnsParams defines filtering options for listing lawns.
type ListLawnsParams struct {
	Limit  int
	Cursor string
}

// List retrieves lawns ordered by creation time descending. The repo
// returns up to limit+1 rows; the handler detects pagination by the extra
// row and trims it before building the response.
func (r *LawnRepository) List(ctx context.Context, params ListLawnsParams) ([]*types.Lawn, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.Cursor != "" {
		cursorTime, err := time.Parse(time.RFC3339Nano, params.Cursor)
		if err != nil {
			return nil, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"invalid cursor format; expected RFC3339 timestamp",
				err,
			)
		}
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIdx))
		args = append(args, cursorTime)
		argIdx++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf(
		`SELECT %s FROM lawns %s ORDER BY created_at DESC LIMIT $%d`,
		lawnColumns,
		whereClause,
		argIdx,
	)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query lawns", err)
	}
	defer rows.Close()

	var results []*types.Lawn
	for rows.Next() {
		lawn, scanErr := scanLawn(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan lawn row", scanErr)
		}
		results = append(results, lawn)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating lawn rows", err)
	}

	return results, nil
}

// ListAll retrieves every lawn without pagination. Used by the ingestion
// poller and the scheduled evaluator, which fan out over all lawns.
func (r *LawnRepository) ListAll(ctx context.Context) ([]*types.Lawn, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM lawns ORDER BY created_at ASC`, lawnColumns),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query lawns", err)
	}
	defer rows.Close()

	var results []*types.Lawn
	for rows.Next() {
		lawn, scanErr := scanLawn(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan lawn row", scanErr)
		}
		results = append(results, lawn)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating lawn rows", err)
	}
	return results, nil
}

// Update overwrites the mutable fields of a lawn and bumps updated_at.
// Returns ErrCodeNotFoundLawn when the ID does not exist and
// ErrCodeConflictLawnName when the new name collides with another lawn.
func (r *LawnRepository) Update(ctx context.Context, lawn *types.Lawn) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE lawns SET name = $1, location_lat = $2, location_lon = $3,
		 grass_type = $4, station_id = $5, area_sqft = $6, updated_at = NOW()
		 WHERE id = $7`,
		lawn.Name,
		lawn.Location.Lat,
		lawn.Location.Lon,
		string(lawn.GrassType),
		nilIfEmptyString(lawn.StationID),
		lawn.AreaSqFt,
		lawn.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictLawnName, fmt.Sprintf("a lawn named %q already exists", lawn.Name), err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update lawn", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundLawn, "lawn not found", nil)
	}
	return nil
}

// Delete permanently removes a lawn. Postgres ON DELETE CASCADE removes its
// readings, applications, and recommendations.
func (r *LawnRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM lawns WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete lawn", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundLawn, "lawn not found", nil)
	}
	return nil
}

// scanLawn scans a lawn from pgx.Rows. Column order must match lawnColumns.
func scanLawn(rows pgx.Rows) (*types.Lawn, error) {
	var lawn types.Lawn
	var stationID *string
	err := rows.Scan(
		&lawn.ID,
		&lawn.Name,
		&lawn.Location.Lat,
		&lawn.Location.Lon,
		&lawn.GrassType,
		&stationID,
		&lawn.AreaSqFt,
		&lawn.CreatedAt,
		&lawn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if stationID != nil {
		lawn.StationID = *stationID
	}
	return &lawn, nil
}

// scanLawnRow scans a lawn from a single pgx.Row (for QueryRow).
// Column order must match lawnColumns.
func scanLawnRow(row pgx.Row) (*types.Lawn, error) {
	var lawn types.Lawn
	var stationID *string
	err := row.Scan(
		&lawn.ID,
		&lawn.Name,
		&lawn.Location.Lat,
		&lawn.Location.Lon,
		&lawn.GrassType,
		&stationID,
		&lawn.AreaSqFt,
		&lawn.CreatedAt,
		&lawn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if stationID != nil {
		lawn.StationID = *stationID
	}
	return &lawn, nil
}

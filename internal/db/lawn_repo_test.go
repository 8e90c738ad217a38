package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"turfwatch/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- LawnRepository Tests ---

func TestLawnRepository_Create_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLawnRepository(db)

	lawn := &types.Lawn{
		ID:        "lawn_1",
		Name:      "Back Yard",
		Location:  types.Location{Lat: 39.1, Lon: -84.5},
		GrassType: types.GrassTallFescue,
		StationID: "USCRN:OH_Batavia",
		AreaSqFt:  4500,
	}

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Create(context.Background(), lawn)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestLawnRepository_Create_DuplicateName(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLawnRepository(db)

	lawn := &types.Lawn{
		ID:        "lawn_2",
		Name:      "Back Yard",
		Location:  types.Location{Lat: 39.1, Lon: -84.5},
		GrassType: types.GrassKentuckyBluegrass,
	}

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), lawn)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictLawnName, appErr.Code)
	assert.Contains(t, appErr.Message, "Back Yard")
}

func TestLawnRepository_Create_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLawnRepository(db)

	lawn := &types.Lawn{
		ID:        "lawn_3",
		Name:      "Side Strip",
		GrassType: types.GrassBermuda,
	}

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	err := repo.Create(context.Background(), lawn)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestLawnRepository_GetByID_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLawnRepository(db)

	now := time.Now().UTC()
	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "lawn_found"
			*dest[1].(*string) = "Front Yard"
			*dest[2].(*float64) = 39.1
			*dest[3].(*float64) = -84.5
			*dest[4].(*types.GrassType) = types.GrassTallFescue
			station := "USCRN:OH_Batavia"
			*dest[5].(**string) = &station
			*dest[6].(*int) = 3200
			*dest[7].(*time.Time) = now
			*dest[8].(*time.Time) = now
			return nil
		},
	}

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(row)

	lawn, err := repo.GetByID(context.Background(), "lawn_found")
	require.NoError(t, err)
	assert.Equal(t, "lawn_found", lawn.ID)
	assert.Equal(t, "Front Yard", lawn.Name)
	assert.Equal(t, 39.1, lawn.Location.Lat)
	assert.Equal(t, -84.5, lawn.Location.Lon)
	assert.Equal(t, types.GrassTallFescue, lawn.GrassType)
	assert.Equal(t, "USCRN:OH_Batavia", lawn.StationID)
	assert.Equal(t, 3200, lawn.AreaSqFt)
	db.AssertExpectations(t)
}

func TestLawnRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLawnRepository(db)

	row := &mockRow{scanErr: pgx.ErrNoRows}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(row)

	lawn, err := repo.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.Nil(t, lawn)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundLawn, appErr.Code)
}

func TestLawnRepository_GetByID_NullStation(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLawnRepository(db)

	now := time.Now().UTC()
	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "lawn_nostation"
			*dest[1].(*string) = "Boulevard"
			*dest[2].(*float64) = 40.0
			*dest[3].(*float64) = -83.0
			*dest[4].(*types.GrassType) = types.GrassPerennialRyegrass
			// dest[5] (**string) left nil: station_id column is NULL
			*dest[6].(*int) = 800
			*dest[7].(*time.Time) = now
			*dest[8].(*time.Time) = now
			return nil
		},
	}

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(row)

	lawn, err := repo.GetByID(context.Background(), "lawn_nostation")
	require.NoError(t, err)
	assert.Empty(t, lawn.StationID)
}

func TestLawnRepository_List_DefaultLimitAndOrder(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLawnRepository(db)

	day1 := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)

	rows := newMockRows([][]any{
		{"lawn_b", "Newer", 39.0, -84.0, "tall_fescue", nil, 100, day2, day2},
		{"lawn_a", "Older", 39.0, -84.0, "tall_fescue", nil, 100, day1, day1},
	})

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			sql := args.Get(1).(string)
			assert.Contains(t, sql, "ORDER BY created_at DESC")
			queryArgs := args.Get(2).([]any)
			// Default limit 20 plus one pagination probe row.
			assert.Equal(t, 21, queryArgs[len(queryArgs)-1])
		}).
		Return(rows, nil)

	result, err := repo.List(context.Background(), ListLawnsParams{})
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, "lawn_b", result[0].ID)
	assert.Equal(t, "lawn_a", result[1].ID)
	db.AssertExpectations(t)
}

func TestLawnRepository_List_InvalidCursor(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLawnRepository(db)

	result, err := repo.List(context.Background(), ListLawnsParams{Cursor: "not-a-timestamp"})
	require.Error(t, err)
	assert.Nil(t, result)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)
	db.AssertNotCalled(t, "Query")
}

func TestLawnRepository_ListAll_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLawnRepository(db)

	day := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	rows := newMockRows([][]any{
		{"lawn_1", "One", 39.0, -84.0, "bermuda", "USCRN:TX_Austin", 2500, day, day},
	})

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	result, err := repo.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, types.GrassBermuda, result[0].GrassType)
	assert.Equal(t, "USCRN:TX_Austin", result[0].StationID)
	db.AssertExpectations(t)
}

func TestLawnRepository_Update_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLawnRepository(db)

	lawn := &types.Lawn{
		ID:        "missing",
		Name:      "Renamed",
		GrassType: types.GrassZoysia,
	}

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.Update(context.Background(), lawn)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundLawn, appErr.Code)
}

func TestLawnRepository_Update_DuplicateName(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLawnRepository(db)

	lawn := &types.Lawn{
		ID:        "lawn_1",
		Name:      "Taken",
		GrassType: types.GrassZoysia,
	}

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"})

	err := repo.Update(context.Background(), lawn)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictLawnName, appErr.Code)
}

func TestLawnRepository_Delete_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLawnRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 1"), nil)

	err := repo.Delete(context.Background(), "lawn_1")
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestLawnRepository_Delete_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLawnRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 0"), nil)

	err := repo.Delete(context.Background(), "missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundLawn, appErr.Code)
}

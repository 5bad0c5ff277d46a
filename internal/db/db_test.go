package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"medtrack/internal/types"
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

// --- Mock Rows ---

// mockRows yields one scanFn per row.
type mockRows struct {
	rows   []func(dest ...any) error
	idx    int
	closed bool
	errVal error
}

func newMockRows(rows ...func(dest ...any) error) *mockRows {
	return &mockRows{rows: rows, idx: -1}
}

func (r *mockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.rows)
}

func (r *mockRows) Scan(dest ...any) error                       { return r.rows[r.idx](dest...) }
func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.errVal }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

func pgTime(h, m int) pgtype.Time {
	return pgtype.Time{Microseconds: int64(h*60+m) * 60_000_000, Valid: true}
}

func scheduleRow(id, member int64, name string, start pgtype.Date, days int, timeID pgtype.Int8, at pgtype.Time) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*int64) = id
		*dest[1].(*int64) = member
		*dest[2].(*string) = name
		*dest[3].(*pgtype.Date) = start
		*dest[4].(*int) = days
		*dest[5].(*pgtype.Int8) = timeID
		*dest[6].(*pgtype.Time) = at
		return nil
	}
}

// --- ScheduleRepository ---

func TestScheduleRepository_ActiveSchedules_GroupsTimes(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepository(db)
	ctx := context.Background()

	start := pgtype.Date{Time: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), Valid: true}
	rows := newMockRows(
		scheduleRow(1, 7, "Metformin", start, 30, pgtype.Int8{Int64: 11, Valid: true}, pgTime(8, 0)),
		scheduleRow(1, 7, "Metformin", start, 30, pgtype.Int8{Int64: 12, Valid: true}, pgTime(20, 30)),
		scheduleRow(2, 7, "Vitamin D", pgtype.Date{}, 0, pgtype.Int8{}, pgtype.Time{}),
	)
	db.On("Query", ctx, mock.AnythingOfType("string"), []any{int64(7)}).Return(rows, nil)

	got, err := repo.ActiveSchedules(ctx, 7)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Metformin", got[0].Name)
	require.NotNil(t, got[0].StartDate)
	assert.True(t, got[0].Active)
	require.Len(t, got[0].IntakeTimes, 2)
	assert.Equal(t, "08:00", got[0].IntakeTimes[0].TimeOfDay.String())
	assert.Equal(t, "20:30", got[0].IntakeTimes[1].TimeOfDay.String())

	assert.Nil(t, got[1].StartDate)
	assert.Empty(t, got[1].IntakeTimes)
	assert.True(t, rows.closed)
	db.AssertExpectations(t)
}

func TestScheduleRepository_ActiveSchedules_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepository(db)

	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("conn reset"))

	_, err := repo.ActiveSchedules(context.Background(), 7)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestScheduleRepository_IntakeTaken(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepository(db)
	ctx := context.Background()

	day := time.Date(2026, 5, 4, 0, 0, 0, 0, time.FixedZone("KST", 9*3600))
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{int64(1), int64(11), day, day.Add(24 * time.Hour)}).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*bool) = true
			return nil
		}})

	taken, err := repo.IntakeTaken(ctx, 1, 11, day)
	require.NoError(t, err)
	assert.True(t, taken)
	db.AssertExpectations(t)
}

func TestScheduleRepository_MemberExists(t *testing.T) {
	tests := []struct {
		name    string
		scanErr error
		want    bool
		wantErr bool
	}{
		{"found", nil, true, false},
		{"missing", pgx.ErrNoRows, false, false},
		{"failure", errors.New("timeout"), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(mockDBTX)
			db.On("QueryRow", mock.Anything, mock.Anything, []any{int64(3)}).Return(&mockRow{scanErr: tt.scanErr})

			got, err := NewScheduleRepository(db).MemberExists(context.Background(), 3)
			if (err != nil) != tt.wantErr {
				t.Fatalf("MemberExists() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("MemberExists() = %v, want %v", got, tt.want)
			}
		})
	}
}

// --- DeviceTokenRepository ---

func TestDeviceTokenRepository_ListActive(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDeviceTokenRepository(db)
	ctx := context.Background()

	rows := newMockRows(func(dest ...any) error {
		*dest[0].(*int64) = 5
		*dest[1].(*int64) = 7
		*dest[2].(*string) = "tok-a"
		*dest[3].(*string) = "Pixel 9"
		return nil
	})
	db.On("Query", ctx, mock.AnythingOfType("string"), []any{int64(7)}).Return(rows, nil)

	got, err := repo.ListActive(ctx, 7)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.DeviceToken{ID: 5, MemberID: 7, Token: "tok-a", DeviceName: "Pixel 9", Active: true}, got[0])
}

func TestDeviceTokenRepository_ListActive_IterationError(t *testing.T) {
	db := new(mockDBTX)
	rows := newMockRows()
	rows.errVal = errors.New("broken pipe")
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(rows, nil)

	_, err := NewDeviceTokenRepository(db).ListActive(context.Background(), 7)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestDeviceTokenRepository_DeactivateAndTouch(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDeviceTokenRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{int64(5)}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil).Twice()

	require.NoError(t, repo.Deactivate(ctx, 5))
	require.NoError(t, repo.Touch(ctx, 5))
	db.AssertNumberOfCalls(t, "Exec", 2)
}

func TestDeviceTokenRepository_DeactivateError(t *testing.T) {
	db := new(mockDBTX)
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, errors.New("down"))

	err := NewDeviceTokenRepository(db).Deactivate(context.Background(), 5)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

// --- PreferenceRepository ---

func TestPreferenceRepository_Get(t *testing.T) {
	t.Run("stored settings", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", mock.Anything, mock.Anything, []any{int64(7)}).Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*bool) = true
			*dest[1].(*bool) = true
			*dest[2].(*pgtype.Time) = pgTime(22, 0)
			*dest[3].(*pgtype.Time) = pgTime(7, 0)
			return nil
		}})

		p, err := NewPreferenceRepository(db).Get(context.Background(), 7)
		require.NoError(t, err)
		assert.True(t, p.PushEnabled)
		assert.True(t, p.QuietHoursEnabled)
		require.NotNil(t, p.QuietStart)
		assert.Equal(t, "22:00", p.QuietStart.String())
		assert.Equal(t, "07:00", p.QuietEnd.String())
	})

	t.Run("no row falls back to defaults", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(&mockRow{scanErr: pgx.ErrNoRows})

		p, err := NewPreferenceRepository(db).Get(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, types.DefaultPreferences(), p)
	})

	t.Run("query failure", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(&mockRow{scanErr: errors.New("timeout")})

		_, err := NewPreferenceRepository(db).Get(context.Background(), 7)
		assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
	})
}

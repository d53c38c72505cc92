package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var attendanceColumns = []string{"id", "roll_no", "batch", "status", "reason", "recorded_at"}

func TestAttendanceLatestBetween(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	day := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM attendance_records").
		WithArgs("A1", "2024", day, day.Add(24*time.Hour)).
		WillReturnRows(sqlmock.NewRows(attendanceColumns).AddRow("att-1", "A1", "2024", "absent", "fever", day.Add(8*time.Hour)))

	rec, err := repo.LatestBetween(context.Background(), "A1", "2024", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "absent", rec.Status)
	assert.Equal(t, "fever", rec.Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceLatestBetweenNoRows(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectQuery("FROM attendance_records").WillReturnRows(sqlmock.NewRows(attendanceColumns))

	_, err := repo.LatestBetween(context.Background(), "A1", "2024", time.Now(), time.Now().Add(time.Hour))
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestAttendanceSince(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM attendance_records").
		WithArgs("A1", "2024", since).
		WillReturnRows(sqlmock.NewRows(attendanceColumns).
			AddRow("att-2", "A1", "2024", "present", "", since.AddDate(0, 1, 0)).
			AddRow("att-1", "A1", "2024", "absent", "sick", since))

	rows, err := repo.Since(context.Background(), "A1", "2024", since)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceSinceWrapsErrors(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectQuery("FROM attendance_records").WillReturnError(errors.New("timeout"))

	_, err := repo.Since(context.Background(), "A1", "2024", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attendance since")
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/student-portal-api/internal/models"
)

// AttendanceRepository serves the dashboard's attendance lookups, which span
// both present and absent rows.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository creates the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// LatestBetween returns the newest record in [from, to) or sql.ErrNoRows.
func (r *AttendanceRepository) LatestBetween(ctx context.Context, rollNumber, batch string, from, to time.Time) (*models.AttendanceRecord, error) {
	const query = `SELECT id, roll_no, batch, status, reason, recorded_at FROM attendance_records
WHERE roll_no = $1 AND batch = $2 AND recorded_at >= $3 AND recorded_at < $4
ORDER BY recorded_at DESC LIMIT 1`
	var rec models.AttendanceRecord
	if err := r.db.GetContext(ctx, &rec, query, rollNumber, batch, from.UTC(), to.UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("attendance for day: %w", err)
	}
	return &rec, nil
}

// Since returns every record on or after since, newest first.
func (r *AttendanceRepository) Since(ctx context.Context, rollNumber, batch string, since time.Time) ([]models.AttendanceRecord, error) {
	const query = `SELECT id, roll_no, batch, status, reason, recorded_at FROM attendance_records
WHERE roll_no = $1 AND batch = $2 AND recorded_at >= $3
ORDER BY recorded_at DESC`
	var rows []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &rows, query, rollNumber, batch, since.UTC()); err != nil {
		return nil, fmt.Errorf("attendance since: %w", err)
	}
	return rows, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/student-portal-api/internal/models"
)

// StudentProfileRepository resolves student details by login email.
type StudentProfileRepository struct {
	db *sqlx.DB
}

// NewStudentProfileRepository creates the repository.
func NewStudentProfileRepository(db *sqlx.DB) *StudentProfileRepository {
	return &StudentProfileRepository{db: db}
}

// FindByEmail returns the profile linked to email or sql.ErrNoRows.
func (r *StudentProfileRepository) FindByEmail(ctx context.Context, email string) (*models.StudentProfile, error) {
	const query = `SELECT email, roll_no, batch, name, place FROM student_profiles WHERE LOWER(email) = LOWER($1) LIMIT 1`
	var profile models.StudentProfile
	if err := r.db.GetContext(ctx, &profile, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find student profile: %w", err)
	}
	return &profile, nil
}

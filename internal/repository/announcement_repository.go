package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/student-portal-api/internal/models"
)

// AnnouncementRepository provides persistence for global announcements.
type AnnouncementRepository struct {
	db *sqlx.DB
}

// NewAnnouncementRepository creates the repository.
func NewAnnouncementRepository(db *sqlx.DB) *AnnouncementRepository {
	return &AnnouncementRepository{db: db}
}

// Latest returns the most recent announcements.
func (r *AnnouncementRepository) Latest(ctx context.Context, limit int) ([]models.Announcement, error) {
	if limit <= 0 {
		limit = 3
	}
	const query = `SELECT id, heading, content, kind, created_by, published_at FROM announcements ORDER BY published_at DESC LIMIT $1`
	var rows []models.Announcement
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("latest announcements: %w", err)
	}
	return rows, nil
}

// Create inserts a new announcement.
func (r *AnnouncementRepository) Create(ctx context.Context, ann *models.Announcement) error {
	if ann.ID == "" {
		ann.ID = uuid.NewString()
	}
	if ann.PublishedAt.IsZero() {
		ann.PublishedAt = time.Now().UTC()
	}
	if ann.Kind == "" {
		ann.Kind = "announcement"
	}
	const query = `INSERT INTO announcements (id, heading, content, kind, created_by, published_at)
VALUES (:id, :heading, :content, :kind, :created_by, :published_at)`
	if _, err := r.db.NamedExecContext(ctx, query, ann); err != nil {
		return fmt.Errorf("create announcement: %w", err)
	}
	return nil
}

package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/student-portal-api/internal/models"
)

// recordSpec describes where a category lives and which rows count as owned.
type recordSpec struct {
	table     string
	columns   string
	timeCol   string
	ownerCol  string
	predicate string
}

var recordSpecs = map[models.Category]recordSpec{
	models.CategoryAttendance: {
		table:     "attendance_records",
		columns:   "id, roll_no, batch, status, reason, recorded_at",
		timeCol:   "recorded_at",
		ownerCol:  "roll_no",
		predicate: "status = 'absent'",
	},
	models.CategoryResults: {
		table:    "result_records",
		columns:  "id, roll_no, subject, max_mark, obtained_mark, status, recorded_at",
		timeCol:  "recorded_at",
		ownerCol: "roll_no",
	},
	models.CategoryAchievements: {
		table:    "achievement_records",
		columns:  "id, roll_no, heading, image_url, recorded_at",
		timeCol:  "recorded_at",
		ownerCol: "roll_no",
	},
	models.CategoryNegatives: {
		table:    "negative_remarks",
		columns:  "id, roll_no, description, recorded_at",
		timeCol:  "recorded_at",
		ownerCol: "roll_no",
	},
	models.CategoryNotifications: {
		table:   "announcements",
		columns: "id, heading, content, kind, created_by, published_at",
		timeCol: "published_at",
	},
	models.CategoryProjects: {
		table:    "project_records",
		columns:  "id, roll_no, title, description, link, recorded_at",
		timeCol:  "recorded_at",
		ownerCol: "roll_no",
	},
}

const maxExportRows = 1000

// RecordRepository reads the six record categories. All filtering happens in
// SQL against the (owner, timestamp) indexes.
type RecordRepository struct {
	db *sqlx.DB
}

// NewRecordRepository creates the repository.
func NewRecordRepository(db *sqlx.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// CountSince counts owned records strictly newer than since. A nil since
// counts every owned record.
func (r *RecordRepository) CountSince(ctx context.Context, category models.Category, rollNumber string, since *time.Time) (int, error) {
	spec, ok := recordSpecs[category]
	if !ok {
		return 0, fmt.Errorf("unknown category %q", category)
	}
	where, args := spec.ownerClause(rollNumber)
	if since != nil {
		where = append(where, fmt.Sprintf("%s > $%d", spec.timeCol, len(args)+1))
		args = append(args, since.UTC())
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", spec.table, whereSQL(where))
	var total int
	if err := r.db.GetContext(ctx, &total, query, args...); err != nil {
		return 0, fmt.Errorf("count %s: %w", category, err)
	}
	return total, nil
}

// List returns one page of owned records, newest first.
func (r *RecordRepository) List(ctx context.Context, category models.Category, filter models.RecordFilter) (*models.RecordPage, error) {
	spec, ok := recordSpecs[category]
	if !ok {
		return nil, fmt.Errorf("unknown category %q", category)
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	where, args := spec.ownerClause(filter.RollNumber)
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s DESC LIMIT %d OFFSET %d",
		spec.columns, spec.table, whereSQL(where), spec.timeCol, size, offset)
	dest, items := destFor(category)
	if err := r.db.SelectContext(ctx, dest, query, args...); err != nil {
		return nil, fmt.Errorf("list %s: %w", category, err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", spec.table, whereSQL(where))
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, fmt.Errorf("count %s: %w", category, err)
	}
	return &models.RecordPage{Category: category, Items: items(), Total: total}, nil
}

// ListAll returns up to maxExportRows owned records, newest first.
func (r *RecordRepository) ListAll(ctx context.Context, category models.Category, rollNumber string) (interface{}, error) {
	spec, ok := recordSpecs[category]
	if !ok {
		return nil, fmt.Errorf("unknown category %q", category)
	}
	where, args := spec.ownerClause(rollNumber)
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s DESC LIMIT %d",
		spec.columns, spec.table, whereSQL(where), spec.timeCol, maxExportRows)
	dest, items := destFor(category)
	if err := r.db.SelectContext(ctx, dest, query, args...); err != nil {
		return nil, fmt.Errorf("list all %s: %w", category, err)
	}
	return items(), nil
}

func (s recordSpec) ownerClause(rollNumber string) ([]string, []interface{}) {
	var where []string
	var args []interface{}
	if s.ownerCol != "" {
		where = append(where, fmt.Sprintf("%s = $%d", s.ownerCol, len(args)+1))
		args = append(args, rollNumber)
	}
	if s.predicate != "" {
		where = append(where, s.predicate)
	}
	return where, args
}

func whereSQL(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conditions, " AND ")
}

// destFor returns a scan destination and an accessor for the filled slice.
func destFor(category models.Category) (interface{}, func() interface{}) {
	switch category {
	case models.CategoryAttendance:
		rows := []models.AttendanceRecord{}
		return &rows, func() interface{} { return rows }
	case models.CategoryResults:
		rows := []models.ResultRecord{}
		return &rows, func() interface{} { return rows }
	case models.CategoryAchievements:
		rows := []models.AchievementRecord{}
		return &rows, func() interface{} { return rows }
	case models.CategoryNegatives:
		rows := []models.NegativeRemark{}
		return &rows, func() interface{} { return rows }
	case models.CategoryNotifications:
		rows := []models.Announcement{}
		return &rows, func() interface{} { return rows }
	default:
		rows := []models.ProjectRecord{}
		return &rows, func() interface{} { return rows }
	}
}

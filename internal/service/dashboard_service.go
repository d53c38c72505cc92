package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/student-portal-api/internal/models"
)

type attendanceReader interface {
	LatestBetween(ctx context.Context, rollNumber, batch string, from, to time.Time) (*models.AttendanceRecord, error)
	Since(ctx context.Context, rollNumber, batch string, since time.Time) ([]models.AttendanceRecord, error)
}

type latestAnnouncements interface {
	Latest(ctx context.Context, limit int) ([]models.Announcement, error)
}

// UnreadSource yields the caller's current unread snapshot, normally the
// session tracker.
type UnreadSource interface {
	Refresh(ctx context.Context) (models.UnreadSnapshot, error)
}

// DashboardConfig tunes dashboard composition.
type DashboardConfig struct {
	StatsMonths       int
	AnnouncementLimit int
	Location          *time.Location
}

// DashboardService composes the landing page. Only the profile is required;
// every other section degrades to an empty value.
type DashboardService struct {
	profiles      profileResolver
	attendance    attendanceReader
	announcements latestAnnouncements
	logger        *zap.Logger
	cfg           DashboardConfig
	now           func() time.Time
}

// NewDashboardService constructs the service.
func NewDashboardService(profiles profileResolver, attendance attendanceReader, announcements latestAnnouncements, logger *zap.Logger, cfg DashboardConfig) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StatsMonths <= 0 {
		cfg.StatsMonths = 6
	}
	if cfg.AnnouncementLimit <= 0 {
		cfg.AnnouncementLimit = 3
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &DashboardService{
		profiles:      profiles,
		attendance:    attendance,
		announcements: announcements,
		logger:        logger,
		cfg:           cfg,
		now:           time.Now,
	}
}

// Summary builds the dashboard for principal.
func (s *DashboardService) Summary(ctx context.Context, principal models.Principal, unread UnreadSource) (*models.DashboardSummary, error) {
	profile, err := s.profiles.Resolve(ctx, principal)
	if err != nil {
		return nil, err
	}

	now := s.now().In(s.cfg.Location)
	summary := &models.DashboardSummary{
		Profile:             *profile,
		TodayAttendance:     models.AttendancePresent,
		RecentAnnouncements: []models.Announcement{},
		Unread:              models.EmptySnapshot(now.UTC()),
		GeneratedAt:         now.UTC(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		summary.TodayAttendance = s.todayStatus(gctx, profile, now)
		return nil
	})
	g.Go(func() error {
		items, err := s.announcements.Latest(gctx, s.cfg.AnnouncementLimit)
		if err != nil {
			s.logger.Warn("dashboard announcements unavailable", zap.Error(err))
			return nil
		}
		if items != nil {
			summary.RecentAnnouncements = items
		}
		return nil
	})
	g.Go(func() error {
		summary.AttendanceStats = s.attendanceStats(gctx, profile, now)
		return nil
	})
	if unread != nil {
		g.Go(func() error {
			snap, err := unread.Refresh(gctx)
			if err != nil {
				s.logger.Warn("dashboard unread counts unavailable", zap.String("user_id", principal.ID), zap.Error(err))
				return nil
			}
			summary.Unread = snap
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return summary, nil
}

func (s *DashboardService) todayStatus(ctx context.Context, profile *models.StudentProfile, now time.Time) string {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	record, err := s.attendance.LatestBetween(ctx, profile.RollNumber, profile.Batch, start, start.AddDate(0, 0, 1))
	if err != nil || record == nil || record.Status == "" {
		return models.AttendancePresent
	}
	return record.Status
}

func (s *DashboardService) attendanceStats(ctx context.Context, profile *models.StudentProfile, now time.Time) models.AttendanceStats {
	since := now.AddDate(0, -s.cfg.StatsMonths, 0)
	stats := models.AttendanceStats{Since: since.UTC()}

	records, err := s.attendance.Since(ctx, profile.RollNumber, profile.Batch, since)
	if err != nil {
		s.logger.Warn("dashboard attendance stats unavailable", zap.String("roll_number", profile.RollNumber), zap.Error(err))
		return stats
	}

	days := make(map[string]struct{}, len(records))
	for _, rec := range records {
		days[rec.RecordedAt.In(s.cfg.Location).Format("2006-01-02")] = struct{}{}
		if rec.Status == models.AttendanceAbsent {
			stats.Absent++
		}
	}
	stats.TotalDays = len(days)
	stats.Present = stats.TotalDays - stats.Absent
	if stats.Present < 0 {
		stats.Present = 0
	}
	return stats
}

package models

import "time"

// AttendanceStats summarises attendance over a trailing window.
type AttendanceStats struct {
	Present   int       `json:"present"`
	Absent    int       `json:"absent"`
	TotalDays int       `json:"total_days"`
	Since     time.Time `json:"since"`
}

// DashboardSummary is the landing page payload.
type DashboardSummary struct {
	Profile             StudentProfile  `json:"profile"`
	TodayAttendance     string          `json:"today_attendance"`
	RecentAnnouncements []Announcement  `json:"recent_announcements"`
	AttendanceStats     AttendanceStats `json:"attendance_stats"`
	Unread              UnreadSnapshot  `json:"unread"`
	GeneratedAt         time.Time       `json:"generated_at"`
}

// ExportRequest asks for a rendered copy of one category.
type ExportRequest struct {
	Format string `form:"format" validate:"omitempty,oneof=csv pdf"`
}

// ExportResponse points at a signed download.
type ExportResponse struct {
	URL       string    `json:"url"`
	Format    string    `json:"format"`
	ExpiresAt time.Time `json:"expires_at"`
}

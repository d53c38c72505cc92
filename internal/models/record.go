package models

import (
	"strconv"
	"time"
)

// Attendance statuses as written by the back office.
const (
	AttendancePresent = "present"
	AttendanceAbsent  = "absent"
)

// AttendanceRecord marks a student's attendance for one day.
type AttendanceRecord struct {
	ID         string    `db:"id" json:"id"`
	RollNumber string    `db:"roll_no" json:"roll_number"`
	Batch      string    `db:"batch" json:"batch"`
	Status     string    `db:"status" json:"status"`
	Reason     string    `db:"reason" json:"reason"`
	RecordedAt time.Time `db:"recorded_at" json:"date"`
}

// ResultRecord is an exam mark for one subject.
type ResultRecord struct {
	ID           string    `db:"id" json:"id"`
	RollNumber   string    `db:"roll_no" json:"roll_number"`
	Subject      string    `db:"subject" json:"subject"`
	MaxMark      float64   `db:"max_mark" json:"max_mark"`
	ObtainedMark float64   `db:"obtained_mark" json:"obtained_mark"`
	Status       string    `db:"status" json:"status"`
	RecordedAt   time.Time `db:"recorded_at" json:"date"`
}

// AchievementRecord is a positive recognition with an optional image.
type AchievementRecord struct {
	ID         string    `db:"id" json:"id"`
	RollNumber string    `db:"roll_no" json:"roll_number"`
	Heading    string    `db:"heading" json:"heading"`
	ImageURL   string    `db:"image_url" json:"image_url,omitempty"`
	RecordedAt time.Time `db:"recorded_at" json:"date"`
}

// NegativeRemark is a disciplinary note.
type NegativeRemark struct {
	ID          string    `db:"id" json:"id"`
	RollNumber  string    `db:"roll_no" json:"roll_number"`
	Description string    `db:"description" json:"description"`
	RecordedAt  time.Time `db:"recorded_at" json:"date"`
}

// Announcement is a school-wide notification visible to every student.
type Announcement struct {
	ID          string    `db:"id" json:"id"`
	Heading     string    `db:"heading" json:"heading"`
	Content     string    `db:"content" json:"content"`
	Kind        string    `db:"kind" json:"kind"`
	CreatedBy   *string   `db:"created_by" json:"created_by,omitempty"`
	PublishedAt time.Time `db:"published_at" json:"date"`
}

// ProjectRecord is a project assigned to or submitted by a student.
type ProjectRecord struct {
	ID          string    `db:"id" json:"id"`
	RollNumber  string    `db:"roll_no" json:"roll_number"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Link        string    `db:"link" json:"link,omitempty"`
	RecordedAt  time.Time `db:"recorded_at" json:"date"`
}

// RecordFilter narrows record listings to one owner, newest first.
type RecordFilter struct {
	RollNumber string
	Page       int
	PageSize   int
}

// RecordPage is a typed page of records for one category.
type RecordPage struct {
	Category Category    `json:"category"`
	Items    interface{} `json:"items"`
	Total    int         `json:"-"`
	// Status is set when the page is an empty state rather than a listing,
	// for example a caller without a student profile.
	Status *CategoryStatus `json:"status,omitempty"`
}

// ExportHeaders returns the tabular columns for a category export.
func ExportHeaders(c Category) []string {
	switch c {
	case CategoryAttendance:
		return []string{"Date", "Batch", "Status", "Reason"}
	case CategoryResults:
		return []string{"Date", "Subject", "Obtained", "Max", "Status"}
	case CategoryAchievements:
		return []string{"Date", "Heading"}
	case CategoryNegatives:
		return []string{"Date", "Description"}
	case CategoryNotifications:
		return []string{"Date", "Heading", "Content"}
	case CategoryProjects:
		return []string{"Date", "Title", "Description", "Link"}
	}
	return nil
}

const exportDateLayout = "2006-01-02"

// ExportRow flattens the record for CSV/PDF rendering.
func (r AttendanceRecord) ExportRow() map[string]string {
	return map[string]string{"Date": r.RecordedAt.Format(exportDateLayout), "Batch": r.Batch, "Status": r.Status, "Reason": r.Reason}
}

// ExportRow flattens the record for CSV/PDF rendering.
func (r ResultRecord) ExportRow() map[string]string {
	return map[string]string{
		"Date":     r.RecordedAt.Format(exportDateLayout),
		"Subject":  r.Subject,
		"Obtained": strconv.FormatFloat(r.ObtainedMark, 'f', -1, 64),
		"Max":      strconv.FormatFloat(r.MaxMark, 'f', -1, 64),
		"Status":   r.Status,
	}
}

// ExportRow flattens the record for CSV/PDF rendering.
func (r AchievementRecord) ExportRow() map[string]string {
	return map[string]string{"Date": r.RecordedAt.Format(exportDateLayout), "Heading": r.Heading}
}

// ExportRow flattens the record for CSV/PDF rendering.
func (r NegativeRemark) ExportRow() map[string]string {
	return map[string]string{"Date": r.RecordedAt.Format(exportDateLayout), "Description": r.Description}
}

// ExportRow flattens the record for CSV/PDF rendering.
func (r Announcement) ExportRow() map[string]string {
	return map[string]string{"Date": r.PublishedAt.Format(exportDateLayout), "Heading": r.Heading, "Content": r.Content}
}

// ExportRow flattens the record for CSV/PDF rendering.
func (r ProjectRecord) ExportRow() map[string]string {
	return map[string]string{"Date": r.RecordedAt.Format(exportDateLayout), "Title": r.Title, "Description": r.Description, "Link": r.Link}
}

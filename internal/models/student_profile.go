package models

// StudentProfile is the student record linked to a login email. It is
// resolved once per session and treated as immutable afterwards.
type StudentProfile struct {
	Email      string `db:"email" json:"email"`
	RollNumber string `db:"roll_no" json:"roll_number"`
	Batch      string `db:"batch" json:"batch"`
	Name       string `db:"name" json:"name"`
	Place      string `db:"place" json:"place"`
}

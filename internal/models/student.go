package models

import "time"

// Student is a trainee. Students are never deleted while assignments reference
// them; Active=false is the soft-deactivated state.
type Student struct {
	ID            string    `db:"id" json:"id"`
	UserID        *string   `db:"user_id" json:"user_id,omitempty"`
	StudentNumber string    `db:"student_number" json:"student_number"`
	FullName      string    `db:"full_name" json:"full_name"`
	Email         string    `db:"email" json:"email"`
	FacultyID     string    `db:"faculty_id" json:"faculty_id"`
	MajorID       string    `db:"major_id" json:"major_id"`
	LevelID       string    `db:"level_id" json:"level_id"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter captures list filters.
type StudentFilter struct {
	Search    string
	FacultyID string
	MajorID   string
	LevelID   string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

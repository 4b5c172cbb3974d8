package models

import "time"

// AssignmentStatus represents the lifecycle of an assignment.
type AssignmentStatus string

const (
	AssignmentStatusPending   AssignmentStatus = "PENDING"
	AssignmentStatusActive    AssignmentStatus = "ACTIVE"
	AssignmentStatusCompleted AssignmentStatus = "COMPLETED"
	AssignmentStatusCancelled AssignmentStatus = "CANCELLED"
)

// OccupyingStatuses are the statuses that hold a seat. Completed assignments
// keep their seat for historical capacity reporting.
var OccupyingStatuses = []AssignmentStatus{
	AssignmentStatusPending,
	AssignmentStatusActive,
	AssignmentStatusCompleted,
}

// Occupies reports whether an assignment in status s holds a seat.
func (s AssignmentStatus) Occupies() bool {
	for _, o := range OccupyingStatuses {
		if s == o {
			return true
		}
	}
	return false
}

// Live reports whether s counts toward the one-assignment-per-course rule.
func (s AssignmentStatus) Live() bool {
	return s != AssignmentStatusCancelled && s != ""
}

// Assignment links a student to a training group. Rows are never deleted;
// cancellation is a status change.
type Assignment struct {
	ID          string           `db:"id" json:"id"`
	StudentID   string           `db:"student_id" json:"student_id"`
	GroupID     string           `db:"group_id" json:"group_id"`
	CourseID    string           `db:"course_id" json:"course_id"`
	Status      AssignmentStatus `db:"status" json:"status"`
	AssignedAt  time.Time        `db:"assigned_at" json:"assigned_at"`
	CancelledAt *time.Time       `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CompletedAt *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
}

// AssignmentDetail enriches Assignment with student and group info.
type AssignmentDetail struct {
	Assignment
	StudentName   string   `db:"student_name" json:"student_name"`
	StudentNumber string   `db:"student_number" json:"student_number"`
	GroupName     string   `db:"group_name" json:"group_name"`
	CourseName    string   `db:"course_name" json:"course_name"`
	FinalGrade    *float64 `db:"final_grade" json:"final_grade,omitempty"`
}

// AssignmentFilter provides filters for listing assignments.
type AssignmentFilter struct {
	StudentID    string
	GroupID      string
	CourseID     string
	SupervisorID string
	Status       AssignmentStatus
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// TransferResult reports both sides of a completed transfer.
type TransferResult struct {
	Cancelled *Assignment `json:"cancelled"`
	Created   *Assignment `json:"created"`
}

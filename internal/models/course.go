package models

import "time"

// CourseStatus is the lifecycle state of a course.
type CourseStatus string

const (
	CourseStatusUpcoming  CourseStatus = "UPCOMING"
	CourseStatusActive    CourseStatus = "ACTIVE"
	CourseStatusCompleted CourseStatus = "COMPLETED"
	CourseStatusCancelled CourseStatus = "CANCELLED"
)

// Open reports whether registrations are accepted.
func (s CourseStatus) Open() bool {
	return s == CourseStatusUpcoming || s == CourseStatusActive
}

// Valid reports whether s is a known status.
func (s CourseStatus) Valid() bool {
	switch s {
	case CourseStatusUpcoming, CourseStatusActive, CourseStatusCompleted, CourseStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo encodes the allowed course lifecycle edges.
func (s CourseStatus) CanTransitionTo(next CourseStatus) bool {
	switch s {
	case CourseStatusUpcoming:
		return next == CourseStatusActive || next == CourseStatusCancelled
	case CourseStatusActive:
		return next == CourseStatusCompleted || next == CourseStatusCancelled
	default:
		return false
	}
}

// Course is a field-training course offered through one or more groups.
type Course struct {
	ID          string       `db:"id" json:"id"`
	Code        string       `db:"code" json:"code"`
	Name        string       `db:"name" json:"name"`
	Description string       `db:"description" json:"description"`
	Status      CourseStatus `db:"status" json:"status"`
	Archived    bool         `db:"archived" json:"archived"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
}

// CourseFilter captures list filters.
type CourseFilter struct {
	Search   string
	Status   CourseStatus
	Page     int
	PageSize int
}

// CourseTransitionResult summarises the assignment side effects of a status change.
type CourseTransitionResult struct {
	Course              *Course `json:"course"`
	AssignmentsAffected int64   `json:"assignments_affected"`
}

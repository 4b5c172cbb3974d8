package models

import "time"

// GroupStatus is the lifecycle state of a training group.
type GroupStatus string

const (
	GroupStatusUpcoming  GroupStatus = "UPCOMING"
	GroupStatusActive    GroupStatus = "ACTIVE"
	GroupStatusCompleted GroupStatus = "COMPLETED"
	GroupStatusCancelled GroupStatus = "CANCELLED"
)

// Open reports whether the group accepts registrations.
func (s GroupStatus) Open() bool {
	return s == GroupStatusUpcoming || s == GroupStatusActive
}

// Terminal reports whether the group can no longer change.
func (s GroupStatus) Terminal() bool {
	return s == GroupStatusCompleted || s == GroupStatusCancelled
}

// CanTransitionTo encodes the allowed group lifecycle edges.
func (s GroupStatus) CanTransitionTo(next GroupStatus) bool {
	switch s {
	case GroupStatusUpcoming:
		return next == GroupStatusActive || next == GroupStatusCancelled
	case GroupStatusActive:
		return next == GroupStatusCompleted || next == GroupStatusCancelled
	default:
		return false
	}
}

// TrainingGroup is a capacity-bounded offering of a course. StartDate is
// inclusive and EndDate exclusive.
type TrainingGroup struct {
	ID           string      `db:"id" json:"id"`
	CourseID     string      `db:"course_id" json:"course_id"`
	SupervisorID *string     `db:"supervisor_id" json:"supervisor_id,omitempty"`
	Name         string      `db:"name" json:"name"`
	Site         string      `db:"site" json:"site"`
	Capacity     int         `db:"capacity" json:"capacity"`
	StartDate    time.Time   `db:"start_date" json:"start_date"`
	EndDate      time.Time   `db:"end_date" json:"end_date"`
	Status       GroupStatus `db:"status" json:"status"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}

// GroupDetail enriches a group with its course and derived occupancy.
type GroupDetail struct {
	TrainingGroup
	CourseName        string       `db:"course_name" json:"course_name"`
	CourseStatus      CourseStatus `db:"course_status" json:"course_status"`
	CurrentEnrollment int          `db:"current_enrollment" json:"current_enrollment"`
	AvailableSeats    int          `db:"-" json:"available_seats"`
}

// GroupAvailability is the capacity read model served to clients.
type GroupAvailability struct {
	GroupID           string    `json:"group_id"`
	CourseID          string    `json:"course_id"`
	Capacity          int       `json:"capacity"`
	CurrentEnrollment int       `json:"current_enrollment"`
	AvailableSeats    int       `json:"available_seats"`
	HasCapacity       bool      `json:"has_capacity"`
	ComputedAt        time.Time `json:"computed_at"`
}

// GroupFilter captures list filters.
type GroupFilter struct {
	CourseID     string
	SupervisorID string
	Status       GroupStatus
	Page         int
	PageSize     int
}

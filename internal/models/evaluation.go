package models

import "time"

// Evaluation holds the graded outcome of an assignment.
type Evaluation struct {
	ID              string    `db:"id" json:"id"`
	AssignmentID    string    `db:"assignment_id" json:"assignment_id"`
	AttendanceGrade float64   `db:"attendance_grade" json:"attendance_grade"`
	BehaviorGrade   float64   `db:"behavior_grade" json:"behavior_grade"`
	FinalExamGrade  float64   `db:"final_exam_grade" json:"final_exam_grade"`
	FinalGrade      float64   `db:"final_grade" json:"final_grade"`
	EvaluatedBy     string    `db:"evaluated_by" json:"evaluated_by"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

package service

import (
	"fmt"
	"math"

	appErrors "github.com/noah-isme/field-training-api/pkg/errors"
)

// Fixed weights applied to evaluation sub-scores.
const (
	AttendanceWeight = 0.20
	BehaviorWeight   = 0.30
	FinalExamWeight  = 0.50

	minGrade = 0
	maxGrade = 100
)

// ComputeFinalGrade returns the weighted final grade. Sub-scores outside
// [0,100] are rejected rather than clamped. The result is not rounded.
func ComputeFinalGrade(attendance, behavior, finalExam float64) (float64, error) {
	for _, in := range []struct {
		field string
		value float64
	}{
		{"attendance_grade", attendance},
		{"behavior_grade", behavior},
		{"final_exam_grade", finalExam},
	} {
		if math.IsNaN(in.value) || in.value < minGrade || in.value > maxGrade {
			return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must be between %d and %d", in.field, minGrade, maxGrade))
		}
	}
	return attendance*AttendanceWeight + behavior*BehaviorWeight + finalExam*FinalExamWeight, nil
}

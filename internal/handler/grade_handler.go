package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/field-training-api/internal/service"
	appErrors "github.com/noah-isme/field-training-api/pkg/errors"
	"github.com/noah-isme/field-training-api/pkg/response"
)

type computeGradeRequest struct {
	AttendanceGrade *float64 `json:"attendance_grade" binding:"required"`
	BehaviorGrade   *float64 `json:"behavior_grade" binding:"required"`
	FinalExamGrade  *float64 `json:"final_exam_grade" binding:"required"`
}

// GradeHandler exposes the stateless grade calculator.
type GradeHandler struct{}

// NewGradeHandler constructs GradeHandler.
func NewGradeHandler() *GradeHandler {
	return &GradeHandler{}
}

// Compute godoc
// @Summary Compute a final grade
// @Description Weighted 20% attendance, 30% behavior, 50% final exam. Nothing is stored.
// @Tags Grades
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body computeGradeRequest true "Grades"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /grades/compute [post]
func (h *GradeHandler) Compute(c *gin.Context) {
	var req computeGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "all three grades are required"))
		return
	}
	final, err := service.ComputeFinalGrade(*req.AttendanceGrade, *req.BehaviorGrade, *req.FinalExamGrade)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"final_grade": final}, nil)
}

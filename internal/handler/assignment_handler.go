package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/field-training-api/internal/models"
	"github.com/noah-isme/field-training-api/internal/service"
	appErrors "github.com/noah-isme/field-training-api/pkg/errors"
	"github.com/noah-isme/field-training-api/pkg/response"
)

type assignmentService interface {
	List(ctx context.Context, actor models.Actor, filter models.AssignmentFilter) ([]models.AssignmentDetail, *models.Pagination, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.AssignmentDetail, error)
	CancelByID(ctx context.Context, actor models.Actor, id string) (*models.Assignment, error)
}

type evaluationService interface {
	Upsert(ctx context.Context, actor models.Actor, assignmentID string, req service.EvaluationRequest) (*models.Evaluation, error)
	Get(ctx context.Context, actor models.Actor, assignmentID string) (*models.Evaluation, error)
}

// AssignmentHandler exposes assignment reads, administrative cancellation
// and evaluations.
type AssignmentHandler struct {
	assignments assignmentService
	evaluations evaluationService
}

// NewAssignmentHandler constructs AssignmentHandler.
func NewAssignmentHandler(assignments assignmentService, evaluations evaluationService) *AssignmentHandler {
	return &AssignmentHandler{assignments: assignments, evaluations: evaluations}
}

// List godoc
// @Summary List assignments
// @Description Students only see their own assignments and supervisors those of their groups
// @Tags Assignments
// @Produce json
// @Security BearerAuth
// @Param studentId query string false "Filter by student"
// @Param groupId query string false "Filter by group"
// @Param courseId query string false "Filter by course"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /assignments [get]
func (h *AssignmentHandler) List(c *gin.Context) {
	filter := models.AssignmentFilter{
		StudentID: c.Query("studentId"),
		GroupID:   c.Query("groupId"),
		CourseID:  c.Query("courseId"),
		Status:    models.AssignmentStatus(strings.ToUpper(c.Query("status"))),
		SortBy:    c.Query("sort"),
		SortOrder: c.Query("order"),
	}
	filter.Page, filter.PageSize = pageParams(c)
	items, pagination, err := h.assignments.List(c.Request.Context(), actorFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get assignment
// @Tags Assignments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id} [get]
func (h *AssignmentHandler) Get(c *gin.Context) {
	item, err := h.assignments.Get(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Cancel godoc
// @Summary Cancel assignment by id
// @Tags Assignments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assignments/{id} [delete]
func (h *AssignmentHandler) Cancel(c *gin.Context) {
	assignment, err := h.assignments.CancelByID(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// PutEvaluation godoc
// @Summary Record assignment evaluation
// @Tags Assignments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assignment ID"
// @Param payload body service.EvaluationRequest true "Grades"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assignments/{id}/evaluation [put]
func (h *AssignmentHandler) PutEvaluation(c *gin.Context) {
	var req service.EvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	evaluation, err := h.evaluations.Upsert(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, evaluation, nil)
}

// GetEvaluation godoc
// @Summary Get assignment evaluation
// @Tags Assignments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/evaluation [get]
func (h *AssignmentHandler) GetEvaluation(c *gin.Context) {
	evaluation, err := h.evaluations.Get(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, evaluation, nil)
}

package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/field-training-api/internal/models"
	"github.com/noah-isme/field-training-api/internal/service"
	appErrors "github.com/noah-isme/field-training-api/pkg/errors"
	"github.com/noah-isme/field-training-api/pkg/response"
)

// SupervisorHandler exposes supervisor endpoints.
type SupervisorHandler struct {
	supervisors *service.SupervisorService
}

// NewSupervisorHandler constructs SupervisorHandler.
func NewSupervisorHandler(supervisors *service.SupervisorService) *SupervisorHandler {
	return &SupervisorHandler{supervisors: supervisors}
}

// List godoc
// @Summary List supervisors
// @Tags Supervisors
// @Produce json
// @Security BearerAuth
// @Param search query string false "Search by name or organization"
// @Param active query bool false "Filter by active state"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /supervisors [get]
func (h *SupervisorHandler) List(c *gin.Context) {
	filter := models.SupervisorFilter{
		Search: strings.TrimSpace(c.Query("search")),
		Active: boolQuery(c, "active"),
	}
	filter.Page, filter.PageSize = pageParams(c)
	supervisors, pagination, err := h.supervisors.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, supervisors, pagination)
}

// Get godoc
// @Summary Get supervisor
// @Tags Supervisors
// @Produce json
// @Security BearerAuth
// @Param id path string true "Supervisor ID"
// @Success 200 {object} response.Envelope
// @Router /supervisors/{id} [get]
func (h *SupervisorHandler) Get(c *gin.Context) {
	supervisor, err := h.supervisors.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, supervisor, nil)
}

// Create godoc
// @Summary Create supervisor
// @Tags Supervisors
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.SupervisorRequest true "Supervisor payload"
// @Success 201 {object} response.Envelope
// @Router /supervisors [post]
func (h *SupervisorHandler) Create(c *gin.Context) {
	var req service.SupervisorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	supervisor, err := h.supervisors.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, supervisor)
}

// Update godoc
// @Summary Update supervisor
// @Tags Supervisors
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Supervisor ID"
// @Param payload body service.SupervisorRequest true "Supervisor payload"
// @Success 200 {object} response.Envelope
// @Router /supervisors/{id} [put]
func (h *SupervisorHandler) Update(c *gin.Context) {
	var req service.SupervisorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	supervisor, err := h.supervisors.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, supervisor, nil)
}

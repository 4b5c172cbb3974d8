package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/field-training-api/internal/models"
	"github.com/noah-isme/field-training-api/pkg/response"
)

type activityLister interface {
	List(ctx context.Context, filter models.ActivityFilter) ([]models.ActivityEvent, *models.Pagination, error)
}

// ActivityHandler exposes the activity log.
type ActivityHandler struct {
	activity activityLister
}

// NewActivityHandler constructs ActivityHandler.
func NewActivityHandler(activity activityLister) *ActivityHandler {
	return &ActivityHandler{activity: activity}
}

// List godoc
// @Summary List activity events
// @Tags Activity
// @Produce json
// @Security BearerAuth
// @Param actorId query string false "Filter by actor"
// @Param entityType query string false "Filter by entity type"
// @Param entityId query string false "Filter by entity"
// @Param action query string false "Filter by action"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /activity [get]
func (h *ActivityHandler) List(c *gin.Context) {
	filter := models.ActivityFilter{
		ActorID:    c.Query("actorId"),
		EntityType: c.Query("entityType"),
		EntityID:   c.Query("entityId"),
		Action:     models.ActivityAction(strings.ToUpper(c.Query("action"))),
	}
	filter.Page, filter.PageSize = pageParams(c)
	events, pagination, err := h.activity.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, pagination)
}

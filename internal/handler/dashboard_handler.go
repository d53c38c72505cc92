package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/student-portal-api/internal/middleware"
	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/internal/service"
	"github.com/noah-isme/student-portal-api/pkg/response"
)

type dashboardService interface {
	Summary(ctx context.Context, principal models.Principal, unread service.UnreadSource) (*models.DashboardSummary, error)
}

// DashboardHandler serves the student landing page.
type DashboardHandler struct {
	service dashboardService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(svc dashboardService) *DashboardHandler {
	return &DashboardHandler{service: svc}
}

// Summary godoc
// @Summary Student dashboard
// @Description Profile, today's attendance, recent announcements, attendance stats and unread counts
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /dashboard [get]
func (h *DashboardHandler) Summary(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	var unread service.UnreadSource
	if sess, ok := middleware.CurrentSession(c); ok {
		unread = sess.Tracker
	}

	summary, err := h.service.Summary(c.Request.Context(), principal, unread)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, summary, middleware.ExtractMeta(c))
}

package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/student-portal-api/internal/models"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
	"github.com/noah-isme/student-portal-api/pkg/response"
)

type announcementService interface {
	Publish(ctx context.Context, author *models.Principal, req models.PublishAnnouncementRequest) (*models.Announcement, error)
}

// AnnouncementHandler lets staff publish announcements.
type AnnouncementHandler struct {
	service announcementService
}

// NewAnnouncementHandler constructs the handler.
func NewAnnouncementHandler(svc announcementService) *AnnouncementHandler {
	return &AnnouncementHandler{service: svc}
}

// Publish godoc
// @Summary Publish announcement
// @Description Creates a school-wide announcement, notifies open sessions and queues a push to every device
// @Tags Announcements
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.PublishAnnouncementRequest true "Announcement"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /announcements [post]
func (h *AnnouncementHandler) Publish(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req models.PublishAnnouncementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid announcement payload"))
		return
	}

	ann, err := h.service.Publish(c.Request.Context(), &principal, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, ann)
}

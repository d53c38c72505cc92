package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/student-portal-api/internal/models"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
	"github.com/noah-isme/student-portal-api/pkg/response"
)

type pushService interface {
	Register(ctx context.Context, principal models.Principal, req models.RegisterPushRequest) (*models.RegisterPushResponse, error)
	Unregister(ctx context.Context, principal models.Principal, token string) error
	SendTest(ctx context.Context, principal models.Principal) (*models.PushReport, error)
}

// PushHandler manages device push registrations.
type PushHandler struct {
	service pushService
}

// NewPushHandler constructs the handler.
func NewPushHandler(svc pushService) *PushHandler {
	return &PushHandler{service: svc}
}

// Register godoc
// @Summary Register push token
// @Description Stores the caller's push token. enabled=false means push is off on this deployment.
// @Tags Push
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.RegisterPushRequest true "Push token"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /push/subscriptions [post]
func (h *PushHandler) Register(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req models.RegisterPushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid push subscription payload"))
		return
	}
	req.UserAgent = c.GetHeader("User-Agent")

	res, err := h.service.Register(c.Request.Context(), principal, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !res.Enabled {
		response.OK(c, res)
		return
	}
	response.Created(c, res)
}

// Unregister godoc
// @Summary Remove push token
// @Tags Push
// @Security BearerAuth
// @Param token path string true "Push token"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /push/subscriptions/{token} [delete]
func (h *PushHandler) Unregister(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	if err := h.service.Unregister(c.Request.Context(), principal, c.Param("token")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Test godoc
// @Summary Send test push
// @Description Sends a test notification to the caller's own devices
// @Tags Push
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /push/test [post]
func (h *PushHandler) Test(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	report, err := h.service.SendTest(c.Request.Context(), principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}

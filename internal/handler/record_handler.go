package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/middleware"
	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/internal/service"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
	"github.com/noah-isme/student-portal-api/pkg/response"
)

type recordService interface {
	List(ctx context.Context, principal models.Principal, req service.RecordListRequest) (*models.RecordPage, *models.Pagination, error)
}

// RecordHandler serves the per-category record pages.
type RecordHandler struct {
	service recordService
	logger  *zap.Logger
}

// NewRecordHandler constructs the handler.
func NewRecordHandler(svc recordService, logger *zap.Logger) *RecordHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordHandler{service: svc, logger: logger}
}

// List godoc
// @Summary List records
// @Description Newest-first page of the caller's records. Opening the page marks the category read unless mark_read=false.
// @Tags Records
// @Produce json
// @Security BearerAuth
// @Param category path string true "attendance|results|achievements|negatives|notifications|projects"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size (max 100)"
// @Param mark_read query bool false "Mark the category read" default(true)
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /records/{category} [get]
func (h *RecordHandler) List(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	category, ok := categoryParam(c)
	if !ok {
		return
	}

	req := service.RecordListRequest{Category: category}
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid pagination"))
		return
	}
	markRead := true
	if raw := c.Query("mark_read"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "mark_read must be a boolean"))
			return
		}
		markRead = parsed
	}

	page, pagination, err := h.service.List(c.Request.Context(), principal, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	meta := middleware.ExtractMeta(c)
	if page.Status != nil {
		meta["status"] = page.Status
	}
	if sess, ok := middleware.CurrentSession(c); ok && markRead {
		snap, err := sess.Tracker.MarkRead(c.Request.Context(), category)
		if err != nil {
			h.logger.Warn("mark read on open failed", zap.String("user_id", principal.ID), zap.String("category", string(category)), zap.Error(err))
		}
		meta["unread"] = snap
	}

	response.Page(c, page.Items, pagination.Page, pagination.PageSize, pagination.TotalCount, meta)
}

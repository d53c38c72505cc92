package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/internal/service"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
	"github.com/noah-isme/student-portal-api/pkg/response"
)

type exportService interface {
	Export(ctx context.Context, principal models.Principal, category models.Category, format string) (*models.ExportResponse, error)
	Open(token string) (*service.ExportFile, error)
}

// ExportHandler renders record exports and serves signed downloads.
type ExportHandler struct {
	service exportService
	logger  *zap.Logger
}

// NewExportHandler constructs the handler.
func NewExportHandler(svc exportService, logger *zap.Logger) *ExportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportHandler{service: svc, logger: logger}
}

// Create godoc
// @Summary Export records
// @Description Renders the caller's records for a category and returns a signed download URL
// @Tags Exports
// @Produce json
// @Security BearerAuth
// @Param category path string true "Category"
// @Param format query string false "csv or pdf" default(csv)
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 501 {object} response.Envelope
// @Router /exports/{category} [post]
func (h *ExportHandler) Create(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	category, ok := categoryParam(c)
	if !ok {
		return
	}
	var req models.ExportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export format"))
		return
	}

	res, err := h.service.Export(c.Request.Context(), principal, category, req.Format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// Download godoc
// @Summary Download export
// @Description Streams a previously generated export. The token is the credential.
// @Tags Exports
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exports/download/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	file, err := h.service.Open(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.File.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	c.Header("Cache-Control", "no-store")
	c.Header("Content-Type", file.ContentType)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, file.File); err != nil {
		h.logger.Warn("export download interrupted", zap.String("file", file.Name), zap.Error(err))
	}
}

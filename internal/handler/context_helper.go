package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/student-portal-api/internal/middleware"
	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/internal/session"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
	"github.com/noah-isme/student-portal-api/pkg/response"
)

func principalFromContext(c *gin.Context) (models.Principal, bool) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Principal{}, false
	}
	return principal, true
}

func sessionFromContext(c *gin.Context) (*session.Session, bool) {
	sess, ok := middleware.CurrentSession(c)
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "session is not authenticated"))
		return nil, false
	}
	return sess, true
}

func categoryParam(c *gin.Context) (models.Category, bool) {
	category, err := models.ParseCategory(c.Param("category"))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "unknown record category"))
		return "", false
	}
	return category, true
}

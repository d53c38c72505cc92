package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/internal/session"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
	"github.com/noah-isme/student-portal-api/pkg/logger"
	"github.com/noah-isme/student-portal-api/pkg/response"
)

const (
	// ContextUserKey is the gin context key storing JWT claims.
	ContextUserKey = "currentUser"
	// ContextSessionKey holds the caller's *session.Session.
	ContextSessionKey = "currentSession"

	streamTokenParam = "access_token"
)

type tokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

type sessionAcquirer interface {
	Acquire(principal models.Principal) *session.Session
}

// JWT protects routes by requiring a valid bearer token. The caller's session
// is acquired (and re-authenticated) on every request.
func JWT(auth tokenValidator, sessions sessionAcquirer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			response.Error(c, err)
			return
		}
		authenticate(c, auth, sessions, token)
	}
}

// StreamJWT is JWT for EventSource clients, which cannot set headers. The
// token may come from the access_token query parameter instead.
func StreamJWT(auth tokenValidator, sessions sessionAcquirer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			token = c.Query(streamTokenParam)
		}
		if token == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			return
		}
		authenticate(c, auth, sessions, token)
	}
}

func authenticate(c *gin.Context, auth tokenValidator, sessions sessionAcquirer, token string) {
	claims, err := auth.ValidateToken(token)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(ContextUserKey, claims)
	c.Set(logger.ContextUserIDKey, claims.UserID)
	if sessions != nil {
		c.Set(ContextSessionKey, sessions.Acquire(claims.Principal()))
	}
	c.Next()
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", appErrors.ErrUnauthorized
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

// CurrentClaims returns the validated claims.
func CurrentClaims(c *gin.Context) (*models.JWTClaims, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*models.JWTClaims)
	return claims, ok && claims != nil
}

// CurrentPrincipal returns the authenticated principal.
func CurrentPrincipal(c *gin.Context) (models.Principal, bool) {
	claims, ok := CurrentClaims(c)
	if !ok {
		return models.Principal{}, false
	}
	return claims.Principal(), true
}

// CurrentSession returns the caller's session.
func CurrentSession(c *gin.Context) (*session.Session, bool) {
	v, ok := c.Get(ContextSessionKey)
	if !ok {
		return nil, false
	}
	sess, ok := v.(*session.Session)
	return sess, ok && sess != nil
}

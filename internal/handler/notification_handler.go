package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/middleware"
	"github.com/noah-isme/student-portal-api/internal/session"
	"github.com/noah-isme/student-portal-api/pkg/response"
)

const (
	eventCounts          = "counts"
	eventAnnouncement    = "announcement"
	eventUnauthenticated = "unauthenticated"
	eventPing            = "ping"
)

type streamMetrics interface {
	StreamOpened() func()
}

// NotificationHandler exposes unread counts, mark-read and the live stream.
type NotificationHandler struct {
	metrics   streamMetrics
	logger    *zap.Logger
	heartbeat time.Duration
}

// NewNotificationHandler constructs the handler.
func NewNotificationHandler(metrics streamMetrics, logger *zap.Logger, heartbeat time.Duration) *NotificationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &NotificationHandler{metrics: metrics, logger: logger, heartbeat: heartbeat}
}

// Counts godoc
// @Summary Unread counts
// @Description Recomputes every category. Failed categories report 0 with a transient status.
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /notifications/counts [get]
func (h *NotificationHandler) Counts(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}
	snap, err := sess.Tracker.Refresh(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, snap, middleware.ExtractMeta(c))
}

// MarkRead godoc
// @Summary Mark category read
// @Description Zeroes the category optimistically, records the read time and returns the reconciled counts
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Param category path string true "Category"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /notifications/{category}/read [post]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}
	category, ok := categoryParam(c)
	if !ok {
		return
	}
	snap, err := sess.Tracker.MarkRead(c.Request.Context(), category)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, snap, middleware.ExtractMeta(c))
}

// Stream godoc
// @Summary Live notification stream
// @Description Server-sent events: counts, announcement, unauthenticated and ping. EventSource clients may pass the token as access_token.
// @Tags Notifications
// @Produce text/event-stream
// @Security BearerAuth
// @Success 200 {string} string "event stream"
// @Failure 401 {object} response.Envelope
// @Router /notifications/stream [get]
func (h *NotificationHandler) Stream(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	snapshots, stopSnapshots := sess.Tracker.Subscribe()
	defer stopSnapshots()
	notices, stopNotices := sess.Announcements()
	defer stopNotices()
	if h.metrics != nil {
		defer h.metrics.StreamOpened()()
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent(eventCounts, sess.Tracker.Snapshot())
	c.Writer.Flush()
	go h.refresh(ctx, sess)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case snap, ok := <-snapshots:
			if !ok {
				c.SSEvent(eventUnauthenticated, gin.H{"redirect": "/login"})
				return false
			}
			c.SSEvent(eventCounts, snap)
			return true
		case ann, ok := <-notices:
			if !ok {
				c.SSEvent(eventUnauthenticated, gin.H{"redirect": "/login"})
				return false
			}
			c.SSEvent(eventAnnouncement, ann)
			go h.refresh(ctx, sess)
			return true
		case <-ticker.C:
			c.SSEvent(eventPing, time.Now().UTC().Unix())
			return true
		}
	})
}

func (h *NotificationHandler) refresh(ctx context.Context, sess *session.Session) {
	if _, err := sess.Tracker.Refresh(ctx); err != nil && ctx.Err() == nil {
		h.logger.Debug("stream refresh skipped", zap.String("user_id", sess.UserID), zap.Error(err))
	}
}

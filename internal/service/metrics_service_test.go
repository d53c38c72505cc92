package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/student-portal-api/internal/models"
)

func TestMetricsServiceCounters(t *testing.T) {
	m := NewMetricsService()
	m.RecordUnreadFailure(models.CategoryResults)
	m.RecordUnreadFailure(models.CategoryResults)
	m.RecordPush("delivered", 3)
	m.RecordPush("failed", 0)
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.unreadFailures.WithLabelValues("results")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.pushDeliveries.WithLabelValues("delivered")))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.cacheHitRatio))

	done := m.StreamOpened()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamClients))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.streamClients))
}

func TestMetricsServiceHandler(t *testing.T) {
	m := NewMetricsService()
	m.ObserveHTTPRequest(http.MethodGet, "/api/v1/notifications/counts", 200, 10*time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")

	var nilMetrics *MetricsService
	nilMetrics.RecordMarkRead(models.CategoryResults)
	w = httptest.NewRecorder()
	nilMetrics.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/student-portal-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	unreadFailures  *prometheus.CounterVec
	unreadDuration  prometheus.Observer
	markReads       *prometheus.CounterVec
	pushDeliveries  *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	streamClients   prometheus.Gauge

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	unreadFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "unread_category_failures_total",
		Help: "Per-category unread count failures",
	}, []string{"category"})

	unreadDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "unread_refresh_duration_seconds",
		Help:    "Duration of a full unread count refresh",
		Buckets: prometheus.DefBuckets,
	})

	markReads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "unread_mark_read_total",
		Help: "Categories marked read",
	}, []string{"category"})

	pushDeliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "push_deliveries_total",
		Help: "Push sends by outcome",
	}, []string{"outcome"})

	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sessions_active",
		Help: "In-memory sessions currently tracked",
	})

	streamClients := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notification_stream_clients",
		Help: "Open notification event streams",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		unreadFailures, unreadDuration, markReads, pushDeliveries, activeSessions, streamClients, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		unreadFailures:  unreadFailures,
		unreadDuration:  unreadDuration,
		markReads:       markReads,
		pushDeliveries:  pushDeliveries,
		activeSessions:  activeSessions,
		streamClients:   streamClients,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordUnreadFailure counts a category whose count could not be computed.
func (m *MetricsService) RecordUnreadFailure(category models.Category) {
	if m == nil {
		return
	}
	m.unreadFailures.WithLabelValues(string(category)).Inc()
}

// ObserveUnreadRefresh records the duration of one aggregate refresh.
func (m *MetricsService) ObserveUnreadRefresh(duration time.Duration) {
	if m == nil {
		return
	}
	m.unreadDuration.Observe(duration.Seconds())
}

// RecordMarkRead counts a ledger acknowledgment.
func (m *MetricsService) RecordMarkRead(category models.Category) {
	if m == nil {
		return
	}
	m.markReads.WithLabelValues(string(category)).Inc()
}

// RecordPush counts push sends. Outcome is delivered, pruned or failed.
func (m *MetricsService) RecordPush(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pushDeliveries.WithLabelValues(outcome).Add(float64(n))
}

// SetActiveSessions reports the tracked session count.
func (m *MetricsService) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// StreamOpened increments the open stream gauge and returns its decrement.
func (m *MetricsService) StreamOpened() func() {
	if m == nil {
		return func() {}
	}
	m.streamClients.Inc()
	return m.streamClients.Dec
}

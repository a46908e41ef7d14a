// Package metrics provides Prometheus metrics for the SightSync server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sightsync_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sightsync_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Remote API metrics
	remoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sightsync_remote_call_duration_seconds",
			Help:    "Remote API call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	remoteCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sightsync_remote_calls_total",
			Help: "Total remote API calls",
		},
		[]string{"operation", "status"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sightsync_retries_total",
			Help: "Total retry attempts by operation label",
		},
		[]string{"label"},
	)

	// Blob store metrics
	storeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sightsync_store_operation_duration_seconds",
			Help:    "Blob store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sightsync_store_operations_total",
			Help: "Total blob store operations",
		},
		[]string{"operation", "status"},
	)

	// Sync metrics
	assetsSyncedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sightsync_assets_synced_total",
			Help: "Assets processed by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	sessionActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sightsync_session_active",
			Help: "1 while an export session is running",
		},
	)

	sessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sightsync_session_duration_seconds",
			Help:    "Export session duration in seconds",
			Buckets: []float64{10, 30, 60, 300, 600, 1800, 3600, 7200},
		},
	)

	// Index metrics
	indexRebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sightsync_index_rebuild_duration_seconds",
			Help:    "Master index rebuild duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	indexAssets = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sightsync_index_assets",
			Help: "Assets in the master index by kind",
		},
		[]string{"kind"},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sightsync_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sightsync_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRemoteCall records one remote API call.
func RecordRemoteCall(operation string, duration time.Duration, success bool) {
	remoteCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	remoteCallsTotal.WithLabelValues(operation, status).Inc()
}

// RecordRetry records one retry attempt for a labeled operation.
func RecordRetry(label string) {
	retriesTotal.WithLabelValues(label).Inc()
}

// RecordStoreOperation records one blob store operation.
func RecordStoreOperation(operation string, duration time.Duration, success bool) {
	storeOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	storeOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordAssetSynced records the outcome of one processed asset.
func RecordAssetSynced(kind, outcome string) {
	assetsSyncedTotal.WithLabelValues(kind, outcome).Inc()
}

// SetSessionActive flips the active-session gauge.
func SetSessionActive(active bool) {
	if active {
		sessionActive.Set(1)
	} else {
		sessionActive.Set(0)
	}
}

// RecordSessionDuration records a finished session's wall time.
func RecordSessionDuration(d time.Duration) {
	sessionDuration.Observe(d.Seconds())
}

// RecordIndexRebuild records a full index rebuild duration.
func RecordIndexRebuild(d time.Duration) {
	indexRebuildDuration.Observe(d.Seconds())
}

// SetIndexAssets sets the per-kind asset count gauge.
func SetIndexAssets(kind string, count int) {
	indexAssets.WithLabelValues(kind).Set(float64(count))
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

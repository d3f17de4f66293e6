package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "journalsync_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "journalsync_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	syncPushesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "journalsync_sync_pushes_total",
		Help: "Total number of completed sync pushes.",
	})

	syncConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "journalsync_sync_conflicts_total",
		Help: "Total number of conflicts reported on push.",
	})

	inferenceRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "journalsync_inference_requests_total",
		Help: "Total number of inference requests by task.",
	}, []string{"task"})

	quotaRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "journalsync_quota_rejections_total",
		Help: "Total number of inference requests rejected over quota.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, syncPushesTotal,
		syncConflictsTotal, inferenceRequestsTotal, quotaRejectionsTotal)
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// metricsMiddleware records request metrics.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rr.statusCode)
		requestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(dur)
	})
}

package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aibridge_http_requests_total",
		Help: "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aibridge_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	// FilesUploaded counts successfully stored data items.
	FilesUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aibridge_files_uploaded_total",
		Help: "Data items successfully uploaded to object storage.",
	})

	// AnnotationsCompleted counts annotation submissions.
	AnnotationsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aibridge_annotations_completed_total",
		Help: "Annotations moved to completed status.",
	})

	// ReviewsRecorded counts review decisions by outcome.
	ReviewsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aibridge_reviews_total",
		Help: "Review decisions recorded, by decision.",
	}, []string{"decision"})

	// WebhookEvents counts processed payment webhook events by type.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aibridge_payment_webhook_events_total",
		Help: "Stripe webhook events processed, by type.",
	}, []string{"type"})

	// CacheHits tracks dashboard cache effectiveness.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aibridge_dashboard_cache_total",
		Help: "Dashboard cache lookups, by result.",
	}, []string{"result"})
)

// Instrument records request counts and latency per route.
func Instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the Prometheus registry.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Total HTTP requests partitioned by method, route, and status code
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	// Request duration in seconds partitioned by method, route, and status code
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// In-flight HTTP requests
	httpInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)

	// Submission outcomes as reported to clients
	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submissions_total",
			Help: "Prediction submissions partitioned by coordinator outcome",
		},
		[]string{"outcome"},
	)

	// Capacity level observations from status reads
	capacityLevelObservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capacity_level_observations_total",
			Help: "Capacity level observations partitioned by level",
		},
		[]string{"level"},
	)

	// Current overflow queue depth, refreshed by the drainer
	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "submission_queue_depth",
			Help: "Number of submissions buffered in the overflow queue",
		},
	)

	// Drained overflow submissions by result
	queueDrainedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submission_queue_drained_total",
			Help: "Overflow submissions drained, partitioned by result",
		},
		[]string{"result"},
	)
)

// RecordSubmissionOutcome counts one submission outcome
func RecordSubmissionOutcome(outcome string) {
	submissionsTotal.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// RecordCapacityLevel counts one capacity level observation
func RecordCapacityLevel(level string) {
	capacityLevelObservations.With(prometheus.Labels{"level": level}).Inc()
}

// SetQueueDepth publishes the current overflow queue depth
func SetQueueDepth(depth float64) {
	queueDepth.Set(depth)
}

// RecordQueueDrained counts drained submissions by result
func RecordQueueDrained(result string, count int) {
	if count <= 0 {
		return
	}
	queueDrainedTotal.With(prometheus.Labels{"result": result}).Add(float64(count))
}

// Metrics returns a Fiber v3 middleware that records basic Prometheus metrics.
// Labels are kept low-cardinality by using the matched route path when available.
func Metrics() fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		// Call the next handler in the chain
		err := c.Next()

		status := c.Response().StatusCode()
		method := c.Method()
		route := c.Path()
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path // Use route template to avoid high cardinality
		}

		labels := prometheus.Labels{
			"method": method,
			"route":  route,
			"status": strconv.Itoa(status),
		}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())

		return err
	}
}

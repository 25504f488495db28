package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cashflow",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP server request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint", "status"})

	httpInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cashflow",
		Name:      "http_in_flight_requests",
		Help:      "In-flight HTTP requests.",
	})
)

// GinMiddleware records request duration and in-flight gauges with
// low-cardinality endpoint labels.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		httpInFlight.Inc()
		start := time.Now()
		c.Next()
		httpInFlight.Dec()

		httpRequestDuration.
			WithLabelValues(endpoint, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

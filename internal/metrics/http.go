package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qxchain",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Count of HTTP requests served.",
	}, []string{"route", "method", "code"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "qxchain",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "code"})
)

// HTTP tracks metrics for the API server.
type HTTP struct{}

// NewHTTP creates an HTTP metrics collector.
func NewHTTP() *HTTP {
	return &HTTP{}
}

// ObserveRequest records one served request.
func (m HTTP) ObserveRequest(route, method string, code int, started time.Time) {
	if route == "" {
		route = "unknown"
	}
	labels := []string{route, method, strconv.Itoa(code)}
	httpRequestsTotal.WithLabelValues(labels...).Inc()
	httpRequestDuration.WithLabelValues(labels...).Observe(time.Since(started).Seconds())
}

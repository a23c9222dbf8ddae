package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	EchoOutcomeEchoed   = "echoed"
	EchoOutcomeRejected = "rejected"
	EchoOutcomeTooLarge = "too_large"
	EchoOutcomeFailed   = "failed"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "echoctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "echoctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	echoRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "echoctl",
			Subsystem: "echo",
			Name:      "requests_total",
			Help:      "Echo requests by outcome.",
		},
		[]string{"node", "outcome"},
	)
	echoBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "echoctl",
			Subsystem: "echo",
			Name:      "bytes_total",
			Help:      "Body bytes echoed back to clients.",
		},
		[]string{"node"},
	)
	echoBodySize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "echoctl",
			Subsystem: "echo",
			Name:      "body_size_bytes",
			Help:      "Size of echoed request bodies.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 8),
		},
		[]string{"node"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, echoRequests, echoBytes, echoBodySize)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordEcho counts one echo attempt; size is only observed for echoed bodies.
func RecordEcho(node, outcome string, size int) {
	RegisterMetrics()
	echoRequests.WithLabelValues(node, outcome).Inc()
	if outcome != EchoOutcomeEchoed {
		return
	}
	echoBytes.WithLabelValues(node).Add(float64(size))
	echoBodySize.WithLabelValues(node).Observe(float64(size))
}

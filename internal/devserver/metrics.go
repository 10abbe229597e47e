package devserver

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the collectors of one server. Each server has its own
// registry so several can run in one process.
type metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	chunks   prometheus.Counter
	errors   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eda_mock_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		chunks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "eda_mock_chunks_sent_total",
				Help: "Total message events streamed",
			},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eda_mock_stream_errors_total",
				Help: "Streams that ended without a done event",
			},
			[]string{"reason"}, // "simulated" or "disconnected"
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eda_mock_http_request_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{.001, .01, .05, .1, .5, 1, 5, 10},
			},
			[]string{"method", "path"},
		),
	}
	m.registry.MustRegister(m.requests, m.chunks, m.errors, m.duration)
	return m
}

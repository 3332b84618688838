// Package metrics holds the HTTP-level Prometheus metrics and the scrape handler.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the HTTP metrics for the application.
type Metrics struct {
	RequestDuration *prometheus.HistogramVec
	OpenStreams     prometheus.Gauge
}

var shared = sync.OnceValue(func() *Metrics {
	return &Metrics{
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shelfcheck_http_request_duration_seconds",
			Help:    "HTTP request latency by route, method and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		OpenStreams: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shelfcheck_http_open_event_streams",
			Help: "Currently connected availability event streams",
		}),
	}
})

// New returns the process-wide HTTP metrics.
func New() *Metrics {
	return shared()
}

func (m *Metrics) ObserveRequest(route, method, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(route, method, status).Observe(seconds)
}

func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.OpenStreams.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.OpenStreams.Dec()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

package actor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks instance lifecycle per registry.
type Metrics struct {
	Activations *prometheus.CounterVec
	Live        *prometheus.GaugeVec
}

var sharedMetrics = sync.OnceValue(func() *Metrics {
	return &Metrics{
		Activations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfcheck_actor_activations_total",
			Help: "Total number of actor instances activated",
		}, []string{"registry"}),
		Live: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shelfcheck_actor_live_instances",
			Help: "Current number of live actor instances",
		}, []string{"registry"}),
	}
})

// NewMetrics returns the process-wide actor metrics.
func NewMetrics() *Metrics {
	return sharedMetrics()
}

func (m *Metrics) incActivations(registry string) {
	if m == nil {
		return
	}
	m.Activations.WithLabelValues(registry).Inc()
}

func (m *Metrics) setLive(registry string, n int) {
	if m == nil {
		return
	}
	m.Live.WithLabelValues(registry).Set(float64(n))
}

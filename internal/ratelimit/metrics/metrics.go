package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks limiter admissions per partition.
type Metrics struct {
	Admitted     *prometheus.CounterVec
	Rejected     *prometheus.CounterVec
	WaitDuration *prometheus.HistogramVec
	Waiting      *prometheus.GaugeVec
}

var shared = sync.OnceValue(func() *Metrics {
	return &Metrics{
		Admitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfcheck_ratelimit_admitted_total",
			Help: "Total number of permits granted",
		}, []string{"partition"}),
		Rejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfcheck_ratelimit_rejected_total",
			Help: "Total number of acquisitions that did not get a permit",
		}, []string{"partition", "reason"}),
		WaitDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shelfcheck_ratelimit_wait_duration_seconds",
			Help:    "Time spent queued before a permit was granted",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"partition"}),
		Waiting: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shelfcheck_ratelimit_waiting",
			Help: "Current number of queued acquisitions",
		}, []string{"partition"}),
	}
})

// New returns the process-wide limiter metrics.
func New() *Metrics {
	return shared()
}

func (m *Metrics) ObserveAdmitted(partition string, wait time.Duration) {
	if m == nil {
		return
	}
	m.Admitted.WithLabelValues(partition).Inc()
	m.WaitDuration.WithLabelValues(partition).Observe(wait.Seconds())
}

func (m *Metrics) IncrementRejected(partition, reason string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(partition, reason).Inc()
}

func (m *Metrics) SetWaiting(partition string, n int64) {
	if m == nil {
		return
	}
	m.Waiting.WithLabelValues(partition).Set(float64(n))
}

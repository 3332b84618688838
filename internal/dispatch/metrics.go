package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	titlesHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shelfcheck_dispatch_titles_total",
		Help: "Titles handled by the dispatcher by outcome (duplicate, cached, executed, failed)",
	}, []string{"catalog", "outcome"})

	batchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shelfcheck_dispatch_batch_duration_seconds",
		Help:    "Time to drain one request batch",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"catalog"})
)

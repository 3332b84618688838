package lookup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var executions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "shelfcheck_lookup_executions_total",
	Help: "Lookup executions by catalog and outcome (queried, cached, failed)",
}, []string{"catalog", "outcome"})

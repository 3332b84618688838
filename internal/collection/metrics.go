package collection

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	slotsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shelfcheck_collection_slots_resolved_total",
		Help: "Availability slots filled from lookup results",
	}, []string{"catalog"})

	titlesRequested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shelfcheck_collection_titles_requested_total",
		Help: "Distinct titles published to the lookup request topic",
	}, []string{"catalog"})
)

package incidents

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	incidentsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsdesk",
			Subsystem: "incidents",
			Name:      "created_total",
			Help:      "Incidents created, by severity",
		},
		[]string{"severity"},
	)

	statusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsdesk",
			Subsystem: "incidents",
			Name:      "status_transitions_total",
			Help:      "Incident status transitions",
		},
		[]string{"from", "to"},
	)
)

package graph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	importsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pyrelate_imports_resolved_total",
		Help: "First-party imports or imported symbols resolved to a producer, by strategy",
	}, []string{"strategy"})

	importsUnresolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pyrelate_imports_unresolved_total",
		Help: "First-party imports or imported symbols left without a producer, by reason",
	}, []string{"reason"})
)

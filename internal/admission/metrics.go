package admission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// rejectionsTotal is the admission pipeline's own metric, grounded on
// internal/bus/bus.go's package-level promauto registration idiom so that
// constructing multiple Pipelines (as tests do) never double-registers a
// collector. Every rejection increments it with the low-cardinality reason
// label spec.md §4.7.1 requires.
var rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "admission_rejections_total",
	Help: "Total requests rejected by the admission pipeline, by reason.",
}, []string{"reason"})

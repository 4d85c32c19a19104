// Package metrics exposes the poller's ingestion counters to prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Archive outcome labels for the processed counter.
const (
	OutcomeIngested = "ingested"
	OutcomeRetried  = "retried"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// Ingest aggregates the pipeline's counters. One instance is shared by the
// poller and registered once at startup.
type Ingest struct {
	PollCycles    prometheus.Counter
	CycleDuration prometheus.Histogram
	Archives      *prometheus.CounterVec
	RowsAppended  *prometheus.CounterVec
}

// New registers and returns the ingestion metrics on reg. Passing
// prometheus.DefaultRegisterer wires the standard /metrics endpoint.
func New(reg prometheus.Registerer) *Ingest {
	factory := promauto.With(reg)
	return &Ingest{
		PollCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "bibitewatch_poll_cycles_total",
			Help: "Completed poll cycles.",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bibitewatch_poll_cycle_seconds",
			Help:    "Wall time of one poll cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		Archives: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bibitewatch_archives_total",
			Help: "Archives handled, by outcome.",
		}, []string{"outcome"}),
		RowsAppended: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bibitewatch_rows_appended_total",
			Help: "Table rows appended, by table.",
		}, []string{"table"}),
	}
}

// NewNop returns metrics bound to a throwaway registry, for tests and for
// callers that do not export metrics.
func NewNop() *Ingest {
	return New(prometheus.NewRegistry())
}

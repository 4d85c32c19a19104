package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAccumulate(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.PollCycles.Inc()
	m.PollCycles.Inc()
	m.Archives.WithLabelValues(OutcomeIngested).Inc()
	m.Archives.WithLabelValues(OutcomeRetried).Inc()
	m.RowsAppended.WithLabelValues("species").Add(2)
	m.RowsAppended.WithLabelValues("population").Add(5)

	if got := testutil.ToFloat64(m.PollCycles); got != 2 {
		t.Fatalf("poll cycles = %v", got)
	}
	if got := testutil.ToFloat64(m.Archives.WithLabelValues(OutcomeIngested)); got != 1 {
		t.Fatalf("ingested = %v", got)
	}
	if got := testutil.ToFloat64(m.RowsAppended.WithLabelValues("population")); got != 5 {
		t.Fatalf("population rows = %v", got)
	}
}

func TestNopMetricsAreIsolated(t *testing.T) {
	// Two nop instances must not collide on registration.
	a := NewNop()
	b := NewNop()
	a.PollCycles.Inc()
	if got := testutil.ToFloat64(b.PollCycles); got != 0 {
		t.Fatalf("nop metrics shared state: %v", got)
	}
}

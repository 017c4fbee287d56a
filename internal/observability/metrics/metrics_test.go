package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSchedulingMetricsRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulingMetrics(reg)

	m.ObserveOperation("book", "ok", 20*time.Millisecond)
	m.ObserveOperation("book", "conflict", 5*time.Millisecond)
	m.ObserveOperation("book", "ok", 10*time.Millisecond)
	m.ObserveQueueEvent("called")
	m.ObserveEmailFailure()

	if got := testutil.ToFloat64(m.operationsTotal.WithLabelValues("book", "ok")); got != 2 {
		t.Fatalf("expected 2 ok bookings, got %v", got)
	}
	if got := testutil.ToFloat64(m.operationsTotal.WithLabelValues("book", "conflict")); got != 1 {
		t.Fatalf("expected 1 conflict, got %v", got)
	}
	if got := testutil.ToFloat64(m.queueEvents.WithLabelValues("called")); got != 1 {
		t.Fatalf("expected 1 queue event, got %v", got)
	}
	if got := testutil.ToFloat64(m.emailFailures); got != 1 {
		t.Fatalf("expected 1 email failure, got %v", got)
	}
	if n := testutil.CollectAndCount(m.operationDuration); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *SchedulingMetrics
	m.ObserveOperation("book", "ok", time.Millisecond)
	m.ObserveQueueEvent("called")
	m.ObserveEmailFailure()
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulingMetrics exposes counters/histograms for orchestrator use cases.
type SchedulingMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	queueEvents       *prometheus.CounterVec
	emailFailures     prometheus.Counter
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "operations_total",
			Help:      "Total orchestrator use cases by outcome",
		}, []string{"operation", "outcome"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "operation_duration_seconds",
			Help:      "Latency of orchestrator use cases including the transaction",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		queueEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "queue",
			Name:      "events_total",
			Help:      "Queue transitions by event",
		}, []string{"event"}),
		emailFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "notify",
			Name:      "email_failures_total",
			Help:      "Notification emails that could not be delivered",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operationsTotal, m.operationDuration, m.queueEvents, m.emailFailures)
	return m
}

// ObserveOperation records one use case. outcome is "ok" or an error kind.
func (m *SchedulingMetrics) ObserveOperation(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *SchedulingMetrics) ObserveQueueEvent(event string) {
	if m == nil {
		return
	}
	m.queueEvents.WithLabelValues(event).Inc()
}

func (m *SchedulingMetrics) ObserveEmailFailure() {
	if m == nil {
		return
	}
	m.emailFailures.Inc()
}

package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the instrumentation emitted by the core services. A nil
// *Metrics is valid and turns every recording method into a no-op, which keeps
// test wiring short.
type Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	lockContention    prometheus.Counter
	heldLocks         prometheus.Gauge
	rollbacksTotal    prometheus.Counter
	notificationsSent prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "datahub_operations_total",
			Help: "Completed control plane operations partitioned by outcome.",
		}, []string{"operation", "result"}),
		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "datahub_operation_duration_seconds",
			Help:    "Wall clock duration of control plane operations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"operation"}),
		lockContention: factory.NewCounter(prometheus.CounterOpts{
			Name: "datahub_lock_contention_total",
			Help: "Lock acquisitions rejected because the item was already locked.",
		}),
		heldLocks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "datahub_held_locks",
			Help: "Locks currently held by this process.",
		}),
		rollbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "datahub_permission_rollbacks_total",
			Help: "Permission changes reverted after a downstream sync failure.",
		}),
		notificationsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "datahub_notifications_sent_total",
			Help: "Dataset change notifications published.",
		}),
	}
}

func (m *Metrics) observeOperation(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.operationsTotal.WithLabelValues(operation, result).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) lockAcquired() {
	if m == nil {
		return
	}
	m.heldLocks.Inc()
}

func (m *Metrics) lockReleased() {
	if m == nil {
		return
	}
	m.heldLocks.Dec()
}

func (m *Metrics) lockContended() {
	if m == nil {
		return
	}
	m.lockContention.Inc()
}

func (m *Metrics) rollbackPerformed() {
	if m == nil {
		return
	}
	m.rollbacksTotal.Inc()
}

func (m *Metrics) notificationPublished() {
	if m == nil {
		return
	}
	m.notificationsSent.Inc()
}

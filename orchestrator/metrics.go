package orchestrator

import (
	"time"

	"escrow-backend/core/escrow"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the orchestrator's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	writes     *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inflight   prometheus.Gauge
	reconciled *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them with reg when it is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "writes_total",
			Help:      "Ledger writes by operation and outcome.",
		}, []string{"op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "escrow",
			Name:      "write_duration_seconds",
			Help:      "Time from signing request to decoded event.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}, []string{"op"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "escrow",
			Name:      "writes_in_flight",
			Help:      "Writes currently holding a signer/contract guard.",
		}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "reconciler_events_total",
			Help:      "Events handled by the reconciler by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.writes, m.duration, m.inflight, m.reconciled)
	}
	return m
}

func (m *Metrics) observeWrite(op string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(escrow.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	m.writes.WithLabelValues(op, outcome).Inc()
	if err == nil {
		m.duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	}
}

func (m *Metrics) setInflight(n int) {
	if m == nil {
		return
	}
	m.inflight.Set(float64(n))
}

func (m *Metrics) reconcileResult(result string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(result).Inc()
}

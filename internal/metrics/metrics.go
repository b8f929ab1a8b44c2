// Package metrics exposes this engine's operational counters/gauges over
// Prometheus (orders, retries, reconciliation diffs, risk status). Grounded
// on r3e-network-service_layer's infrastructure/metrics.Metrics: one struct
// of pre-registered collectors built with NewWithRegistry, generalized from
// HTTP/DB/blockchain-service concerns to this engine's own named
// components.
package metrics

import (
	"github.com/basisdesk/engine/internal/types"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector this engine registers. OrdersTotal,
// ExecutionRetries and EventsDropped are registered, but no component in
// this module updates them; they stay at zero.
type Metrics struct {
	StepDuration       prometheus.Histogram
	OrdersTotal        *prometheus.CounterVec
	ExecutionRetries   prometheus.Counter
	ReconciliationDiff prometheus.Gauge
	RiskStatus         *prometheus.GaugeVec
	EventsDropped      prometheus.Counter
	EquityShareClass   prometheus.Gauge
	SystemFailures     prometheus.Counter
}

// New builds and registers every collector against the default registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry builds every collector and registers them against
// registerer, or leaves them unregistered if registerer is nil (tests).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		StepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_step_duration_seconds",
			Help:    "Duration of one full-loop timestep.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2, 5},
		}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_total",
			Help: "Orders processed by ExecutionManager, by venue and outcome.",
		}, []string{"venue", "status"}),
		ExecutionRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_execution_retries_total",
			Help: "Live-mode reconciliation retry attempts.",
		}),
		ReconciliationDiff: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_reconciliation_diff",
			Help: "Most recent PnLCalculator reconciliation diff (balance-based minus attribution).",
		}),
		RiskStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_risk_status",
			Help: "Per-risk-type severity (0=SAFE, 1=WARNING, 2=CRITICAL).",
		}, []string{"risk_type"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_events_dropped_total",
			Help: "Events dropped because EventLogger's high-water mark was exceeded.",
		}),
		EquityShareClass: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_equity_share_class",
			Help: "Most recent total value in the share class unit.",
		}),
		SystemFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_system_failures_total",
			Help: "SystemFailure errors raised by any component.",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.StepDuration,
			m.OrdersTotal,
			m.ExecutionRetries,
			m.ReconciliationDiff,
			m.RiskStatus,
			m.EventsDropped,
			m.EquityShareClass,
			m.SystemFailures,
		)
	}
	return m
}

// ObserveRisk sets the RiskStatus gauge for every assessed risk type.
func (m *Metrics) ObserveRisk(assessment types.RiskAssessment) {
	for riskType, a := range assessment.ByType {
		m.RiskStatus.WithLabelValues(riskType).Set(float64(a.Status.Severity()))
	}
}

// ObservePnL records the reconciliation diff. EquityShareClass is set by
// the caller, not here.
func (m *Metrics) ObservePnL(record types.PnLRecord) {
	m.ReconciliationDiff.Set(mustFloat(record.ReconciliationDiff))
}

func mustFloat(d interface{ Float64() (float64, bool) }) float64 {
	v, _ := d.Float64()
	return v
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks ledger call latency, outcomes and breaker state.
type Metrics struct {
	CallDuration *prometheus.HistogramVec
	CallOutcomes *prometheus.CounterVec
	BreakerOpen  prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		CallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vaxledger_ledger_call_duration_seconds",
			Help:    "Ledger call latency by operation",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"op"}),
		CallOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vaxledger_ledger_call_outcomes_total",
			Help: "Ledger call outcomes by operation and result",
		}, []string{"op", "result"}),
		BreakerOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vaxledger_ledger_breaker_open",
			Help: "1 while the ledger circuit breaker is open",
		}),
	}
}

func (m *Metrics) ObserveCall(op, result string, start time.Time) {
	if m == nil {
		return
	}
	m.CallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	m.CallOutcomes.WithLabelValues(op, result).Inc()
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// Metrics tracks reward checks and awards.
type Metrics struct {
	AwardOutcomes *prometheus.CounterVec
	Checks        *prometheus.CounterVec
	Distributed   prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		AwardOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vaxledger_reward_award_outcomes_total",
			Help: "Reward award attempts by outcome",
		}, []string{"outcome"}),
		Checks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vaxledger_reward_eligibility_checks_total",
			Help: "Reward eligibility checks by result",
		}, []string{"eligible"}),
		Distributed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vaxledger_reward_amount_distributed_total",
			Help: "Sum of reward amounts accepted by the ledger",
		}),
	}
}

func (m *Metrics) IncrementAward(outcome string) {
	if m == nil {
		return
	}
	m.AwardOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementCheck(eligible bool) {
	if m == nil {
		return
	}
	label := "false"
	if eligible {
		label = "true"
	}
	m.Checks.WithLabelValues(label).Inc()
}

func (m *Metrics) AddDistributed(amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.Distributed.Add(amount.InexactFloat64())
}

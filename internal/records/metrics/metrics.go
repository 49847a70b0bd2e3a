package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers ingestion throughput, anchoring outcomes and absorbed warnings.
type Metrics struct {
	EventsRecorded   prometheus.Counter
	SubmitDuration   prometheus.Histogram
	AnchorOutcomes   *prometheus.CounterVec
	Warnings         *prometheus.CounterVec
	DosesInitialized prometheus.Counter
	DosesCompleted   prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		EventsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vaxledger_immunization_events_recorded_total",
			Help: "Total number of immunization events persisted",
		}),
		SubmitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaxledger_immunization_submit_duration_seconds",
			Help:    "Duration of immunization submissions including the anchor wait",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		AnchorOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vaxledger_immunization_anchor_outcomes_total",
			Help: "Event anchoring outcomes by result",
		}, []string{"result"}),
		Warnings: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vaxledger_immunization_submit_warnings_total",
			Help: "Downstream failures absorbed during submission, by step",
		}, []string{"step"}),
		DosesInitialized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vaxledger_dose_statuses_initialized_total",
			Help: "Dose status rows created at registration",
		}),
		DosesCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vaxledger_dose_statuses_completed_total",
			Help: "Dose statuses transitioned to completed",
		}),
	}
}

func (m *Metrics) IncrementEventsRecorded() {
	if m == nil {
		return
	}
	m.EventsRecorded.Inc()
}

// ObserveSubmit records the duration of a Submit call started at start.
func (m *Metrics) ObserveSubmit(start time.Time) {
	if m == nil {
		return
	}
	m.SubmitDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementAnchorOutcome(result string) {
	if m == nil {
		return
	}
	m.AnchorOutcomes.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementWarning(step string) {
	if m == nil {
		return
	}
	m.Warnings.WithLabelValues(step).Inc()
}

func (m *Metrics) AddDosesInitialized(n int) {
	if m == nil {
		return
	}
	m.DosesInitialized.Add(float64(n))
}

func (m *Metrics) IncrementDosesCompleted() {
	if m == nil {
		return
	}
	m.DosesCompleted.Inc()
}

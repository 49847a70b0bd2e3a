package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks certificate issuance, rendering and storage.
type Metrics struct {
	IssueOutcomes  *prometheus.CounterVec
	RenderDuration prometheus.Histogram
	Uploads        *prometheus.CounterVec
	ProgressCache  *prometheus.CounterVec
	Transitions    *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		IssueOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vaxledger_certificate_issue_outcomes_total",
			Help: "Certificate issue results by type and outcome",
		}, []string{"type", "outcome"}),
		RenderDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaxledger_certificate_render_duration_seconds",
			Help:    "Time spent rendering certificate artifacts",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		Uploads: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vaxledger_certificate_uploads_total",
			Help: "Content store uploads by result",
		}, []string{"result"}),
		ProgressCache: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vaxledger_certificate_progress_cache_total",
			Help: "Progress certificate cache lookups by result",
		}, []string{"result"}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vaxledger_certificate_status_transitions_total",
			Help: "Certificate status promotions by target status",
		}, []string{"status"}),
	}
}

func (m *Metrics) IncrementIssue(certType, outcome string) {
	if m == nil {
		return
	}
	m.IssueOutcomes.WithLabelValues(certType, outcome).Inc()
}

func (m *Metrics) ObserveRender(start time.Time) {
	if m == nil {
		return
	}
	m.RenderDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementUpload(result string) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementCache(result string) {
	if m == nil {
		return
	}
	m.ProgressCache.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementTransition(status string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(status).Inc()
}

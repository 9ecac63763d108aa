package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors for the retrieval loop
type Metrics struct {
	records      *prometheus.CounterVec
	restarts     prometheus.Counter
	downloadWait prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which tests use to avoid global state.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "certflow_records_total",
			Help: "Records processed, by outcome.",
		}, []string{"outcome"}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "certflow_restarts_total",
			Help: "Supervised workflow restarts after a failure.",
		}),
		downloadWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "certflow_download_wait_seconds",
			Help:    "Time from triggering a download to the artifact being relocated.",
			Buckets: []float64{5, 10, 20, 30, 60, 90, 120, 180},
		}),
	}

	if reg != nil {
		reg.MustRegister(m.records, m.restarts, m.downloadWait)
	}
	return m
}

func (m *Metrics) recordOutcome(outcome string) {
	if m != nil {
		m.records.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) recordRestart() {
	if m != nil {
		m.restarts.Inc()
	}
}

func (m *Metrics) observeDownloadWait(seconds float64) {
	if m != nil {
		m.downloadWait.Observe(seconds)
	}
}

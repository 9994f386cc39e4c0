package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the crawl engine.
type Metrics struct {
	RequestsProcessed   *prometheus.CounterVec
	RequestsDiscovered  prometheus.Counter
	ProbeAttemptsFailed prometheus.Counter
	ErrorsTotal         *prometheus.CounterVec
	FrontierBacklog     prometheus.Gauge
	ProbeDuration       prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		RequestsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mapper_requests_processed_total",
			Help: "The total number of claimed requests that produced a crawl result",
		}, []string{"outcome"}), // 'probe', 'fallback', 'failed'
		RequestsDiscovered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mapper_requests_discovered_total",
			Help: "The total number of requests reported by probes",
		}),
		ProbeAttemptsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mapper_probe_attempts_failed_total",
			Help: "The total number of probe attempts that did not return a usable result",
		}),
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mapper_errors_total",
			Help: "The total number of errors recorded on crawl results",
		}, []string{"code"}),
		FrontierBacklog: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mapper_frontier_backlog",
			Help: "Current number of appended-but-unclaimed requests",
		}),
		ProbeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mapper_probe_duration_seconds",
			Help:    "Duration of complete probe round-trips, retries included",
			Buckets: []float64{1, 5, 10, 15, 30, 60, 120},
		}),
	}
}

// The helpers below are nil-safe so components can run without metrics,
// e.g. under test.

func (m *Metrics) IncProcessed(outcome string) {
	if m == nil {
		return
	}
	m.RequestsProcessed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddDiscovered(n int) {
	if m == nil {
		return
	}
	m.RequestsDiscovered.Add(float64(n))
}

func (m *Metrics) AddFailedAttempts(n int) {
	if m == nil {
		return
	}
	m.ProbeAttemptsFailed.Add(float64(n))
}

func (m *Metrics) IncError(code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(code).Inc()
}

func (m *Metrics) SetBacklog(n int) {
	if m == nil {
		return
	}
	m.FrontierBacklog.Set(float64(n))
}

func (m *Metrics) ObserveProbeDuration(seconds float64) {
	if m == nil {
		return
	}
	m.ProbeDuration.Observe(seconds)
}

package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs            *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	refreshed       prometheus.Counter
	integrityIssues prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker times a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the run outcome and duration and returns err untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddRefreshed counts documents whose status or aging changed during a refresh.
func (m *Metrics) AddRefreshed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.refreshed.Add(float64(n))
}

// SetIntegrityIssues records the discrepancies found by the latest integrity scan.
func (m *Metrics) SetIntegrityIssues(n int) {
	if m == nil {
		return
	}
	m.integrityIssues.Set(float64(n))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	refreshed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_subledger_documents_refreshed_total",
		Help: "Documents whose status or aging buckets changed during a scheduled refresh.",
	})
	issues := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "odyssey_ledger_integrity_issues",
		Help: "Discrepancies reported by the most recent ledger integrity scan.",
	})
	registerer.MustRegister(runs, duration, refreshed, issues)
	return &Metrics{runs: runs, duration: duration, refreshed: refreshed, integrityIssues: issues}
}

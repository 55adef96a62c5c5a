package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
)

// Metrics exposes Prometheus collectors for background jobs and the
// submission pipeline they drive.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	submissions *prometheus.CounterVec
	renumbers   *prometheus.CounterVec
	conflicts   *prometheus.CounterVec
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

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// ObserveSubmission counts one finished submission attempt.
func (m *Metrics) ObserveSubmission(class fiscal.Class, outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(string(class), outcome).Inc()
}

// ObserveRenumber counts a duplicate-sequence rejection that forced a new
// sequence number.
func (m *Metrics) ObserveRenumber(class fiscal.Class) {
	if m == nil {
		return
	}
	m.renumbers.WithLabelValues(string(class)).Inc()
}

// ObserveSequenceConflict counts a local allocation race lost to another
// writer.
func (m *Metrics) ObserveSequenceConflict(class fiscal.Class) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(string(class)).Inc()
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fiscal_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fiscal_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fiscal_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fiscal_submissions_total",
		Help: "Submissions partitioned by transaction class and outcome.",
	}, []string{"class", "outcome"})
	renumbers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fiscal_sequence_renumbers_total",
		Help: "Duplicate-sequence rejections resolved by allocating a new number.",
	}, []string{"class"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fiscal_sequence_conflicts_total",
		Help: "Sequence allocations retried after a concurrent writer took the number.",
	}, []string{"class"})
	registerer.MustRegister(runs, failures, duration, submissions, renumbers, conflicts)
	return &Metrics{
		runs:        runs,
		failures:    failures,
		duration:    duration,
		submissions: submissions,
		renumbers:   renumbers,
		conflicts:   conflicts,
	}
}

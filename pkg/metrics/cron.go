package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK     = "ok"
	outcomeFailed = "failed"
)

// CronJobMetrics tracks heal-worker cycles: per-job runs and latency, the last
// successful run per job, and cycles skipped because another instance held
// the lease.
type CronJobMetrics struct {
	runs        *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	skipped     prometheus.Counter
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return nil
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_cron_job_runs_total",
			Help: "Scheduled job runs by outcome.",
		}, []string{"job", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autopilot_cron_job_duration_seconds",
			Help:    "Wall time of scheduled job runs.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "autopilot_cron_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run.",
		}, []string{"job"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autopilot_cron_cycles_skipped_total",
			Help: "Cycles skipped because the scheduler lease was held elsewhere.",
		}),
	}
	reg.MustRegister(m.runs, m.latency, m.lastSuccess, m.skipped)
	return m
}

// ObserveRun records one job execution; a nil err counts as success.
func (c *CronJobMetrics) ObserveRun(job string, took time.Duration, err error) {
	if c == nil {
		return
	}
	job = normalizeLabel(job)
	c.latency.WithLabelValues(job).Observe(took.Seconds())
	if err != nil {
		c.runs.WithLabelValues(job, outcomeFailed).Inc()
		return
	}
	c.runs.WithLabelValues(job, outcomeOK).Inc()
	c.lastSuccess.WithLabelValues(job).SetToCurrentTime()
}

func (c *CronJobMetrics) IncCycleSkipped() {
	if c == nil {
		return
	}
	c.skipped.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

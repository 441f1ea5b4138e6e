package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HealMetrics tracks the audit-then-heal control loop.
type HealMetrics struct {
	findings  *prometheus.CounterVec
	redeploys *prometheus.CounterVec
	lastCycle prometheus.Gauge
}

// NewHealMetrics registers the heal metrics on the provided registerer.
func NewHealMetrics(reg prometheus.Registerer) *HealMetrics {
	if reg == nil {
		return &HealMetrics{}
	}
	findings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_audit_findings_total",
		Help: "Audit findings by entity type.",
	}, []string{"entity_type"})
	redeploys := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_redeploys_total",
		Help: "Redeploy attempts by outcome.",
	}, []string{"outcome"})
	lastCycle := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "autopilot_heal_last_cycle_timestamp_seconds",
		Help: "Unix time of the last completed heal cycle.",
	})
	reg.MustRegister(findings, redeploys, lastCycle)
	return &HealMetrics{
		findings:  findings,
		redeploys: redeploys,
		lastCycle: lastCycle,
	}
}

// AddFindings adds count findings for the entity type.
func (h *HealMetrics) AddFindings(entityType string, count int) {
	if h == nil || h.findings == nil || count <= 0 {
		return
	}
	h.findings.WithLabelValues(normalizeLabel(entityType)).Add(float64(count))
}

// IncRedeploy records a redeploy outcome (published, publish_failed, sold, error).
func (h *HealMetrics) IncRedeploy(outcome string) {
	if h == nil || h.redeploys == nil {
		return
	}
	h.redeploys.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// MarkCycle stamps the completion time of a cycle.
func (h *HealMetrics) MarkCycle(at time.Time) {
	if h == nil || h.lastCycle == nil {
		return
	}
	h.lastCycle.Set(float64(at.Unix()))
}

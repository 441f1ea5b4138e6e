package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics tracks the live checkout surface.
type PaymentMetrics struct {
	checkouts *prometheus.CounterVec
	webhooks  *prometheus.CounterVec
	downloads *prometheus.CounterVec
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_checkouts_total",
		Help: "Checkout attempts by result.",
	}, []string{"result"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_gateway_notifications_total",
		Help: "Gateway notifications by resulting order status.",
	}, []string{"status"})
	downloads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autopilot_downloads_total",
		Help: "Download attempts by result.",
	}, []string{"result"})
	reg.MustRegister(checkouts, webhooks, downloads)
	return &PaymentMetrics{
		checkouts: checkouts,
		webhooks:  webhooks,
		downloads: downloads,
	}
}

// IncCheckout records a checkout result (started, failed).
func (p *PaymentMetrics) IncCheckout(result string) {
	if p == nil || p.checkouts == nil {
		return
	}
	p.checkouts.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncNotification records a processed gateway notification. Duplicates are
// labelled "duplicate".
func (p *PaymentMetrics) IncNotification(status string) {
	if p == nil || p.webhooks == nil {
		return
	}
	p.webhooks.WithLabelValues(normalizeLabel(status)).Inc()
}

// IncDownload records a download result (served, denied, missing).
func (p *PaymentMetrics) IncDownload(result string) {
	if p == nil || p.downloads == nil {
		return
	}
	p.downloads.WithLabelValues(normalizeLabel(result)).Inc()
}

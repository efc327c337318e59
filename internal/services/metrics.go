// internal/services/metrics.go
package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

type BillingMetrics struct {
	checkouts *prometheus.CounterVec
	revenue   prometheus.Counter
	notices   *prometheus.CounterVec
	retries   prometheus.Counter
}

func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	m := &BillingMetrics{
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_checkouts_total",
			Help: "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		revenue: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_revenue_total",
			Help: "Sum of committed purchase totals.",
		}),
		notices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_invoice_notices_total",
			Help: "Invoice notification results by status.",
		}, []string{"status"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_checkout_retries_total",
			Help: "Checkout units of work retried after a lost stock race.",
		}),
	}
	reg.MustRegister(m.checkouts, m.revenue, m.notices, m.retries)
	return m
}

func (m *BillingMetrics) observeCheckout(outcome string, total float64) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		m.revenue.Add(total)
	}
}

func (m *BillingMetrics) observeNotice(status string) {
	if m == nil {
		return
	}
	m.notices.WithLabelValues(status).Inc()
}

func (m *BillingMetrics) observeRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

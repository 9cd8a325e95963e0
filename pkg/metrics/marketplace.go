package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MarketplaceMetrics counts order, payment and payout outcomes.
type MarketplaceMetrics struct {
	ordersCreated *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	payments      *prometheus.CounterVec
	settled       *prometheus.CounterVec
	withdrawals   *prometheus.CounterVec
	outbox        *prometheus.CounterVec
}

// NewMarketplaceMetrics registers the marketplace counters. A nil registerer
// yields a no-op recorder.
func NewMarketplaceMetrics(reg prometheus.Registerer) *MarketplaceMetrics {
	if reg == nil {
		return &MarketplaceMetrics{}
	}
	m := &MarketplaceMetrics{
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders persisted, by initial payment status.",
		}, []string{"payment_status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Accepted order status transitions.",
		}, []string{"from", "to"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_outcomes_total",
			Help: "Payment outcomes by source and result.",
		}, []string{"source", "outcome"}),
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "earnings_settled_cents_total",
			Help: "Earnings moved from pending to available, in cents.",
		}, []string{"role"}),
		withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "withdrawals_total",
			Help: "Withdrawal requests and resolutions by status.",
		}, []string{"status"}),
		outbox: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_total",
			Help: "Outbox rows handled by the relay, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.ordersCreated, m.transitions, m.payments, m.settled, m.withdrawals, m.outbox)
	return m
}

func (m *MarketplaceMetrics) IncOrderCreated(paymentStatus string) {
	if m == nil || m.ordersCreated == nil {
		return
	}
	m.ordersCreated.WithLabelValues(normalizeLabel(paymentStatus)).Inc()
}

func (m *MarketplaceMetrics) IncTransition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

// IncPayment records a payment outcome. Source is checkout, webhook or
// reconcile.
func (m *MarketplaceMetrics) IncPayment(source, outcome string) {
	if m == nil || m.payments == nil {
		return
	}
	m.payments.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

func (m *MarketplaceMetrics) AddSettled(role string, cents int64) {
	if m == nil || m.settled == nil || cents <= 0 {
		return
	}
	m.settled.WithLabelValues(normalizeLabel(role)).Add(float64(cents))
}

func (m *MarketplaceMetrics) IncWithdrawal(status string) {
	if m == nil || m.withdrawals == nil {
		return
	}
	m.withdrawals.WithLabelValues(normalizeLabel(status)).Inc()
}

// IncOutbox records a relay outcome: published, retry or dead_letter.
func (m *MarketplaceMetrics) IncOutbox(outcome string) {
	if m == nil || m.outbox == nil {
		return
	}
	m.outbox.WithLabelValues(normalizeLabel(outcome)).Inc()
}

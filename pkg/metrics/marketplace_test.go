package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestMarketplaceMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMarketplaceMetrics(reg)

	m.IncOrderCreated("completed")
	m.IncTransition("ready", "accepted")
	m.IncPayment("webhook", "succeeded")
	m.AddSettled("vendor", 2910)
	m.AddSettled("vendor", -5)
	m.IncWithdrawal("pending")
	m.IncOutbox("published")
	m.IncOutbox("published")

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got, err := fetchCounterValue(mfs, "orders_created_total", "payment_status", "completed")
	require.NoError(t, err)
	require.Equal(t, float64(1), got)

	got, err = fetchCounterValue(mfs, "order_transitions_total", "to", "accepted")
	require.NoError(t, err)
	require.Equal(t, float64(1), got)

	got, err = fetchCounterValue(mfs, "payment_outcomes_total", "source", "webhook")
	require.NoError(t, err)
	require.Equal(t, float64(1), got)

	got, err = fetchCounterValue(mfs, "earnings_settled_cents_total", "role", "vendor")
	require.NoError(t, err)
	require.Equal(t, float64(2910), got)

	got, err = fetchCounterValue(mfs, "withdrawals_total", "status", "pending")
	require.NoError(t, err)
	require.Equal(t, float64(1), got)

	got, err = fetchCounterValue(mfs, "outbox_events_total", "outcome", "published")
	require.NoError(t, err)
	require.Equal(t, float64(2), got)
}

func TestMarketplaceMetricsNilSafe(t *testing.T) {
	var m *MarketplaceMetrics
	m.IncOrderCreated("pending")
	m.IncTransition("a", "b")
	m.IncPayment("x", "y")
	m.AddSettled("rider", 10)
	m.IncWithdrawal("failed")
	m.IncOutbox("retry")

	NewMarketplaceMetrics(nil).IncTransition("a", "b")
}

package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusTerminal(t *testing.T) {
	for _, status := range OrderStatuses() {
		want := status == OrderStatusDelivered || status == OrderStatusCancelled
		assert.Equal(t, want, status.IsTerminal(), status.String())
	}
}

func TestParseOrderStatus(t *testing.T) {
	got, err := ParseOrderStatus("on_the_way")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusOnTheWay, got)

	_, err = ParseOrderStatus("teleported")
	require.Error(t, err)
}

func TestTransactionTypeSign(t *testing.T) {
	credits := []TransactionType{TransactionTypeCredit, TransactionTypeRefund, TransactionTypeEarning, TransactionTypeTopUp}
	debits := []TransactionType{TransactionTypeDebit, TransactionTypeWithdrawal, TransactionTypePayment}

	for _, tt := range credits {
		assert.Equal(t, int64(1), tt.Sign(), tt.String())
	}
	for _, tt := range debits {
		assert.Equal(t, int64(-1), tt.Sign(), tt.String())
	}
}

func TestParseCurrencyIgnoresCase(t *testing.T) {
	got, err := ParseCurrency(" USD ")
	require.NoError(t, err)
	assert.Equal(t, CurrencyUSD, got)
}

func TestActorRoleEarns(t *testing.T) {
	assert.True(t, ActorRoleVendor.Earns())
	assert.True(t, ActorRoleRider.Earns())
	assert.False(t, ActorRoleCustomer.Earns())
	assert.False(t, ActorRoleAdmin.Earns())
}

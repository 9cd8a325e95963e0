package orders

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
)

func TestTransitionWhitelistIsExhaustive(t *testing.T) {
	allowed := map[[2]enums.OrderStatus]bool{
		{enums.OrderStatusPending, enums.OrderStatusConfirmed}:   true,
		{enums.OrderStatusPending, enums.OrderStatusCancelled}:   true,
		{enums.OrderStatusConfirmed, enums.OrderStatusPreparing}: true,
		{enums.OrderStatusConfirmed, enums.OrderStatusCancelled}: true,
		{enums.OrderStatusPreparing, enums.OrderStatusReady}:     true,
		{enums.OrderStatusPreparing, enums.OrderStatusCancelled}: true,
		{enums.OrderStatusReady, enums.OrderStatusAccepted}:      true,
		{enums.OrderStatusReady, enums.OrderStatusCancelled}:     true,
		{enums.OrderStatusAccepted, enums.OrderStatusPickedUp}:   true,
		{enums.OrderStatusPickedUp, enums.OrderStatusOnTheWay}:   true,
		{enums.OrderStatusOnTheWay, enums.OrderStatusArrived}:    true,
		{enums.OrderStatusArrived, enums.OrderStatusDelivered}:   true,
	}

	for _, from := range enums.OrderStatuses() {
		for _, to := range enums.OrderStatuses() {
			want := allowed[[2]enums.OrderStatus{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestValidateTransitionNamesBothStates(t *testing.T) {
	err := ValidateTransition(enums.OrderStatusDelivered, enums.OrderStatusPending)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, pkgerrors.ReasonInvalidTransition, pkgerrors.ReasonOf(err))
	assert.Contains(t, err.Error(), "delivered")
	assert.Contains(t, err.Error(), "pending")

	err = ValidateTransition(enums.OrderStatusPending, enums.OrderStatus("teleported"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCancellationWindows(t *testing.T) {
	for _, status := range enums.OrderStatuses() {
		customer := status == enums.OrderStatusPending || status == enums.OrderStatusConfirmed || status == enums.OrderStatusPreparing
		assert.Equal(t, customer, CustomerCancellable(status), "customer %s", status)

		admin := !status.IsTerminal() && status != enums.OrderStatusArrived
		assert.Equal(t, admin, AdminCancellable(status), "admin %s", status)
	}
}

func TestAuthorizeMatrix(t *testing.T) {
	customerID, vendorID, riderID := uuid.New(), uuid.New(), uuid.New()
	order := &models.Order{CustomerID: customerID, VendorID: vendorID, RiderID: &riderID}

	cases := []struct {
		name   string
		actor  Actor
		target enums.OrderStatus
		ok     bool
	}{
		{"vendor prepares", Actor{vendorID, enums.ActorRoleVendor}, enums.OrderStatusPreparing, true},
		{"vendor marks ready", Actor{vendorID, enums.ActorRoleVendor}, enums.OrderStatusReady, true},
		{"vendor cannot deliver", Actor{vendorID, enums.ActorRoleVendor}, enums.OrderStatusDelivered, false},
		{"other vendor", Actor{uuid.New(), enums.ActorRoleVendor}, enums.OrderStatusPreparing, false},
		{"customer cancels", Actor{customerID, enums.ActorRoleCustomer}, enums.OrderStatusCancelled, true},
		{"customer cannot confirm", Actor{customerID, enums.ActorRoleCustomer}, enums.OrderStatusConfirmed, false},
		{"other customer", Actor{uuid.New(), enums.ActorRoleCustomer}, enums.OrderStatusCancelled, false},
		{"assigned rider picks up", Actor{riderID, enums.ActorRoleRider}, enums.OrderStatusPickedUp, true},
		{"assigned rider delivers", Actor{riderID, enums.ActorRoleRider}, enums.OrderStatusDelivered, true},
		{"other rider", Actor{uuid.New(), enums.ActorRoleRider}, enums.OrderStatusPickedUp, false},
		{"rider cannot cancel", Actor{riderID, enums.ActorRoleRider}, enums.OrderStatusCancelled, false},
		{"any rider may try to accept", Actor{uuid.New(), enums.ActorRoleRider}, enums.OrderStatusAccepted, true},
		{"admin", Actor{uuid.New(), enums.ActorRoleAdmin}, enums.OrderStatusReady, true},
		{"system", SystemActor, enums.OrderStatusConfirmed, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Authorize(order, tc.actor, tc.target)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
			assert.Equal(t, pkgerrors.ReasonNotAuthorized, pkgerrors.ReasonOf(err))
		})
	}
}

func TestVerifyDeliveryCode(t *testing.T) {
	order := &models.Order{DeliveryCode: "4821"}
	require.NoError(t, VerifyDeliveryCode(order, "4821"))

	for _, code := range []string{"", "4820", "48210"} {
		err := VerifyDeliveryCode(order, code)
		require.Error(t, err, code)
		assert.Equal(t, pkgerrors.ReasonCodeMismatch, pkgerrors.ReasonOf(err))
	}
}

func TestEarningsShare(t *testing.T) {
	riderID := uuid.New()
	order := &models.Order{SubtotalCents: 3000, DeliveryFeeCents: 1100, RiderID: &riderID}
	commission := decimal.NewFromInt(3)

	assert.Equal(t, int64(2910), EarningsShare(order, enums.ActorRoleVendor, commission))
	assert.Equal(t, int64(1100), EarningsShare(order, enums.ActorRoleRider, commission))
	assert.Equal(t, int64(0), EarningsShare(order, enums.ActorRoleCustomer, commission))

	id, ok := EarningsRecipient(order, enums.ActorRoleRider)
	assert.True(t, ok)
	assert.Equal(t, riderID, id)

	_, ok = EarningsRecipient(&models.Order{}, enums.ActorRoleRider)
	assert.False(t, ok)
}

func TestSettlementEligible(t *testing.T) {
	cutoff := time.Now().UTC()
	old := cutoff.Add(-time.Hour)
	base := func() *models.Order {
		return &models.Order{
			Status:        enums.OrderStatusDelivered,
			PaymentStatus: enums.PaymentStatusCompleted,
			UpdatedAt:     old,
			Items:         []models.OrderItem{{}},
		}
	}

	assert.True(t, SettlementEligible(base(), enums.ActorRoleVendor, cutoff))
	assert.True(t, SettlementEligible(base(), enums.ActorRoleRider, cutoff))

	fresh := base()
	fresh.UpdatedAt = cutoff.Add(time.Minute)
	assert.False(t, SettlementEligible(fresh, enums.ActorRoleVendor, cutoff))

	unpaid := base()
	unpaid.PaymentStatus = enums.PaymentStatusRefunded
	assert.False(t, SettlementEligible(unpaid, enums.ActorRoleVendor, cutoff))

	inFlight := base()
	inFlight.Status = enums.OrderStatusArrived
	assert.False(t, SettlementEligible(inFlight, enums.ActorRoleVendor, cutoff))

	vendorDone := base()
	vendorDone.Items[0].VendorWithdrawn = true
	assert.False(t, SettlementEligible(vendorDone, enums.ActorRoleVendor, cutoff))
	assert.True(t, SettlementEligible(vendorDone, enums.ActorRoleRider, cutoff))
}

package orders

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
	"github.com/angelmondragon/prepmarket-backend/pkg/money"
)

// transitions is the complete whitelist. Anything absent is rejected.
var transitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:   {enums.OrderStatusConfirmed, enums.OrderStatusCancelled},
	enums.OrderStatusConfirmed: {enums.OrderStatusPreparing, enums.OrderStatusCancelled},
	enums.OrderStatusPreparing: {enums.OrderStatusReady, enums.OrderStatusCancelled},
	enums.OrderStatusReady:     {enums.OrderStatusAccepted, enums.OrderStatusCancelled},
	enums.OrderStatusAccepted:  {enums.OrderStatusPickedUp},
	enums.OrderStatusPickedUp:  {enums.OrderStatusOnTheWay},
	enums.OrderStatusOnTheWay:  {enums.OrderStatusArrived},
	enums.OrderStatusArrived:   {enums.OrderStatusDelivered},
}

// Actor is whoever asks for a change.
type Actor struct {
	ID   uuid.UUID
	Role enums.ActorRole
}

// SystemActor is used by webhook reconciliation and background jobs.
var SystemActor = Actor{Role: enums.ActorRoleSystem}

func (a Actor) idPtr() *uuid.UUID {
	if a.ID == uuid.Nil {
		return nil
	}
	id := a.ID
	return &id
}

// CanTransition reports whether from → to is whitelisted.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition rejects anything outside the whitelist, naming both states.
func ValidateTransition(from, to enums.OrderStatus) error {
	if !to.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown order status %q", to))
	}
	if CanTransition(from, to) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot transition order from %s to %s", from, to)).
		WithReason(pkgerrors.ReasonInvalidTransition).
		WithDetails(map[string]any{"current": from, "attempted": to})
}

// CustomerCancellable lists where customers and vendors may still cancel.
func CustomerCancellable(status enums.OrderStatus) bool {
	switch status {
	case enums.OrderStatusPending, enums.OrderStatusConfirmed, enums.OrderStatusPreparing:
		return true
	default:
		return false
	}
}

// AdminCancellable allows force-cancel from any live state before the rider
// reaches the customer.
func AdminCancellable(status enums.OrderStatus) bool {
	return !status.IsTerminal() && status != enums.OrderStatusArrived
}

// Authorize checks that actor may move order to target. The whitelist is
// checked separately by ValidateTransition.
func Authorize(order *models.Order, actor Actor, target enums.OrderStatus) error {
	denied := func(msg string) error {
		return pkgerrors.New(pkgerrors.CodeForbidden, msg).WithReason(pkgerrors.ReasonNotAuthorized)
	}

	switch actor.Role {
	case enums.ActorRoleSystem, enums.ActorRoleAdmin:
		return nil
	case enums.ActorRoleCustomer:
		if order.CustomerID != actor.ID {
			return denied("order does not belong to this customer")
		}
		if target != enums.OrderStatusCancelled {
			return denied("customers may only cancel orders")
		}
		return nil
	case enums.ActorRoleVendor:
		if order.VendorID != actor.ID {
			return denied("order does not belong to this vendor")
		}
		switch target {
		case enums.OrderStatusPreparing, enums.OrderStatusReady, enums.OrderStatusCancelled:
			return nil
		}
		return denied(fmt.Sprintf("vendors may not move orders to %s", target))
	case enums.ActorRoleRider:
		if target == enums.OrderStatusAccepted {
			return nil
		}
		if order.RiderID == nil || *order.RiderID != actor.ID {
			return denied("order is not assigned to this rider")
		}
		switch target {
		case enums.OrderStatusPickedUp, enums.OrderStatusOnTheWay, enums.OrderStatusArrived, enums.OrderStatusDelivered:
			return nil
		}
		return denied(fmt.Sprintf("riders may not move orders to %s", target))
	default:
		return denied("unknown actor role")
	}
}

// CanView reports whether actor participates in the order.
func CanView(order *models.Order, actor Actor) bool {
	switch actor.Role {
	case enums.ActorRoleAdmin, enums.ActorRoleSystem:
		return true
	case enums.ActorRoleCustomer:
		return order.CustomerID == actor.ID
	case enums.ActorRoleVendor:
		return order.VendorID == actor.ID
	case enums.ActorRoleRider:
		return order.RiderID != nil && *order.RiderID == actor.ID
	default:
		return false
	}
}

// VerifyDeliveryCode compares in constant time.
func VerifyDeliveryCode(order *models.Order, code string) error {
	if code == "" || subtle.ConstantTimeCompare([]byte(order.DeliveryCode), []byte(code)) != 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "delivery code does not match").
			WithReason(pkgerrors.ReasonCodeMismatch)
	}
	return nil
}

// EarningsShare is what role earns from order: the vendor keeps the subtotal
// less the platform commission, the rider keeps the delivery fee.
func EarningsShare(order *models.Order, role enums.ActorRole, commissionPercent decimal.Decimal) int64 {
	switch role {
	case enums.ActorRoleVendor:
		return order.SubtotalCents - money.PercentOfCents(order.SubtotalCents, commissionPercent)
	case enums.ActorRoleRider:
		return order.DeliveryFeeCents
	default:
		return 0
	}
}

// EarningsRecipient returns who earns role's share of order, if anyone.
func EarningsRecipient(order *models.Order, role enums.ActorRole) (uuid.UUID, bool) {
	switch role {
	case enums.ActorRoleVendor:
		return order.VendorID, true
	case enums.ActorRoleRider:
		if order.RiderID == nil {
			return uuid.Nil, false
		}
		return *order.RiderID, true
	default:
		return uuid.Nil, false
	}
}

// SettlementEligible reports whether role's share of order may be released:
// delivered, paid, not yet withdrawn for that side, and last touched before
// cutoff.
func SettlementEligible(order *models.Order, role enums.ActorRole, cutoff time.Time) bool {
	if order.Status != enums.OrderStatusDelivered || order.PaymentStatus != enums.PaymentStatusCompleted {
		return false
	}
	if !order.UpdatedAt.Before(cutoff) || len(order.Items) == 0 {
		return false
	}
	for _, item := range order.Items {
		switch role {
		case enums.ActorRoleVendor:
			if !item.VendorWithdrawn {
				return true
			}
		case enums.ActorRoleRider:
			if !item.RiderWithdrawn {
				return true
			}
		}
	}
	return false
}

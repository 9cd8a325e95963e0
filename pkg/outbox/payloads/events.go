package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
)

// OrderCreatedEvent announces a persisted order.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	OrderNumber   string              `json:"order_number"`
	CustomerID    uuid.UUID           `json:"customer_id"`
	VendorID      uuid.UUID           `json:"vendor_id"`
	TotalCents    int64               `json:"total_cents"`
	Currency      enums.Currency      `json:"currency"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
}

// OrderStatusChangedEvent is emitted for every accepted state machine transition.
type OrderStatusChangedEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	From       enums.OrderStatus `json:"from"`
	To         enums.OrderStatus `json:"to"`
	ActorID    *uuid.UUID        `json:"actor_id,omitempty"`
	ActorRole  enums.ActorRole   `json:"actor_role"`
	RiderID    *uuid.UUID        `json:"rider_id,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// OrderPaidEvent is emitted once the processor confirms the charge.
type OrderPaidEvent struct {
	OrderID         uuid.UUID `json:"order_id"`
	PaymentIntentID string    `json:"payment_intent_id"`
	AmountCents     int64     `json:"amount_cents"`
	PaidAt          time.Time `json:"paid_at"`
}

// OrderPaymentFailedEvent is emitted when the processor reports a failed charge.
type OrderPaymentFailedEvent struct {
	OrderID         uuid.UUID `json:"order_id"`
	PaymentIntentID string    `json:"payment_intent_id"`
	Message         string    `json:"message,omitempty"`
}

// OrderCancelledEvent records who cancelled and whether money went back.
type OrderCancelledEvent struct {
	OrderID           uuid.UUID       `json:"order_id"`
	CancelledByID     *uuid.UUID      `json:"cancelled_by_id,omitempty"`
	CancelledByRole   enums.ActorRole `json:"cancelled_by_role"`
	Reason            string          `json:"reason,omitempty"`
	RefundAmountCents int64           `json:"refund_amount_cents"`
	CancelledAt       time.Time       `json:"cancelled_at"`
}

// OrderRefundedEvent records money returned outside the normal cancel path,
// such as a capture that landed after the order was cancelled.
type OrderRefundedEvent struct {
	OrderID           uuid.UUID `json:"order_id"`
	PaymentIntentID   string    `json:"payment_intent_id"`
	RefundAmountCents int64     `json:"refund_amount_cents"`
	Reason            string    `json:"reason"`
	RefundedAt        time.Time `json:"refunded_at"`
}

// EarningsSettledEvent summarizes one settlement batch for an actor.
type EarningsSettledEvent struct {
	UserID        uuid.UUID       `json:"user_id"`
	Role          enums.ActorRole `json:"role"`
	AmountCents   int64           `json:"amount_cents"`
	OrderIDs      []uuid.UUID     `json:"order_ids"`
	TransactionID uuid.UUID       `json:"transaction_id"`
}

// WithdrawalRequestedEvent asks the payout worker to move money to a bank.
type WithdrawalRequestedEvent struct {
	TransactionID uuid.UUID      `json:"transaction_id"`
	UserID        uuid.UUID      `json:"user_id"`
	AmountCents   int64          `json:"amount_cents"`
	FeeCents      int64          `json:"fee_cents"`
	PayoutCents   int64          `json:"payout_cents"`
	Currency      enums.Currency `json:"currency"`
	BankAccountID string         `json:"bank_account_id"`
}

// WithdrawalResolvedEvent reports the final state of a withdrawal.
type WithdrawalResolvedEvent struct {
	TransactionID uuid.UUID               `json:"transaction_id"`
	UserID        uuid.UUID               `json:"user_id"`
	Status        enums.TransactionStatus `json:"status"`
	Reason        string                  `json:"reason,omitempty"`
}

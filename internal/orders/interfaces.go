package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
	"github.com/angelmondragon/prepmarket-backend/pkg/outbox"
	"github.com/angelmondragon/prepmarket-backend/pkg/stripe"
)

// Repository defines persistence operations for orders and their timeline.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Order, error)
	ApplyTransition(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error)
	ClaimDelivery(ctx context.Context, id, riderID uuid.UUID) (bool, error)
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, from []enums.PaymentStatus, to enums.PaymentStatus) (bool, error)
	RecordRefund(ctx context.Context, id uuid.UUID, amountCents int64) (bool, error)
	AppendTimeline(ctx context.Context, entry *models.OrderTimelineEntry) error
	ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// EarningsRecorder books delivered-order shares as pending wallet balance.
type EarningsRecorder interface {
	AddPending(ctx context.Context, tx *gorm.DB, userID uuid.UUID, role enums.ActorRole, amountCents int64) error
}

// Refunder returns money for a captured payment intent.
type Refunder interface {
	Refund(ctx context.Context, paymentIntentID string, amountCents int64, idempotencyKey string) (*stripe.Refund, error)
}

// Notifier fans out in-app messages. Failures are the notifier's concern.
type Notifier interface {
	Notify(ctx context.Context, recipientID uuid.UUID, title, body string, data map[string]any)
}

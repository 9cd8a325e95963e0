package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/prepmarket-backend/pkg/db"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts the order with its items and any timeline entries.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.withDetail(ctx).Where("id = ?", id).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// LockByID loads the order row under FOR UPDATE on Postgres. Callers must be
// inside a transaction.
func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Order, error) {
	var order models.Order
	err := r.withDetail(ctx).Where("payment_intent_id = ?", paymentIntentID).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) withDetail(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Preload("Timeline", func(db *gorm.DB) *gorm.DB { return db.Order("sequence ASC") })
}

// ApplyTransition moves the order only if it is still in from. It reports
// false when another writer got there first.
func (r *repository) ApplyTransition(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error) {
	values := map[string]any{}
	for k, v := range updates {
		values[k] = v
	}
	values["status"] = to
	values["updated_at"] = time.Now().UTC()

	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ClaimDelivery assigns riderID if the order is ready and unassigned, in a
// single statement.
func (r *repository) ClaimDelivery(ctx context.Context, id, riderID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ? AND rider_id IS NULL", id, enums.OrderStatusReady).
		Updates(map[string]any{
			"rider_id":   riderID,
			"status":     enums.OrderStatusAccepted,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, from []enums.PaymentStatus, to enums.PaymentStatus) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("at least one source payment status is required")
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status IN ?", id, from).
		Updates(map[string]any{
			"payment_status": to,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// RecordRefund marks a captured payment as returned. It reports false when the
// payment is not in the completed state.
func (r *repository) RecordRefund(ctx context.Context, id uuid.UUID, amountCents int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status = ?", id, enums.PaymentStatusCompleted).
		Updates(map[string]any{
			"payment_status":      enums.PaymentStatusRefunded,
			"refund_amount_cents": amountCents,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AppendTimeline assigns the next sequence number. Callers hold the order's
// conditional update in the same transaction, so sequences do not race.
func (r *repository) AppendTimeline(ctx context.Context, entry *models.OrderTimelineEntry) error {
	var next int
	err := r.db.WithContext(ctx).
		Model(&models.OrderTimelineEntry{}).
		Select("COALESCE(MAX(sequence), 0) + 1").
		Where("order_id = ?", entry.OrderID).
		Scan(&next).Error
	if err != nil {
		return err
	}
	entry.Sequence = next
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListStaleProcessing returns orders whose payment still needs a processor
// lookup: unresolved intents on pending or cancelled orders, and captures on
// cancelled orders that were never refunded.
func (r *repository) ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("updated_at < ? AND payment_intent_id IS NOT NULL", cutoff).
		Where(
			r.db.Where("payment_status = ? AND status IN ?",
				enums.PaymentStatusProcessing, []enums.OrderStatus{enums.OrderStatusPending, enums.OrderStatusCancelled}).
				Or("payment_status = ? AND status = ?", enums.PaymentStatusCompleted, enums.OrderStatusCancelled),
		).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/prepmarket-backend/pkg/db"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
)

// Repository reads settleable orders and flips the per-side withdrawn flags.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListEligible(ctx context.Context, userID uuid.UUID, role enums.ActorRole, cutoff time.Time) ([]models.Order, error)
	ListEligibleActors(ctx context.Context, role enums.ActorRole, cutoff time.Time, limit int) ([]uuid.UUID, error)
	MarkWithdrawn(ctx context.Context, orderID uuid.UUID, role enums.ActorRole) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func roleColumns(role enums.ActorRole) (owner, flag string, err error) {
	switch role {
	case enums.ActorRoleVendor:
		return "vendor_id", "vendor_withdrawn", nil
	case enums.ActorRoleRider:
		return "rider_id", "rider_withdrawn", nil
	default:
		return "", "", fmt.Errorf("role %q does not earn from orders", role)
	}
}

func (r *repository) eligible(ctx context.Context, role enums.ActorRole, cutoff time.Time) (*gorm.DB, string, error) {
	owner, flag, err := roleColumns(role)
	if err != nil {
		return nil, "", err
	}
	q := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("orders.status = ? AND orders.payment_status = ? AND orders.updated_at < ?",
			enums.OrderStatusDelivered, enums.PaymentStatusCompleted, cutoff).
		Where(fmt.Sprintf("EXISTS (SELECT 1 FROM order_items oi WHERE oi.order_id = orders.id AND oi.%s = ?)", flag), false)
	return q, owner, nil
}

// ListEligible locks (on Postgres) and returns userID's settleable orders.
func (r *repository) ListEligible(ctx context.Context, userID uuid.UUID, role enums.ActorRole, cutoff time.Time) ([]models.Order, error) {
	q, owner, err := r.eligible(ctx, role, cutoff)
	if err != nil {
		return nil, err
	}
	var rows []models.Order
	err = db.ForUpdate(q.Where("orders."+owner+" = ?", userID)).
		Preload("Items").
		Order("orders.updated_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListEligibleActors(ctx context.Context, role enums.ActorRole, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	q, owner, err := r.eligible(ctx, role, cutoff)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 200
	}
	var ids []uuid.UUID
	err = q.Where("orders."+owner+" IS NOT NULL").
		Distinct("orders." + owner).
		Limit(limit).
		Pluck("orders."+owner, &ids).Error
	return ids, err
}

// MarkWithdrawn flips role's flag on every unflagged item of the order. Zero
// rows means a concurrent settlement already took the order.
func (r *repository) MarkWithdrawn(ctx context.Context, orderID uuid.UUID, role enums.ActorRole) (int64, error) {
	_, flag, err := roleColumns(role)
	if err != nil {
		return 0, err
	}
	res := r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("order_id = ? AND "+flag+" = ?", orderID, false).
		Update(flag, true)
	return res.RowsAffected, res.Error
}

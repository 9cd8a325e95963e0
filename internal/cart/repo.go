package cart

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/prepmarket-backend/internal/repo"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
)

// Repository reads and prunes customer cart lines.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Add(ctx context.Context, item *models.CartItem) error
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.CartItem, error)
	ListForVendor(ctx context.Context, customerID, vendorID uuid.UUID) ([]models.CartItem, error)
	DeleteItems(ctx context.Context, customerID uuid.UUID, ids []uuid.UUID) (int64, error)
	FindByMeal(ctx context.Context, customerID, mealID uuid.UUID) (*models.CartItem, error)
	SetQuantity(ctx context.Context, id uuid.UUID, quantity int) error
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) Add(ctx context.Context, item *models.CartItem) error {
	return r.DB(ctx).Create(item).Error
}

func (r *repository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.CartItem, error) {
	var rows []models.CartItem
	err := r.DB(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

// ListForVendor returns only the lines for vendorID. Orders never span vendors.
func (r *repository) ListForVendor(ctx context.Context, customerID, vendorID uuid.UUID) ([]models.CartItem, error) {
	var rows []models.CartItem
	err := r.DB(ctx).
		Where("customer_id = ? AND vendor_id = ?", customerID, vendorID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

// DeleteItems removes the given lines, scoped to the customer.
func (r *repository) DeleteItems(ctx context.Context, customerID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.DB(ctx).
		Where("customer_id = ? AND id IN ?", customerID, ids).
		Delete(&models.CartItem{})
	return res.RowsAffected, res.Error
}

func (r *repository) FindByMeal(ctx context.Context, customerID, mealID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	err := r.DB(ctx).
		Where("customer_id = ? AND meal_id = ?", customerID, mealID).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) SetQuantity(ctx context.Context, id uuid.UUID, quantity int) error {
	return r.DB(ctx).
		Model(&models.CartItem{}).
		Where("id = ?", id).
		Update("quantity", quantity).Error
}

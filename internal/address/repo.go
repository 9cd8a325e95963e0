package address

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/prepmarket-backend/internal/repo"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
)

// Repository persists saved customer addresses.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, address *models.Address) error
	ClearDefault(ctx context.Context, customerID uuid.UUID) error
	FindForCustomer(ctx context.Context, id, customerID uuid.UUID) (*models.Address, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Address, error)
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

func (r *repository) Create(ctx context.Context, address *models.Address) error {
	return r.DB(ctx).Create(address).Error
}

func (r *repository) ClearDefault(ctx context.Context, customerID uuid.UUID) error {
	return r.DB(ctx).
		Model(&models.Address{}).
		Where("customer_id = ? AND is_default = ?", customerID, true).
		Update("is_default", false).Error
}

func (r *repository) FindForCustomer(ctx context.Context, id, customerID uuid.UUID) (*models.Address, error) {
	var address models.Address
	err := r.DB(ctx).
		Where("id = ? AND customer_id = ?", id, customerID).
		First(&address).Error
	if err != nil {
		return nil, err
	}
	return &address, nil
}

func (r *repository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Address, error) {
	var rows []models.Address
	err := r.DB(ctx).
		Where("customer_id = ?", customerID).
		Order("is_default DESC, created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

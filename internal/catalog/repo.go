package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/prepmarket-backend/internal/repo"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
)

// MealPrice is the snapshot taken when an order is created.
type MealPrice struct {
	MealID     uuid.UUID
	VendorID   uuid.UUID
	Name       string
	PriceCents int64
	Available  bool
}

// Repository is the read side of the catalog plus the denormalized counters
// bumped after each order.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	GetMealPrice(ctx context.Context, mealID uuid.UUID) (*MealPrice, error)
	FindVendor(ctx context.Context, vendorID uuid.UUID) (*models.Vendor, error)
	RecordOrder(ctx context.Context, order *models.Order) error
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

func (r *repository) GetMealPrice(ctx context.Context, mealID uuid.UUID) (*MealPrice, error) {
	var meal models.Meal
	err := r.DB(ctx).Where("id = ?", mealID).First(&meal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "meal not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load meal")
	}
	return &MealPrice{
		MealID:     meal.ID,
		VendorID:   meal.VendorID,
		Name:       meal.Name,
		PriceCents: meal.PriceCents,
		Available:  meal.IsAvailable,
	}, nil
}

func (r *repository) FindVendor(ctx context.Context, vendorID uuid.UUID) (*models.Vendor, error) {
	var vendor models.Vendor
	err := r.DB(ctx).Where("id = ? AND is_active = ?", vendorID, true).First(&vendor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "vendor not found").
				WithReason(pkgerrors.ReasonVendorNotFound)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load vendor")
	}
	return &vendor, nil
}

// RecordOrder bumps customer, vendor and per-meal counters for order.
// Counters are approximate; callers log and ignore failures.
func (r *repository) RecordOrder(ctx context.Context, order *models.Order) error {
	db := r.DB(ctx)

	res := db.Model(&models.CustomerProfile{}).
		Where("id = ?", order.CustomerID).
		Updates(map[string]any{
			"orders_count":      gorm.Expr("orders_count + 1"),
			"total_spent_cents": gorm.Expr("total_spent_cents + ?", order.TotalCents),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		profile := models.CustomerProfile{ID: order.CustomerID, OrdersCount: 1, TotalSpentCents: order.TotalCents}
		if err := db.Create(&profile).Error; err != nil {
			return err
		}
	}

	if err := db.Model(&models.Vendor{}).
		Where("id = ?", order.VendorID).
		Update("orders_count", gorm.Expr("orders_count + 1")).Error; err != nil {
		return err
	}

	for _, item := range order.Items {
		if err := db.Model(&models.Meal{}).
			Where("id = ?", item.MealID).
			Update("order_count", gorm.Expr("order_count + ?", item.Quantity)).Error; err != nil {
			return err
		}
	}
	return nil
}

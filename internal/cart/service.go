package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/prepmarket-backend/internal/catalog"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
)

// MaxQuantity caps a single cart line.
const MaxQuantity = 99

type mealLookup interface {
	GetMealPrice(ctx context.Context, mealID uuid.UUID) (*catalog.MealPrice, error)
}

// Service manages the customer's cart. Lines from several vendors may sit in
// one cart; checkout takes one vendor's slice at a time.
type Service interface {
	AddItem(ctx context.Context, customerID uuid.UUID, input AddItemInput) (*models.CartItem, error)
	List(ctx context.Context, customerID uuid.UUID) ([]models.CartItem, error)
	RemoveItem(ctx context.Context, customerID, itemID uuid.UUID) error
}

type AddItemInput struct {
	MealID   uuid.UUID
	Quantity int
}

type service struct {
	repo  Repository
	meals mealLookup
}

func NewService(repo Repository, meals mealLookup) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if meals == nil {
		return nil, fmt.Errorf("meal lookup required")
	}
	return &service{repo: repo, meals: meals}, nil
}

// AddItem adds quantity of a meal, merging with an existing line for the
// same meal.
func (s *service) AddItem(ctx context.Context, customerID uuid.UUID, input AddItemInput) (*models.CartItem, error) {
	if customerID == uuid.Nil || input.MealID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer and meal are required")
	}
	if input.Quantity < 1 || input.Quantity > MaxQuantity {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity must be between 1 and %d", MaxQuantity))
	}

	meal, err := s.meals.GetMealPrice(ctx, input.MealID)
	if err != nil {
		return nil, err
	}
	if !meal.Available {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s is not available", meal.Name))
	}

	existing, err := s.repo.FindByMeal(ctx, customerID, meal.MealID)
	switch {
	case err == nil:
		quantity := existing.Quantity + input.Quantity
		if quantity > MaxQuantity {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity must be between 1 and %d", MaxQuantity))
		}
		if err := s.repo.SetQuantity(ctx, existing.ID, quantity); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart item")
		}
		existing.Quantity = quantity
		return existing, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart item")
	}

	item := &models.CartItem{
		CustomerID: customerID,
		VendorID:   meal.VendorID,
		MealID:     meal.MealID,
		Quantity:   input.Quantity,
	}
	if err := s.repo.Add(ctx, item); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "add cart item")
	}
	return item, nil
}

func (s *service) List(ctx context.Context, customerID uuid.UUID) ([]models.CartItem, error) {
	rows, err := s.repo.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list cart")
	}
	return rows, nil
}

func (s *service) RemoveItem(ctx context.Context, customerID, itemID uuid.UUID) error {
	removed, err := s.repo.DeleteItems(ctx, customerID, []uuid.UUID{itemID})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove cart item")
	}
	if removed == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
	}
	return nil
}

package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/prepmarket-backend/api/middleware"
	"github.com/angelmondragon/prepmarket-backend/internal/cart"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
)

type stubCart struct {
	added   cart.AddItemInput
	removed uuid.UUID
	err     error
}

func (s *stubCart) AddItem(_ context.Context, customerID uuid.UUID, input cart.AddItemInput) (*models.CartItem, error) {
	s.added = input
	if s.err != nil {
		return nil, s.err
	}
	return &models.CartItem{ID: uuid.New(), CustomerID: customerID, MealID: input.MealID, Quantity: input.Quantity}, nil
}

func (s *stubCart) List(context.Context, uuid.UUID) ([]models.CartItem, error) {
	return []models.CartItem{{ID: uuid.New(), Quantity: 1}}, s.err
}

func (s *stubCart) RemoveItem(_ context.Context, _ uuid.UUID, itemID uuid.UUID) error {
	s.removed = itemID
	return s.err
}

func TestCartAddItem(t *testing.T) {
	svc := &stubCart{}
	mealID := uuid.New()
	body := `{"meal_id":"` + mealID.String() + `","quantity":2}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(body))
	req = req.WithContext(middleware.WithActor(req.Context(), uuid.New(), enums.ActorRoleCustomer))
	resp := httptest.NewRecorder()

	CartAddItem(svc, quietLogger())(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, mealID, svc.added.MealID)
	assert.Equal(t, 2, svc.added.Quantity)
}

func TestCartAddItemValidatesQuantity(t *testing.T) {
	svc := &stubCart{}
	body := `{"meal_id":"` + uuid.NewString() + `","quantity":0}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(body))
	req = req.WithContext(middleware.WithActor(req.Context(), uuid.New(), enums.ActorRoleCustomer))
	resp := httptest.NewRecorder()

	CartAddItem(svc, quietLogger())(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, uuid.Nil, svc.added.MealID)
}

func TestCartRemoveItem(t *testing.T) {
	itemID := uuid.New()
	svc := &stubCart{}
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cart/items/"+itemID.String(), nil)
	req = req.WithContext(middleware.WithActor(req.Context(), uuid.New(), enums.ActorRoleCustomer))
	req = addRouteParam(req, "itemId", itemID.String())
	resp := httptest.NewRecorder()

	CartRemoveItem(svc, quietLogger())(resp, req)

	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, itemID, svc.removed)
}

func TestCartRemoveItemNotFound(t *testing.T) {
	itemID := uuid.New()
	svc := &stubCart{err: pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")}
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cart/items/"+itemID.String(), nil)
	req = req.WithContext(middleware.WithActor(req.Context(), uuid.New(), enums.ActorRoleCustomer))
	req = addRouteParam(req, "itemId", itemID.String())
	resp := httptest.NewRecorder()

	CartRemoveItem(svc, quietLogger())(resp, req)

	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestCartListRequiresActor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	resp := httptest.NewRecorder()

	CartList(&stubCart{}, quietLogger())(resp, req)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

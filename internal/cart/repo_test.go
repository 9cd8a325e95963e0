package cart

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/prepmarket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
)

func TestListForVendorAndDeleteScopedToCustomer(t *testing.T) {
	conn := dbtest.Open(t, &models.CartItem{})
	repo := NewRepository(conn)
	ctx := context.Background()

	customerID, vendorA, vendorB := uuid.New(), uuid.New(), uuid.New()
	a1 := &models.CartItem{CustomerID: customerID, VendorID: vendorA, MealID: uuid.New(), Quantity: 1}
	a2 := &models.CartItem{CustomerID: customerID, VendorID: vendorA, MealID: uuid.New(), Quantity: 2}
	b1 := &models.CartItem{CustomerID: customerID, VendorID: vendorB, MealID: uuid.New(), Quantity: 1}
	for _, item := range []*models.CartItem{a1, a2, b1} {
		require.NoError(t, repo.Add(ctx, item))
	}

	rows, err := repo.ListForVendor(ctx, customerID, vendorA)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	removed, err := repo.DeleteItems(ctx, uuid.New(), []uuid.UUID{a1.ID})
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = repo.DeleteItems(ctx, customerID, []uuid.UUID{a1.ID, a2.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	left, err := repo.ListByCustomer(ctx, customerID)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, b1.ID, left[0].ID)
}

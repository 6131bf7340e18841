package services_test

import (
	"context"
	"testing"

	"loyalty-ledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductService_SellingCapacityGate(t *testing.T) {
	tests := []struct {
		name    string
		price   string
		wantErr error
	}{
		{name: "exactly the selling power", price: "1000000"},
		{name: "one above the selling power", price: "1000001", wantErr: models.ErrSellingCapacityExceeded},
		{name: "zero price", price: "0", wantErr: models.ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.register(t, "seller", models.AccountTypeIndividual)

			p, err := e.products.Create(context.Background(), "seller", models.CreateProductRequest{Title: "Lamp", Price: dec(tt.price)})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			requireDecimal(t, tt.price, p.Price)
		})
	}
}

func TestProductService_List(t *testing.T) {
	e := newEnv(t)
	e.register(t, "seller", models.AccountTypeIndividual)
	ctx := context.Background()

	for _, c := range []string{"books", "tech", "Books"} {
		_, err := e.products.Create(ctx, "seller", models.CreateProductRequest{Title: c, Category: c, Price: dec("10")})
		require.NoError(t, err)
	}

	all, err := e.products.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	books, err := e.products.List(ctx, "books")
	require.NoError(t, err)
	assert.Len(t, books, 2)

	_, err = e.products.Get(ctx, "missing")
	require.ErrorIs(t, err, models.ErrProductNotFound)
}

func TestProductService_Delete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.register(t, "seller", models.AccountTypeIndividual)
	e.register(t, "other", models.AccountTypeIndividual)
	e.register(t, "buyer", models.AccountTypeIndividual)

	kept := e.product(t, "seller", "20")
	gone := e.product(t, "seller", "10")
	order, err := e.orders.Create(ctx, "buyer", models.CreateOrderRequest{ProductID: gone.ID, Quantity: 1})
	require.NoError(t, err)

	require.ErrorIs(t, e.products.Delete(ctx, "other", gone.ID), models.ErrForbidden)
	require.NoError(t, e.products.Delete(ctx, "seller", gone.ID))
	require.ErrorIs(t, e.products.Delete(ctx, "seller", gone.ID), models.ErrProductNotFound)
	require.ErrorIs(t, e.products.Delete(ctx, "seller", "missing"), models.ErrNotFound)

	_, err = e.products.Get(ctx, gone.ID)
	require.ErrorIs(t, err, models.ErrProductNotFound)
	all, err := e.products.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, kept.ID, all[0].ID)

	_, err = e.orders.Create(ctx, "buyer", models.CreateOrderRequest{ProductID: gone.ID, Quantity: 1})
	require.ErrorIs(t, err, models.ErrNotFound)

	paid, err := e.orders.ConfirmPayment(ctx, "buyer", order.ID, "pay-after-delete")
	require.NoError(t, err, "orders placed before the delete still settle")
	assert.Equal(t, models.OrderStatusEscrowed, paid.Status)
}

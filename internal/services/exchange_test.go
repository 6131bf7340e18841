package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"loyalty-ledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeService_ListAndBuy(t *testing.T) {
	e := newEnv(t)
	e.register(t, "seller", models.AccountTypeIndividual)
	e.register(t, "buyer", models.AccountTypeIndividual)
	e.deposit(t, "buyer", "5000")
	ctx := context.Background()

	listed, err := e.exchange.List(ctx, "seller", dec("1000"), dec("2.50"))
	require.NoError(t, err)
	requireDecimal(t, "99000", listed.LoyaltyBalance, "listed units leave the seller's balance")

	active, err := e.exchange.ActiveListings(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	requireDecimal(t, "2500", active[0].TotalPrice)

	resp, err := e.exchange.Buy(ctx, "buyer", listed.ListingID)
	require.NoError(t, err)
	requireDecimal(t, "1000", resp.BlocksTransferred)
	requireDecimal(t, "2500", resp.FiatSpent)
	requireDecimal(t, "500", resp.PlatformFee)

	buyer, seller, platform := e.balance(t, "buyer"), e.balance(t, "seller"), e.balance(t, models.PlatformUserID)
	requireDecimal(t, "2500", buyer.FiatBalance)
	requireDecimal(t, "101000", buyer.LoyaltyBalance)
	requireDecimal(t, "2000", seller.FiatBalance)
	requireDecimal(t, "99000", seller.LoyaltyBalance)
	requireDecimal(t, "500", platform.FiatBalance)

	listing, err := e.exchange.Get(ctx, listed.ListingID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusSold, listing.Status)
	require.NotNil(t, listing.BuyerID)
	assert.Equal(t, "buyer", *listing.BuyerID)

	_, err = e.exchange.Buy(ctx, "buyer", listed.ListingID)
	require.ErrorIs(t, err, models.ErrListingAlreadySold)

	assert.Equal(t, 1, e.events.count(models.EventListingSold))
	e.requireReconciled(t, "buyer", "seller", models.PlatformUserID)
}

func TestExchangeService_ListValidation(t *testing.T) {
	e := newEnv(t)
	e.register(t, "seller", models.AccountTypeIndividual)

	tests := []struct {
		name     string
		quantity string
		price    string
		wantErr  error
	}{
		{name: "zero quantity", quantity: "0", price: "1", wantErr: models.ErrInvalidAmount},
		{name: "negative price", quantity: "10", price: "-1", wantErr: models.ErrInvalidAmount},
		{name: "more than the balance", quantity: "100000.01", price: "1", wantErr: models.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.exchange.List(context.Background(), "seller", dec(tt.quantity), dec(tt.price))
			require.ErrorIs(t, err, tt.wantErr)
			requireDecimal(t, "100000", e.balance(t, "seller").LoyaltyBalance)
		})
	}
}

func TestExchangeService_BuyFailures(t *testing.T) {
	e := newEnv(t)
	e.register(t, "seller", models.AccountTypeIndividual)
	e.register(t, "poor", models.AccountTypeIndividual)
	e.deposit(t, "poor", "10")
	ctx := context.Background()

	listed, err := e.exchange.List(ctx, "seller", dec("100"), dec("1"))
	require.NoError(t, err)

	_, err = e.exchange.Buy(ctx, "poor", "missing")
	require.ErrorIs(t, err, models.ErrListingNotFound)

	_, err = e.exchange.Buy(ctx, "poor", listed.ListingID)
	require.ErrorIs(t, err, models.ErrInsufficientFunds)

	_, err = e.exchange.Buy(ctx, "seller", listed.ListingID)
	require.ErrorIs(t, err, models.ErrSelfDealing)

	listing, err := e.exchange.Get(ctx, listed.ListingID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusActive, listing.Status, "failed purchases leave the listing active")
	requireDecimal(t, "10", e.balance(t, "poor").FiatBalance)
}

func TestExchangeService_ConcurrentBuyIsExactlyOnce(t *testing.T) {
	e := newEnv(t)
	e.register(t, "seller", models.AccountTypeIndividual)
	ctx := context.Background()

	buyers := []string{"b1", "b2", "b3", "b4"}
	for _, b := range buyers {
		e.register(t, b, models.AccountTypeIndividual)
		e.deposit(t, b, "1000")
	}
	listed, err := e.exchange.List(ctx, "seller", dec("100"), dec("5"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, len(buyers))
	for i, b := range buyers {
		wg.Add(1)
		go func(i int, b string) {
			defer wg.Done()
			_, errs[i] = e.exchange.Buy(ctx, b, listed.ListingID)
		}(i, b)
	}
	wg.Wait()

	wins, sold := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, models.ErrListingAlreadySold):
			sold++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, len(buyers)-1, sold)

	total := dec("0")
	for _, b := range buyers {
		total = total.Add(e.balance(t, b).LoyaltyBalance)
	}
	requireDecimal(t, "400100", total, "exactly one buyer received the units")
	requireDecimal(t, "400", e.balance(t, "seller").FiatBalance)
}

func TestExchangeService_Cancel(t *testing.T) {
	e := newEnv(t)
	e.register(t, "seller", models.AccountTypeIndividual)
	e.register(t, "buyer", models.AccountTypeIndividual)
	e.deposit(t, "buyer", "1000")
	ctx := context.Background()

	listed, err := e.exchange.List(ctx, "seller", dec("300"), dec("1"))
	require.NoError(t, err)

	_, err = e.exchange.Cancel(ctx, "buyer", listed.ListingID)
	require.ErrorIs(t, err, models.ErrForbidden)

	listing, err := e.exchange.Cancel(ctx, "seller", listed.ListingID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusCancelled, listing.Status)
	requireDecimal(t, "100000", e.balance(t, "seller").LoyaltyBalance)

	_, err = e.exchange.Buy(ctx, "buyer", listed.ListingID)
	require.ErrorIs(t, err, models.ErrInvalidState)
	_, err = e.exchange.Cancel(ctx, "seller", listed.ListingID)
	require.ErrorIs(t, err, models.ErrInvalidState)

	active, err := e.exchange.ActiveListings(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	e.requireReconciled(t, "seller")
}

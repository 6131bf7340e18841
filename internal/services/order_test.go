package services_test

import (
	"context"
	"testing"
	"time"

	"loyalty-ledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderService_CashRoundTrip(t *testing.T) {
	e := newEnv(t)
	e.register(t, "buyer", models.AccountTypeIndividual)
	e.register(t, "seller", models.AccountTypeIndividual)
	ctx := context.Background()

	product := e.product(t, "seller", "10000")
	order, err := e.orders.Create(ctx, "buyer", models.CreateOrderRequest{ProductID: product.ID, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.SettlementCash, order.Settlement)
	requireDecimal(t, "10000", order.TotalPrice)

	order, err = e.orders.ConfirmPayment(ctx, "buyer", order.ID, "PSK-123")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusEscrowed, order.Status)
	requireDecimal(t, "10000", order.EscrowFiat)

	resp, err := e.orders.ConfirmDelivery(ctx, "buyer", order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, resp.Status)
	requireDecimal(t, "2000", resp.BuyerBonus)

	buyer, seller := e.balance(t, "buyer"), e.balance(t, "seller")
	requireDecimal(t, "102000", buyer.LoyaltyBalance, "buyer gains 10% transferred + 10% minted")
	requireDecimal(t, "0", buyer.FiatBalance, "the verified payment is fully held and released")
	requireDecimal(t, "10000", buyer.CumulativePurchaseValue)
	requireDecimal(t, "10000", seller.FiatBalance)
	requireDecimal(t, "99000", seller.LoyaltyBalance, "seller pays the 10% sale fee in loyalty")

	entries, err := e.ledger.HistoryForUser(ctx, "buyer", models.LedgerFilter{Currency: models.CurrencyLoyalty})
	require.NoError(t, err)
	reasons := make([]models.Reason, 0, len(entries))
	for _, en := range entries {
		reasons = append(reasons, en.Reason)
	}
	assert.Equal(t, []models.Reason{models.ReasonInitialAllocation, models.ReasonRewardTransfer, models.ReasonRewardMint}, reasons)

	e.requireReconciled(t, "buyer", "seller")
}

func TestOrderService_LoyaltySettlement(t *testing.T) {
	e := newEnv(t)
	e.register(t, "buyer", models.AccountTypeIndividual)
	e.register(t, "seller", models.AccountTypeIndividual)
	ctx := context.Background()

	order := e.escrowedOrder(t, "buyer", e.product(t, "seller", "10000"), models.SettlementLoyalty)
	requireDecimal(t, "5000", order.EscrowFiat)
	requireDecimal(t, "5000", order.EscrowLoyalty)
	requireDecimal(t, "95000", e.balance(t, "buyer").LoyaltyBalance)

	resp, err := e.orders.ConfirmDelivery(ctx, "buyer", order.ID)
	require.NoError(t, err)
	requireDecimal(t, "1000", resp.BuyerBonus, "loyalty-funded orders earn the minted share only")

	buyer, seller := e.balance(t, "buyer"), e.balance(t, "seller")
	requireDecimal(t, "96000", buyer.LoyaltyBalance)
	requireDecimal(t, "5000", seller.FiatBalance)
	requireDecimal(t, "105000", seller.LoyaltyBalance, "no sale fee, half the value arrives as loyalty")
	e.requireReconciled(t, "buyer", "seller")
}

func TestOrderService_Create(t *testing.T) {
	e := newEnv(t)
	e.register(t, "buyer", models.AccountTypeIndividual)
	e.register(t, "seller", models.AccountTypeIndividual)
	product := e.product(t, "seller", "600000")

	tests := []struct {
		name    string
		buyer   string
		req     models.CreateOrderRequest
		wantErr error
	}{
		{name: "zero quantity", buyer: "buyer", req: models.CreateOrderRequest{ProductID: product.ID, Quantity: 0}, wantErr: models.ErrInvalidQuantity},
		{name: "unknown product", buyer: "buyer", req: models.CreateOrderRequest{ProductID: "nope", Quantity: 1}, wantErr: models.ErrProductNotFound},
		{name: "seller buying own product", buyer: "seller", req: models.CreateOrderRequest{ProductID: product.ID, Quantity: 1}, wantErr: models.ErrSelfDealing},
		{name: "total above seller capacity", buyer: "buyer", req: models.CreateOrderRequest{ProductID: product.ID, Quantity: 2}, wantErr: models.ErrSellingCapacityExceeded},
		{name: "unknown settlement", buyer: "buyer", req: models.CreateOrderRequest{ProductID: product.ID, Quantity: 1, Settlement: "barter"}, wantErr: models.ErrValidation},
		{name: "buyer without wallet", buyer: "ghost", req: models.CreateOrderRequest{ProductID: product.ID, Quantity: 1}, wantErr: models.ErrWalletNotFound},
		{name: "valid", buyer: "buyer", req: models.CreateOrderRequest{ProductID: product.ID, Quantity: 1, Settlement: "loyalty"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := e.orders.Create(context.Background(), tt.buyer, tt.req)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.SettlementLoyalty, order.Settlement)
		})
	}
}

func TestOrderService_ConfirmDeliveryTwice(t *testing.T) {
	e := newEnv(t)
	e.register(t, "buyer", models.AccountTypeIndividual)
	e.register(t, "seller", models.AccountTypeIndividual)
	ctx := context.Background()

	order := e.escrowedOrder(t, "buyer", e.product(t, "seller", "10000"), models.SettlementCash)
	_, err := e.orders.ConfirmDelivery(ctx, "buyer", order.ID)
	require.NoError(t, err)

	_, err = e.orders.ConfirmDelivery(ctx, "buyer", order.ID)
	require.ErrorIs(t, err, models.ErrInvalidState)

	requireDecimal(t, "10000", e.balance(t, "seller").FiatBalance, "funds are released once")
	requireDecimal(t, "102000", e.balance(t, "buyer").LoyaltyBalance)
}

func TestOrderService_CancelBeforeEscrow(t *testing.T) {
	e := newEnv(t)
	e.register(t, "buyer", models.AccountTypeIndividual)
	e.register(t, "seller", models.AccountTypeIndividual)
	ctx := context.Background()

	order, err := e.orders.Create(ctx, "buyer", models.CreateOrderRequest{ProductID: e.product(t, "seller", "5000").ID, Quantity: 1})
	require.NoError(t, err)

	_, err = e.orders.Cancel(ctx, "seller", order.ID)
	require.ErrorIs(t, err, models.ErrForbidden)

	order, err = e.orders.Cancel(ctx, "buyer", order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCanceled, order.Status)
	assert.NotNil(t, order.CanceledAt)

	_, err = e.orders.Cancel(ctx, "buyer", order.ID)
	require.ErrorIs(t, err, models.ErrInvalidState)
	_, err = e.orders.ConfirmPayment(ctx, "buyer", order.ID, "late-ref")
	require.ErrorIs(t, err, models.ErrInvalidState)

	for _, user := range []string{"buyer", "seller"} {
		entries, err := e.ledger.HistoryForUser(ctx, user, models.LedgerFilter{})
		require.NoError(t, err)
		for _, en := range entries {
			assert.NotEqual(t, order.ID, en.Reference, "no ledger entry may reference a canceled order")
		}
		w := e.balance(t, user)
		requireDecimal(t, "0", w.FiatBalance)
		requireDecimal(t, "100000", w.LoyaltyBalance)
	}
}

func TestOrderService_CancelEscrowed(t *testing.T) {
	e := newEnv(t)
	e.register(t, "buyer", models.AccountTypeIndividual)
	e.register(t, "seller", models.AccountTypeIndividual)

	order := e.escrowedOrder(t, "buyer", e.product(t, "seller", "5000"), models.SettlementCash)
	_, err := e.orders.Cancel(context.Background(), "buyer", order.ID)
	require.ErrorIs(t, err, models.ErrInvalidState)
}

func TestOrderService_ConfirmPaymentFailures(t *testing.T) {
	e := newEnv(t)
	e.register(t, "buyer", models.AccountTypeIndividual)
	e.register(t, "seller", models.AccountTypeIndividual)
	ctx := context.Background()

	order, err := e.orders.Create(ctx, "buyer", models.CreateOrderRequest{ProductID: e.product(t, "seller", "5000").ID, Quantity: 1})
	require.NoError(t, err)

	e.gateway.verifyErr = errGatewayDown
	_, err = e.orders.ConfirmPayment(ctx, "buyer", order.ID, "ref-1")
	require.ErrorIs(t, err, models.ErrExternalService)
	assert.True(t, models.IsRetryable(err))

	stored, err := e.orders.Get(ctx, models.Actor{UserID: "buyer"}, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, stored.Status, "gateway failure leaves the order pending")

	e.gateway.verifyErr = nil
	e.gateway.declined["ref-1"] = true
	_, err = e.orders.ConfirmPayment(ctx, "buyer", order.ID, "ref-1")
	require.ErrorIs(t, err, models.ErrPaymentVerificationFailed)
	assert.False(t, models.IsRetryable(err))

	_, err = e.orders.ConfirmPayment(ctx, "seller", order.ID, "ref-2")
	require.ErrorIs(t, err, models.ErrForbidden)

	_, err = e.orders.ConfirmPayment(ctx, "buyer", order.ID, "ref-2")
	require.NoError(t, err)
}

func TestOrderService_Refund(t *testing.T) {
	e := newEnv(t)
	e.register(t, "buyer", models.AccountTypeIndividual)
	e.register(t, "seller", models.AccountTypeIndividual)
	ctx := context.Background()

	order := e.escrowedOrder(t, "buyer", e.product(t, "seller", "8000"), models.SettlementLoyalty)

	_, err := e.orders.Refund(ctx, models.Actor{UserID: "buyer"}, order.ID)
	require.ErrorIs(t, err, models.ErrForbidden)

	order, err = e.orders.Refund(ctx, models.Actor{UserID: "seller"}, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRefunded, order.Status)

	buyer := e.balance(t, "buyer")
	requireDecimal(t, "4000", buyer.FiatBalance, "escrowed fiat is returned to the buyer")
	requireDecimal(t, "100000", buyer.LoyaltyBalance)
	requireDecimal(t, "0", buyer.CumulativePurchaseValue)

	_, err = e.orders.Refund(ctx, models.Actor{Admin: true}, order.ID)
	require.ErrorIs(t, err, models.ErrInvalidState)
	_, err = e.orders.ConfirmDelivery(ctx, "buyer", order.ID)
	require.ErrorIs(t, err, models.ErrInvalidState)
	e.requireReconciled(t, "buyer", "seller")
}

func TestOrderService_SellerLacksFeeBalance(t *testing.T) {
	e := newEnv(t)
	e.register(t, "buyer", models.AccountTypeIndividual)
	e.register(t, "seller", models.AccountTypeIndividual)
	ctx := context.Background()

	order := e.escrowedOrder(t, "buyer", e.product(t, "seller", "10000"), models.SettlementCash)
	_, err := e.wallet.Debit(ctx, "seller", models.CurrencyLoyalty, dec("99500"), models.ReasonAdminAdjustment, "test")
	require.NoError(t, err)

	_, err = e.orders.ConfirmDelivery(ctx, "buyer", order.ID)
	require.ErrorIs(t, err, models.ErrInsufficientFunds)

	stored, err := e.orders.Get(ctx, models.Actor{UserID: "seller"}, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusEscrowed, stored.Status)
	requireDecimal(t, "0", e.balance(t, "seller").FiatBalance, "no leg of a failed delivery is applied")
}

func TestOrderService_GetAndList(t *testing.T) {
	e := newEnv(t)
	e.register(t, "buyer", models.AccountTypeIndividual)
	e.register(t, "seller", models.AccountTypeIndividual)
	e.register(t, "other", models.AccountTypeIndividual)
	ctx := context.Background()

	order, err := e.orders.Create(ctx, "buyer", models.CreateOrderRequest{ProductID: e.product(t, "seller", "100").ID, Quantity: 3})
	require.NoError(t, err)
	requireDecimal(t, "300", order.TotalPrice)

	_, err = e.orders.Get(ctx, models.Actor{UserID: "other"}, order.ID)
	require.ErrorIs(t, err, models.ErrOrderNotFound)
	_, err = e.orders.Get(ctx, models.Actor{UserID: "other", Admin: true}, order.ID)
	require.NoError(t, err)

	for _, user := range []string{"buyer", "seller"} {
		orders, err := e.orders.ListForUser(ctx, user)
		require.NoError(t, err)
		require.Len(t, orders, 1)
	}
}

func TestOrderService_ExpireStale(t *testing.T) {
	e := newEnv(t)
	e.register(t, "buyer", models.AccountTypeIndividual)
	e.register(t, "seller", models.AccountTypeIndividual)
	ctx := context.Background()
	product := e.product(t, "seller", "100")

	now := time.Now().UTC()
	e.deps.Now = func() time.Time { return now.Add(-2 * time.Hour) }
	stale, err := e.orders.Create(ctx, "buyer", models.CreateOrderRequest{ProductID: product.ID, Quantity: 1})
	require.NoError(t, err)
	paid := e.escrowedOrder(t, "buyer", product, models.SettlementCash)

	e.deps.Now = func() time.Time { return now }
	fresh, err := e.orders.Create(ctx, "buyer", models.CreateOrderRequest{ProductID: product.ID, Quantity: 1})
	require.NoError(t, err)

	n, err := e.orders.ExpireStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	want := map[string]models.OrderStatus{
		stale.ID: models.OrderStatusCanceled,
		paid.ID:  models.OrderStatusEscrowed,
		fresh.ID: models.OrderStatusPending,
	}
	for id, status := range want {
		o, err := e.orders.Get(ctx, models.Actor{Admin: true}, id)
		require.NoError(t, err)
		assert.Equal(t, status, o.Status, id)
	}

	n, err = e.orders.ExpireStale(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n, "a zero ttl disables expiry")
}

package services_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"loyalty-ledger/internal/config"
	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/repositories/memoryrepo"
	"loyalty-ledger/internal/services"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu        sync.Mutex
	declined  map[string]bool
	verifyErr error
	payoutErr error
	payouts   []decimal.Decimal
	transfers map[string]services.TransferState
	statusErr error
}

func (g *fakeGateway) VerifyPayment(_ context.Context, reference string, _ decimal.Decimal) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.verifyErr != nil {
		return false, g.verifyErr
	}
	return !g.declined[reference], nil
}

func (g *fakeGateway) Payout(_ context.Context, reference, _, _ string, amount decimal.Decimal) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.payoutErr != nil {
		return "", g.payoutErr
	}
	g.payouts = append(g.payouts, amount)
	g.transfers[reference] = services.TransferSucceeded
	return "TRF_" + uuid.NewString()[:8], nil
}

func (g *fakeGateway) TransferStatus(_ context.Context, reference string) (services.TransferState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return "", g.statusErr
	}
	state, ok := g.transfers[reference]
	if !ok {
		return services.TransferUnknown, nil
	}
	return state, nil
}

func (g *fakeGateway) setTransfer(reference string, state services.TransferState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transfers[reference] = state
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []models.KafkaMessage
}

func (p *recordingPublisher) SendEvents(_ context.Context, msgs ...models.KafkaMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.msgs {
		if m.Type == eventType {
			n++
		}
	}
	return n
}

type env struct {
	store    *memoryrepo.Store
	gateway  *fakeGateway
	events   *recordingPublisher
	deps     *services.Deps
	wallet   *services.WalletService
	ledger   *services.LedgerService
	orders   *services.OrderService
	exchange *services.ExchangeService
	referral *services.ReferralService
	products *services.ProductService
	admin    *services.AdminService
}

func newEnv(t *testing.T) *env {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	e := &env{
		store:   memoryrepo.New(0),
		gateway: &fakeGateway{declined: map[string]bool{}, transfers: map[string]services.TransferState{}},
		events:  &recordingPublisher{},
	}
	e.deps = &services.Deps{
		Store:    e.store,
		Events:   e.events,
		Payments: e.gateway,
		Economy:  config.DefaultEconomy(),
		Logger:   logger,
	}
	e.wallet = services.NewWalletService(e.deps)
	e.ledger = services.NewLedgerService(e.deps)
	e.referral = services.NewReferralService(e.deps, e.ledger)
	e.orders = services.NewOrderService(e.deps, e.referral)
	e.exchange = services.NewExchangeService(e.deps)
	e.products = services.NewProductService(e.deps)
	e.admin = services.NewAdminService(e.deps, e.wallet)

	require.NoError(t, e.admin.EnsurePlatformWallet(context.Background()))
	return e
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (e *env) register(t *testing.T, userID string, accountType models.AccountType) *models.Wallet {
	t.Helper()
	w, err := e.wallet.Register(context.Background(), userID, accountType)
	require.NoError(t, err)
	return w
}

func (e *env) deposit(t *testing.T, userID, amount string) {
	t.Helper()
	_, err := e.wallet.Deposit(context.Background(), userID, dec(amount), "dep-"+uuid.NewString())
	require.NoError(t, err)
}

func (e *env) balance(t *testing.T, userID string) *models.Wallet {
	t.Helper()
	w, err := e.wallet.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	return w
}

func (e *env) product(t *testing.T, sellerID, price string) *models.Product {
	t.Helper()
	p, err := e.products.Create(context.Background(), sellerID, models.CreateProductRequest{
		Title: "Widget",
		Price: dec(price),
	})
	require.NoError(t, err)
	return p
}

// escrowedOrder creates and pays for an order and returns it in ESCROWED.
func (e *env) escrowedOrder(t *testing.T, buyerID string, product *models.Product, settlement models.SettlementType) *models.Order {
	t.Helper()
	ctx := context.Background()
	order, err := e.orders.Create(ctx, buyerID, models.CreateOrderRequest{
		ProductID:  product.ID,
		Quantity:   1,
		Settlement: string(settlement),
	})
	require.NoError(t, err)
	order, err = e.orders.ConfirmPayment(ctx, buyerID, order.ID, "pay-"+uuid.NewString())
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusEscrowed, order.Status)
	return order
}

// requireReconciled checks that ledger sums reproduce the stored balances.
func (e *env) requireReconciled(t *testing.T, userIDs ...string) {
	t.Helper()
	for _, id := range userIDs {
		rec, err := e.ledger.Reconcile(context.Background(), id)
		require.NoError(t, err)
		require.Truef(t, rec.Balanced(), "user %s: %+v", id, rec)
	}
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

var errGatewayDown = errors.New("dial tcp: connection refused")

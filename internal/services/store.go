package services

import (
	"context"
	"time"

	"loyalty-ledger/internal/models"

	"github.com/shopspring/decimal"
)

// Store is the persistence boundary shared by the postgres and memory repositories.
type Store interface {
	// WithinTx runs fn as one atomic unit. Nothing fn writes is visible unless it returns nil.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetWalletByUser(ctx context.Context, userID string) (*models.Wallet, error)
	GetWalletByReferralCode(ctx context.Context, code string) (*models.Wallet, error)
	// LedgerPage returns up to limit entries with Seq > afterSeq in ascending order.
	LedgerPage(ctx context.Context, walletID string, filter models.LedgerFilter, afterSeq int64, limit int) ([]models.LedgerEntry, error)

	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error)
	ListPendingOrdersBefore(ctx context.Context, before time.Time, limit int) ([]models.Order, error)

	GetListing(ctx context.Context, listingID string) (*models.ExchangeListing, error)
	ListActiveListings(ctx context.Context) ([]models.ExchangeListing, error)

	// GetProduct and ListProducts never return deleted products.
	GetProduct(ctx context.Context, productID string) (*models.Product, error)
	// ListProducts returns the newest products first, optionally limited to one category.
	ListProducts(ctx context.Context, category string) ([]models.Product, error)

	ListPendingWithdrawalsBefore(ctx context.Context, before time.Time, limit int) ([]models.Withdrawal, error)

	ListReferralsByReferrer(ctx context.Context, referrerID string) ([]models.Referral, error)

	CreateNotifications(ctx context.Context, notifications []models.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error)

	PlatformSummary(ctx context.Context) (*models.PlatformSummary, error)
	// EscrowBySeller sums the escrow of ESCROWED orders per seller, largest fiat first.
	EscrowBySeller(ctx context.Context) ([]models.SellerEscrow, error)
}

// Tx is a unit of work. Lock order inside one Tx is always: the entity row (order,
// listing, referral or withdrawal) first, then wallets in ascending wallet ID order.
type Tx interface {
	// LockWallets locks and returns the wallets of userIDs keyed by user ID.
	LockWallets(ctx context.Context, userIDs ...string) (map[string]*models.Wallet, error)
	InsertWallet(ctx context.Context, wallet *models.Wallet) error
	UpdateWallet(ctx context.Context, wallet *models.Wallet) error
	AppendLedger(ctx context.Context, entry *models.LedgerEntry) error
	// ClaimReference records an external payment reference; reuse fails with ErrDuplicateReference.
	ClaimReference(ctx context.Context, reference string) error

	InsertOrder(ctx context.Context, order *models.Order) error
	LockOrder(ctx context.Context, orderID string) (*models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) error

	InsertListing(ctx context.Context, listing *models.ExchangeListing) error
	LockListing(ctx context.Context, listingID string) (*models.ExchangeListing, error)
	UpdateListing(ctx context.Context, listing *models.ExchangeListing) error

	InsertReferral(ctx context.Context, referral *models.Referral) error
	// LockReferral returns (nil, nil) when the user was not referred.
	LockReferral(ctx context.Context, referredUserID string) (*models.Referral, error)
	UpdateReferral(ctx context.Context, referral *models.Referral) error

	InsertProduct(ctx context.Context, product *models.Product) error
	// DeleteProduct hides the product from reads. Existing orders keep referencing it.
	DeleteProduct(ctx context.Context, productID string, at time.Time) error

	InsertWithdrawal(ctx context.Context, withdrawal *models.Withdrawal) error
	LockWithdrawal(ctx context.Context, withdrawalID string) (*models.Withdrawal, error)
	UpdateWithdrawal(ctx context.Context, withdrawal *models.Withdrawal) error
}

// BalanceCache is the read-through cache for wallet balances.
type BalanceCache interface {
	GetBalance(ctx context.Context, userID string) (*models.WalletBalanceResponse, error)
	SetBalance(ctx context.Context, userID string, balance *models.WalletBalanceResponse) error
	DeleteBalance(ctx context.Context, userID string) error
}

// EventPublisher ships committed wallet events to downstream consumers.
type EventPublisher interface {
	SendEvents(ctx context.Context, msgs ...models.KafkaMessage) error
}

// TransferState is the provider's view of a payout.
type TransferState string

const (
	TransferSucceeded TransferState = "succeeded"
	TransferFailed    TransferState = "failed"
	TransferPending   TransferState = "pending"
	// TransferUnknown means the provider has no transfer with that reference.
	TransferUnknown TransferState = "unknown"
)

// PaymentGateway is the external payment provider.
type PaymentGateway interface {
	// VerifyPayment returns false for a reference the provider does not recognise
	// as a successful charge of at least amount.
	VerifyPayment(ctx context.Context, reference string, amount decimal.Decimal) (bool, error)
	// Payout transfers amount under reference and returns the provider's transfer code.
	// An error wrapping models.ErrPayoutRejected guarantees nothing was sent; any other
	// error leaves the outcome unknown until TransferStatus settles it.
	Payout(ctx context.Context, reference, bankCode, accountNumber string, amount decimal.Decimal) (string, error)
	TransferStatus(ctx context.Context, reference string) (TransferState, error)
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlatformUserID owns the system wallet that collects platform fees.
const PlatformUserID = "platform"

type Currency string

const (
	CurrencyFiat    Currency = "FIAT"
	CurrencyLoyalty Currency = "LOYALTY"
)

func (c Currency) Valid() bool {
	return c == CurrencyFiat || c == CurrencyLoyalty
}

type AccountType string

const (
	AccountTypeIndividual AccountType = "individual"
	AccountTypeVenture    AccountType = "venture"
	AccountTypeCompany    AccountType = "company"
	AccountTypeSystem     AccountType = "system"
)

// Database model
type Wallet struct {
	ID                      string          `db:"id" json:"id"`
	UserID                  string          `db:"user_id" json:"user_id"`
	AccountType             AccountType     `db:"account_type" json:"account_type"`
	FiatBalance             decimal.Decimal `db:"fiat_balance" json:"fiat_balance"`
	LoyaltyBalance          decimal.Decimal `db:"loyalty_balance" json:"loyalty_balance"`
	InitialAllocation       decimal.Decimal `db:"initial_allocation" json:"initial_allocation"`
	CumulativePurchaseValue decimal.Decimal `db:"cumulative_purchase_value" json:"cumulative_purchase_value"`
	ReferralCode            *string         `db:"referral_code" json:"referral_code"`
	Frozen                  bool            `db:"frozen" json:"frozen"`
	CreatedAt               time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time       `db:"updated_at" json:"updated_at"`
}

func (w *Wallet) Balance(c Currency) decimal.Decimal {
	if c == CurrencyLoyalty {
		return w.LoyaltyBalance
	}
	return w.FiatBalance
}

func (w *Wallet) SetBalance(c Currency, v decimal.Decimal) {
	if c == CurrencyLoyalty {
		w.LoyaltyBalance = v
		return
	}
	w.FiatBalance = v
}

// Active returns ErrAccountFrozen for a wallet an administrator has frozen.
func (w *Wallet) Active() error {
	if w.Frozen {
		return ErrAccountFrozen
	}
	return nil
}

// MaxSellableValue is the selling power of the wallet.
func (w *Wallet) MaxSellableValue(multiplier decimal.Decimal) decimal.Decimal {
	return w.LoyaltyBalance.Mul(multiplier)
}

type Reason string

// Ledger reason codes
const (
	ReasonInitialAllocation     Reason = "INITIAL_ALLOCATION"
	ReasonDeposit               Reason = "DEPOSIT"
	ReasonWithdrawal            Reason = "WITHDRAWAL"
	ReasonWithdrawalReversal    Reason = "WITHDRAWAL_REVERSAL"
	ReasonEscrowHold            Reason = "ESCROW_HOLD"
	ReasonEscrowRelease         Reason = "ESCROW_RELEASE"
	ReasonEscrowRefund          Reason = "ESCROW_REFUND"
	ReasonSaleFee               Reason = "SALE_FEE"
	ReasonRewardTransfer        Reason = "REWARD_TRANSFER"
	ReasonRewardMint            Reason = "REWARD_MINT"
	ReasonExchangeListing       Reason = "EXCHANGE_LISTING"
	ReasonExchangeListingReturn Reason = "EXCHANGE_LISTING_RETURN"
	ReasonExchangePurchase      Reason = "EXCHANGE_PURCHASE"
	ReasonExchangeSale          Reason = "EXCHANGE_SALE"
	ReasonPlatformFee           Reason = "PLATFORM_FEE"
	ReasonReferralReward        Reason = "REFERRAL_REWARD"
	ReasonAdminAdjustment       Reason = "ADMIN_ADJUSTMENT"
)

// Minted reports whether entries with this reason create new loyalty supply.
func (r Reason) Minted() bool {
	return r == ReasonRewardMint || r == ReasonReferralReward || r == ReasonInitialAllocation
}

type LedgerEntry struct {
	Seq          int64           `db:"seq" json:"-"`
	ID           string          `db:"id" json:"id"`
	WalletID     string          `db:"wallet_id" json:"wallet_id"`
	Currency     Currency        `db:"currency" json:"currency"`
	Change       decimal.Decimal `db:"change" json:"change"`
	BalanceAfter decimal.Decimal `db:"balance_after" json:"balance_after"`
	Reason       Reason          `db:"reason" json:"reason"`
	Reference    string          `db:"reference" json:"reference,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"timestamp"`
}

type LedgerFilter struct {
	Currency Currency
	Reasons  []Reason
	From     *time.Time
	To       *time.Time
}

func (f LedgerFilter) Match(e LedgerEntry) bool {
	if f.Currency != "" && e.Currency != f.Currency {
		return false
	}
	if len(f.Reasons) > 0 {
		found := false
		for _, r := range f.Reasons {
			if r == e.Reason {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

type Product struct {
	ID          string          `db:"id" json:"id"`
	SellerID    string          `db:"seller_id" json:"seller_id"`
	Title       string          `db:"title" json:"title"`
	Description string          `db:"description" json:"description"`
	Category    string          `db:"category" json:"category"`
	Price       decimal.Decimal `db:"price" json:"price"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	DeletedAt   *time.Time      `db:"deleted_at" json:"-"`
}

type Notification struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Type      string    `db:"type" json:"type"`
	Content   string    `db:"content" json:"content"`
	IsRead    bool      `db:"is_read" json:"is_read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PlatformSummary aggregates the economy for administrators.
type PlatformSummary struct {
	CirculatingLoyalty decimal.Decimal `json:"circulating_loyalty"`
	TotalMinted        decimal.Decimal `json:"total_minted"`
	PlatformFiatFees   decimal.Decimal `json:"platform_fiat_fees"`
	EscrowedFiat       decimal.Decimal `json:"escrowed_fiat"`
	EscrowedLoyalty    decimal.Decimal `json:"escrowed_loyalty"`
	ActiveListings     int             `json:"active_listings"`
	SoldListings       int             `json:"sold_listings"`
	Wallets            int             `json:"wallets"`
	PendingWithdrawals decimal.Decimal `json:"pending_withdrawals"`
}

// SellerEscrow is the value held in escrow for one seller's open orders.
type SellerEscrow struct {
	SellerID        string          `db:"seller_id" json:"seller_id"`
	Orders          int             `db:"orders" json:"orders"`
	EscrowedFiat    decimal.Decimal `db:"escrowed_fiat" json:"escrowed_fiat"`
	EscrowedLoyalty decimal.Decimal `db:"escrowed_loyalty" json:"escrowed_loyalty"`
}

type WithdrawalStatus string

const (
	WithdrawalStatusPending   WithdrawalStatus = "PENDING"
	WithdrawalStatusCompleted WithdrawalStatus = "COMPLETED"
	WithdrawalStatusReversed  WithdrawalStatus = "REVERSED"
)

// Withdrawal tracks a payout from the moment the wallet is debited until the
// provider settles it. ID is also the transfer reference sent to the provider.
type Withdrawal struct {
	ID                string           `db:"id" json:"id"`
	UserID            string           `db:"user_id" json:"user_id"`
	Amount            decimal.Decimal  `db:"amount" json:"amount"`
	BankCode          string           `db:"bank_code" json:"bank_code"`
	AccountNumber     string           `db:"account_number" json:"account_number"`
	Status            WithdrawalStatus `db:"status" json:"status"`
	ProviderReference string           `db:"provider_reference" json:"provider_reference,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updated_at"`
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID string
	Admin  bool
}

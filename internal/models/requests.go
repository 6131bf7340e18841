package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RegisterWalletRequest struct {
	AccountType string `json:"account_type" validate:"required,oneof=individual venture company"`
}

type CreateOrderRequest struct {
	ProductID  string `json:"product_id" validate:"required"`
	Quantity   int    `json:"quantity" validate:"gte=0"`
	Settlement string `json:"settlement" validate:"omitempty,oneof=CASH LOYALTY cash loyalty"`
}

type CreateOrderResponse struct {
	OrderID    string          `json:"order_id"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Status     OrderStatus     `json:"status"`
}

type ConfirmPaymentRequest struct {
	PaymentReference string `json:"payment_reference" validate:"required,max=128"`
}

type OrderStatusResponse struct {
	OrderID string      `json:"order_id"`
	Status  OrderStatus `json:"status"`
}

type ConfirmDeliveryResponse struct {
	OrderID    string          `json:"order_id"`
	Status     OrderStatus     `json:"status"`
	BuyerBonus decimal.Decimal `json:"buyer_bonus"`
}

type WalletBalanceResponse struct {
	UserID                  string          `json:"user_id"`
	WalletID                string          `json:"wallet_id"`
	FiatBalance             decimal.Decimal `json:"fiat_balance"`
	LoyaltyBalance          decimal.Decimal `json:"loyalty_balance"`
	InitialAllocation       decimal.Decimal `json:"initial_allocation"`
	CumulativePurchaseValue decimal.Decimal `json:"cumulative_purchase_value"`
	MaxSellableValue        decimal.Decimal `json:"max_sellable_value"`
	Frozen                  bool            `json:"frozen"`
}

type LedgerResponse struct {
	Ledger []LedgerEntry `json:"ledger"`
}

type DepositRequest struct {
	Amount           decimal.Decimal `json:"amount"`
	PaymentReference string          `json:"payment_reference" validate:"required,max=128"`
}

type WithdrawRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	BankCode      string          `json:"bank_code" validate:"required,numeric"`
	AccountNumber string          `json:"account_number" validate:"required,numeric,len=10"`
}

type WithdrawResponse struct {
	Reference   string           `json:"reference"`
	Status      WithdrawalStatus `json:"status"`
	FiatBalance decimal.Decimal  `json:"fiat_balance"`
}

type CreateProductRequest struct {
	Title       string          `json:"title" validate:"required,max=255"`
	Description string          `json:"description" validate:"max=4000"`
	Category    string          `json:"category" validate:"max=255"`
	Price       decimal.Decimal `json:"price"`
}

type ExchangeListRequest struct {
	Quantity     decimal.Decimal `json:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
}

type ExchangeListResponse struct {
	ListingID      string          `json:"listing_id"`
	LoyaltyBalance decimal.Decimal `json:"remaining_balance"`
}

type ExchangeBuyRequest struct {
	ListingID string `json:"listing_id" validate:"required"`
}

type ExchangeBuyResponse struct {
	ListingID         string          `json:"listing_id"`
	BlocksTransferred decimal.Decimal `json:"blocks_transferred"`
	FiatSpent         decimal.Decimal `json:"fiat_spent"`
	PlatformFee       decimal.Decimal `json:"platform_fee"`
}

type ApplyReferralRequest struct {
	ReferralCode string `json:"referral_code" validate:"required,max=32"`
}

type ReferralCodeResponse struct {
	Code string `json:"code"`
}

type RewardsResponse struct {
	TotalEarned decimal.Decimal `json:"total_earned"`
	Entries     []LedgerEntry   `json:"entries"`
}

type AdminAdjustRequest struct {
	UserID   string          `json:"user_id" validate:"required"`
	Currency string          `json:"currency" validate:"required,oneof=FIAT LOYALTY"`
	Action   string          `json:"action" validate:"required,oneof=add deduct"`
	Amount   decimal.Decimal `json:"amount"`
}

type FreezeRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Frozen bool   `json:"frozen"`
}

const (
	MessageReferralApplied = "Referral code applied. Your referrer is rewarded on your first completed order."
)

type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Event types published after each committed mutation.
const (
	EventBalanceChanged = "wallet.balance_changed"
	EventOrderUpdated   = "order.updated"
	EventListingSold    = "exchange.listing_sold"
)

// KafkaMessage is the wallet event written to the events topic, keyed by wallet ID.
type KafkaMessage struct {
	EventID                 string          `json:"event_id"`
	Type                    string          `json:"type"`
	UserID                  string          `json:"user_id"`
	WalletID                string          `json:"wallet_id"`
	FiatBalance             decimal.Decimal `json:"fiat_balance"`
	LoyaltyBalance          decimal.Decimal `json:"loyalty_balance"`
	InitialAllocation       decimal.Decimal `json:"initial_allocation"`
	CumulativePurchaseValue decimal.Decimal `json:"cumulative_purchase_value"`
	Reference               string          `json:"reference,omitempty"`
	Message                 string          `json:"message,omitempty"`
	OccurredAt              time.Time       `json:"occurred_at"`
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

// Order status constants
const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusEscrowed  OrderStatus = "ESCROWED"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCanceled  OrderStatus = "CANCELED"
	OrderStatusRefunded  OrderStatus = "REFUNDED"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCanceled || s == OrderStatusRefunded
}

// SettlementType selects the split rules applied on delivery.
type SettlementType string

const (
	SettlementCash    SettlementType = "CASH"
	SettlementLoyalty SettlementType = "LOYALTY"
)

type Order struct {
	ID               string          `db:"id" json:"id"`
	BuyerID          string          `db:"buyer_id" json:"buyer_id"`
	SellerID         string          `db:"seller_id" json:"seller_id"`
	ProductID        string          `db:"product_id" json:"product_id"`
	Quantity         int             `db:"quantity" json:"quantity"`
	UnitPrice        decimal.Decimal `db:"unit_price" json:"unit_price"`
	TotalPrice       decimal.Decimal `db:"total_price" json:"total_price"`
	Settlement       SettlementType  `db:"settlement" json:"settlement"`
	Status           OrderStatus     `db:"status" json:"status"`
	PaymentReference *string         `db:"payment_reference" json:"payment_reference,omitempty"`
	EscrowFiat       decimal.Decimal `db:"escrow_fiat" json:"escrow_fiat"`
	EscrowLoyalty    decimal.Decimal `db:"escrow_loyalty" json:"escrow_loyalty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
	PaidAt           *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	CompletedAt      *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CanceledAt       *time.Time      `db:"canceled_at" json:"canceled_at,omitempty"`
}

type ListingStatus string

const (
	ListingStatusActive    ListingStatus = "active"
	ListingStatusSold      ListingStatus = "sold"
	ListingStatusCancelled ListingStatus = "cancelled"
)

type ExchangeListing struct {
	ID           string          `db:"id" json:"id"`
	SellerID     string          `db:"seller_id" json:"seller_id"`
	Quantity     decimal.Decimal `db:"quantity" json:"quantity"`
	PricePerUnit decimal.Decimal `db:"price_per_unit" json:"price_per_unit"`
	TotalPrice   decimal.Decimal `db:"total_price" json:"total_price"`
	Status       ListingStatus   `db:"status" json:"status"`
	BuyerID      *string         `db:"buyer_id" json:"buyer_id,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	SoldAt       *time.Time      `db:"sold_at" json:"sold_at,omitempty"`
}

type Referral struct {
	ReferrerID     string          `db:"referrer_id" json:"referrer_id"`
	ReferredUserID string          `db:"referred_user_id" json:"referred_user_id"`
	Code           string          `db:"code" json:"code"`
	Rewarded       bool            `db:"rewarded" json:"rewarded"`
	RewardAmount   decimal.Decimal `db:"reward_amount" json:"reward_amount"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	RewardedAt     *time.Time      `db:"rewarded_at" json:"rewarded_at,omitempty"`
}

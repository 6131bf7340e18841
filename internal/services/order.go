package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"loyalty-ledger/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const expireBatchSize = 100

// OrderService drives the escrow state machine:
//
//	PENDING -> ESCROWED -> COMPLETED
//	PENDING -> CANCELED
//	ESCROWED -> REFUNDED
type OrderService struct {
	deps      *Deps
	referrals *ReferralService
}

func NewOrderService(deps *Deps, referrals *ReferralService) *OrderService {
	return &OrderService{deps: deps, referrals: referrals}
}

// Create opens a PENDING order for quantity units of the product. No funds move.
func (s *OrderService) Create(ctx context.Context, buyerID string, req models.CreateOrderRequest) (*models.Order, error) {
	if req.Quantity < 1 {
		return nil, models.ErrInvalidQuantity
	}
	settlement, err := parseSettlement(req.Settlement)
	if err != nil {
		return nil, err
	}

	product, err := s.deps.Store.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if product.SellerID == buyerID {
		return nil, models.ErrSelfDealing
	}
	total := product.Price.Mul(decimal.NewFromInt(int64(req.Quantity))).Round(2)

	var order *models.Order
	err = s.deps.mutate(ctx, "order.create", func(ctx context.Context, tx Tx, j *journal) error {
		wallets, err := lockWallets(ctx, tx, buyerID, product.SellerID)
		if err != nil {
			return err
		}
		if err := wallets[buyerID].Active(); err != nil {
			return err
		}
		limit := wallets[product.SellerID].MaxSellableValue(s.deps.Economy.SellingPowerMultiplier)
		if total.GreaterThan(limit) {
			return fmt.Errorf("%w: order total %s, seller max %s", models.ErrSellingCapacityExceeded, total, limit)
		}

		order = &models.Order{
			ID:            uuid.New().String(),
			BuyerID:       buyerID,
			SellerID:      product.SellerID,
			ProductID:     product.ID,
			Quantity:      req.Quantity,
			UnitPrice:     product.Price,
			TotalPrice:    total,
			Settlement:    settlement,
			Status:        models.OrderStatusPending,
			EscrowFiat:    decimal.Zero,
			EscrowLoyalty: decimal.Zero,
			CreatedAt:     j.now,
			UpdatedAt:     j.now,
		}
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ConfirmPayment moves a PENDING order to ESCROWED. The gateway is consulted before any
// lock is taken, so a gateway failure leaves the order PENDING and the call retryable.
// The verified fiat payment is deposited to the buyer and held in escrow; for loyalty
// settlement the remaining share is held from the buyer's loyalty balance.
func (s *OrderService) ConfirmPayment(ctx context.Context, buyerID, orderID, reference string) (*models.Order, error) {
	current, err := s.deps.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if current.BuyerID != buyerID {
		return nil, models.ErrForbidden
	}
	if current.Status != models.OrderStatusPending {
		return nil, invalidTransition(current, models.OrderStatusEscrowed)
	}

	buyerWallet, err := s.deps.Store.GetWalletByUser(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if err := buyerWallet.Active(); err != nil {
		return nil, err
	}

	fiatPart, loyaltyPart := s.escrowSplit(current)
	if err := verifyPayment(ctx, s.deps.Payments, reference, fiatPart); err != nil {
		return nil, err
	}

	var order *models.Order
	err = s.deps.mutate(ctx, "order.confirm_payment", func(ctx context.Context, tx Tx, j *journal) error {
		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusPending {
			return invalidTransition(order, models.OrderStatusEscrowed)
		}
		if err := tx.ClaimReference(ctx, reference); err != nil {
			return err
		}

		wallets, err := lockWallets(ctx, tx, order.BuyerID)
		if err != nil {
			return err
		}
		buyer := wallets[order.BuyerID]
		if err := buyer.Active(); err != nil {
			return err
		}

		if err := j.creditRate(buyer, models.CurrencyFiat, fiatPart, models.ReasonDeposit, reference); err != nil {
			return err
		}
		if err := j.debitRate(buyer, models.CurrencyFiat, fiatPart, models.ReasonEscrowHold, order.ID); err != nil {
			return err
		}
		if err := j.debitRate(buyer, models.CurrencyLoyalty, loyaltyPart, models.ReasonEscrowHold, order.ID); err != nil {
			return err
		}

		order.Status = models.OrderStatusEscrowed
		order.PaymentReference = &reference
		order.EscrowFiat = fiatPart
		order.EscrowLoyalty = loyaltyPart
		order.PaidAt = &j.now
		order.UpdatedAt = j.now
		j.notify(order.SellerID, models.EventOrderUpdated, order.ID, "Payment for your order has been escrowed")
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ConfirmDelivery releases the escrow to the seller and rewards the buyer. Only the
// buyer may confirm, and only once.
func (s *OrderService) ConfirmDelivery(ctx context.Context, buyerID, orderID string) (*models.ConfirmDeliveryResponse, error) {
	var (
		order *models.Order
		bonus decimal.Decimal
	)
	err := s.deps.mutate(ctx, "order.confirm_delivery", func(ctx context.Context, tx Tx, j *journal) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.BuyerID != buyerID {
			return models.ErrForbidden
		}
		if order.Status != models.OrderStatusEscrowed {
			return invalidTransition(order, models.OrderStatusCompleted)
		}

		referral, err := tx.LockReferral(ctx, order.BuyerID)
		if err != nil {
			return err
		}
		users := []string{order.BuyerID, order.SellerID}
		if referral != nil && !referral.Rewarded {
			users = append(users, referral.ReferrerID)
		}
		wallets, err := lockWallets(ctx, tx, users...)
		if err != nil {
			return err
		}
		buyer, seller := wallets[order.BuyerID], wallets[order.SellerID]

		bonus, err = s.settle(j, order, buyer, seller)
		if err != nil {
			return err
		}

		buyer.CumulativePurchaseValue = buyer.CumulativePurchaseValue.Add(order.TotalPrice)
		j.touch(buyer)

		if err := s.referrals.rewardFirstTransaction(ctx, tx, j, referral, wallets, order.TotalPrice); err != nil {
			return err
		}

		order.Status = models.OrderStatusCompleted
		order.CompletedAt = &j.now
		order.UpdatedAt = j.now
		j.notify(order.SellerID, models.EventOrderUpdated, order.ID, "Delivery confirmed, escrow released")
		j.notify(order.BuyerID, models.EventOrderUpdated, order.ID, fmt.Sprintf("You earned %s loyalty units", bonus.StringFixed(2)))
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	s.deps.log().WithFields(logrus.Fields{
		"order_id":    order.ID,
		"settlement":  order.Settlement,
		"total":       order.TotalPrice.String(),
		"buyer_bonus": bonus.String(),
	}).Info("order completed")

	return &models.ConfirmDeliveryResponse{
		OrderID:    order.ID,
		Status:     order.Status,
		BuyerBonus: bonus,
	}, nil
}

// settle posts the release legs for the order's settlement type and returns the
// loyalty units the buyer received.
func (s *OrderService) settle(j *journal, order *models.Order, buyer, seller *models.Wallet) (decimal.Decimal, error) {
	eco := s.deps.Economy
	mint := share(order.TotalPrice, eco.MintRate)

	if err := j.creditRate(seller, models.CurrencyFiat, order.EscrowFiat, models.ReasonEscrowRelease, order.ID); err != nil {
		return decimal.Zero, err
	}

	bonus := mint
	switch order.Settlement {
	case models.SettlementLoyalty:
		if err := j.creditRate(seller, models.CurrencyLoyalty, order.EscrowLoyalty, models.ReasonEscrowRelease, order.ID); err != nil {
			return decimal.Zero, err
		}
	default:
		fee := share(order.TotalPrice, eco.SaleFeeRate)
		if err := j.debitRate(seller, models.CurrencyLoyalty, fee, models.ReasonSaleFee, order.ID); err != nil {
			return decimal.Zero, err
		}
		if err := j.creditRate(buyer, models.CurrencyLoyalty, fee, models.ReasonRewardTransfer, order.ID); err != nil {
			return decimal.Zero, err
		}
		bonus = bonus.Add(fee)
	}

	if err := j.creditRate(buyer, models.CurrencyLoyalty, mint, models.ReasonRewardMint, order.ID); err != nil {
		return decimal.Zero, err
	}
	return bonus, nil
}

// Cancel abandons a PENDING order. Nothing was escrowed, so no funds move.
func (s *OrderService) Cancel(ctx context.Context, buyerID, orderID string) (*models.Order, error) {
	return s.cancel(ctx, "order.cancel", orderID, func(o *models.Order) error {
		if o.BuyerID != buyerID {
			return models.ErrForbidden
		}
		return nil
	})
}

func (s *OrderService) cancel(ctx context.Context, op, orderID string, authorize func(*models.Order) error) (*models.Order, error) {
	var order *models.Order
	err := s.deps.mutate(ctx, op, func(ctx context.Context, tx Tx, j *journal) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := authorize(order); err != nil {
			return err
		}
		if order.Status != models.OrderStatusPending {
			return invalidTransition(order, models.OrderStatusCanceled)
		}

		order.Status = models.OrderStatusCanceled
		order.CanceledAt = &j.now
		order.UpdatedAt = j.now
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Refund returns the escrow of an ESCROWED order to the buyer. The seller or an
// administrator may refund. No loyalty was minted yet, so nothing else is reversed.
func (s *OrderService) Refund(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error) {
	var order *models.Order
	err := s.deps.mutate(ctx, "order.refund", func(ctx context.Context, tx Tx, j *journal) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.Admin && order.SellerID != actor.UserID {
			return models.ErrForbidden
		}
		if order.Status != models.OrderStatusEscrowed {
			return invalidTransition(order, models.OrderStatusRefunded)
		}

		wallets, err := lockWallets(ctx, tx, order.BuyerID)
		if err != nil {
			return err
		}
		buyer := wallets[order.BuyerID]
		if err := j.creditRate(buyer, models.CurrencyFiat, order.EscrowFiat, models.ReasonEscrowRefund, order.ID); err != nil {
			return err
		}
		if err := j.creditRate(buyer, models.CurrencyLoyalty, order.EscrowLoyalty, models.ReasonEscrowRefund, order.ID); err != nil {
			return err
		}

		order.Status = models.OrderStatusRefunded
		order.UpdatedAt = j.now
		j.notify(order.BuyerID, models.EventOrderUpdated, order.ID, "Your order has been refunded")
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Get returns the order if the actor is a party to it or an administrator.
func (s *OrderService) Get(ctx context.Context, actor models.Actor, orderID string) (*models.Order, error) {
	order, err := s.deps.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.Admin && order.BuyerID != actor.UserID && order.SellerID != actor.UserID {
		return nil, models.ErrOrderNotFound
	}
	return order, nil
}

// ListForUser returns orders where the user is buyer or seller, newest first.
func (s *OrderService) ListForUser(ctx context.Context, userID string) ([]models.Order, error) {
	return s.deps.Store.ListOrdersByUser(ctx, userID)
}

// ExpireStale cancels PENDING orders created more than ttl ago and returns how many
// were canceled. Orders paid in the meantime are skipped.
func (s *OrderService) ExpireStale(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	cutoff := s.deps.now().Add(-ttl)

	expired := 0
	for {
		stale, err := s.deps.Store.ListPendingOrdersBefore(ctx, cutoff, expireBatchSize)
		if err != nil {
			return expired, fmt.Errorf("list stale orders: %w", err)
		}

		progressed := false
		for _, o := range stale {
			_, err := s.cancel(ctx, "order.expire", o.ID, func(*models.Order) error { return nil })
			switch {
			case err == nil:
				expired++
				progressed = true
			case errors.Is(err, models.ErrInvalidState):
			default:
				s.deps.log().WithError(err).WithField("order_id", o.ID).Warn("expire stale order")
			}
		}
		if len(stale) < expireBatchSize || !progressed {
			return expired, nil
		}
	}
}

func (s *OrderService) escrowSplit(o *models.Order) (fiat, loyalty decimal.Decimal) {
	if o.Settlement != models.SettlementLoyalty {
		return o.TotalPrice, decimal.Zero
	}
	fiat = share(o.TotalPrice, s.deps.Economy.LoyaltyFiatShare)
	return fiat, o.TotalPrice.Sub(fiat)
}

func parseSettlement(raw string) (models.SettlementType, error) {
	switch models.SettlementType(strings.ToUpper(strings.TrimSpace(raw))) {
	case "", models.SettlementCash:
		return models.SettlementCash, nil
	case models.SettlementLoyalty:
		return models.SettlementLoyalty, nil
	default:
		return "", fmt.Errorf("%w: unknown settlement %q", models.ErrValidation, raw)
	}
}

func invalidTransition(o *models.Order, to models.OrderStatus) error {
	return fmt.Errorf("%w: order %s is %s, cannot move to %s", models.ErrInvalidState, o.ID, o.Status, to)
}

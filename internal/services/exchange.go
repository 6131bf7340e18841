package services

import (
	"context"
	"fmt"

	"loyalty-ledger/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ExchangeService is the peer market for loyalty units. Listed units are held by the
// listing until it is sold or cancelled.
type ExchangeService struct {
	deps *Deps
}

func NewExchangeService(deps *Deps) *ExchangeService {
	return &ExchangeService{deps: deps}
}

// List offers quantity loyalty units at pricePerUnit. The units leave the seller's
// balance immediately so they cannot be listed twice.
func (s *ExchangeService) List(ctx context.Context, sellerID string, quantity, pricePerUnit decimal.Decimal) (*models.ExchangeListResponse, error) {
	quantity = quantity.Round(2)
	pricePerUnit = pricePerUnit.Round(2)
	if !quantity.IsPositive() || !pricePerUnit.IsPositive() {
		return nil, models.ErrInvalidAmount
	}

	var (
		listing *models.ExchangeListing
		seller  *models.Wallet
	)
	err := s.deps.mutate(ctx, "exchange.list", func(ctx context.Context, tx Tx, j *journal) error {
		wallets, err := lockWallets(ctx, tx, sellerID)
		if err != nil {
			return err
		}
		seller = wallets[sellerID]
		if err := seller.Active(); err != nil {
			return err
		}

		listing = &models.ExchangeListing{
			ID:           uuid.New().String(),
			SellerID:     sellerID,
			Quantity:     quantity,
			PricePerUnit: pricePerUnit,
			TotalPrice:   quantity.Mul(pricePerUnit).Round(2),
			Status:       models.ListingStatusActive,
			CreatedAt:    j.now,
		}
		if err := j.debit(seller, models.CurrencyLoyalty, quantity, models.ReasonExchangeListing, listing.ID); err != nil {
			return err
		}
		return tx.InsertListing(ctx, listing)
	})
	if err != nil {
		return nil, err
	}

	return &models.ExchangeListResponse{
		ListingID:      listing.ID,
		LoyaltyBalance: seller.LoyaltyBalance,
	}, nil
}

// Buy transfers a whole listing to the buyer. The listing row lock serializes
// concurrent buyers: the first to commit wins and the rest see ErrListingAlreadySold.
func (s *ExchangeService) Buy(ctx context.Context, buyerID, listingID string) (*models.ExchangeBuyResponse, error) {
	var (
		listing *models.ExchangeListing
		fee     decimal.Decimal
	)
	err := s.deps.mutate(ctx, "exchange.buy", func(ctx context.Context, tx Tx, j *journal) error {
		var err error
		listing, err = tx.LockListing(ctx, listingID)
		if err != nil {
			return err
		}
		switch listing.Status {
		case models.ListingStatusActive:
		case models.ListingStatusSold:
			return models.ErrListingAlreadySold
		default:
			return fmt.Errorf("%w: listing %s is %s", models.ErrInvalidState, listing.ID, listing.Status)
		}
		if listing.SellerID == buyerID {
			return models.ErrSelfDealing
		}

		wallets, err := lockWallets(ctx, tx, buyerID, listing.SellerID, models.PlatformUserID)
		if err != nil {
			return err
		}
		buyer, seller, platform := wallets[buyerID], wallets[listing.SellerID], wallets[models.PlatformUserID]
		if err := buyer.Active(); err != nil {
			return err
		}

		fee = share(listing.TotalPrice, s.deps.Economy.ExchangeFeeRate)
		if err := j.debit(buyer, models.CurrencyFiat, listing.TotalPrice, models.ReasonExchangePurchase, listing.ID); err != nil {
			return err
		}
		if err := j.creditRate(seller, models.CurrencyFiat, listing.TotalPrice.Sub(fee), models.ReasonExchangeSale, listing.ID); err != nil {
			return err
		}
		if err := j.creditRate(platform, models.CurrencyFiat, fee, models.ReasonPlatformFee, listing.ID); err != nil {
			return err
		}
		if err := j.credit(buyer, models.CurrencyLoyalty, listing.Quantity, models.ReasonExchangePurchase, listing.ID); err != nil {
			return err
		}

		listing.Status = models.ListingStatusSold
		listing.BuyerID = &buyerID
		listing.SoldAt = &j.now
		j.notify(listing.SellerID, models.EventListingSold, listing.ID,
			fmt.Sprintf("Your listing of %s units sold for %s", listing.Quantity.StringFixed(2), listing.TotalPrice.StringFixed(2)))
		return tx.UpdateListing(ctx, listing)
	})
	if err != nil {
		return nil, err
	}

	s.deps.log().WithFields(logrus.Fields{
		"listing_id": listing.ID,
		"buyer_id":   buyerID,
		"quantity":   listing.Quantity.String(),
		"fee":        fee.String(),
	}).Info("exchange listing sold")

	return &models.ExchangeBuyResponse{
		ListingID:         listing.ID,
		BlocksTransferred: listing.Quantity,
		FiatSpent:         listing.TotalPrice,
		PlatformFee:       fee,
	}, nil
}

// Cancel withdraws an active listing and returns its units to the seller.
func (s *ExchangeService) Cancel(ctx context.Context, sellerID, listingID string) (*models.ExchangeListing, error) {
	var listing *models.ExchangeListing
	err := s.deps.mutate(ctx, "exchange.cancel", func(ctx context.Context, tx Tx, j *journal) error {
		var err error
		listing, err = tx.LockListing(ctx, listingID)
		if err != nil {
			return err
		}
		if listing.SellerID != sellerID {
			return models.ErrForbidden
		}
		switch listing.Status {
		case models.ListingStatusActive:
		case models.ListingStatusSold:
			return models.ErrListingAlreadySold
		default:
			return fmt.Errorf("%w: listing %s is %s", models.ErrInvalidState, listing.ID, listing.Status)
		}

		wallets, err := lockWallets(ctx, tx, sellerID)
		if err != nil {
			return err
		}
		if err := j.credit(wallets[sellerID], models.CurrencyLoyalty, listing.Quantity, models.ReasonExchangeListingReturn, listing.ID); err != nil {
			return err
		}

		listing.Status = models.ListingStatusCancelled
		return tx.UpdateListing(ctx, listing)
	})
	if err != nil {
		return nil, err
	}
	return listing, nil
}

func (s *ExchangeService) ActiveListings(ctx context.Context) ([]models.ExchangeListing, error) {
	return s.deps.Store.ListActiveListings(ctx)
}

func (s *ExchangeService) Get(ctx context.Context, listingID string) (*models.ExchangeListing, error) {
	return s.deps.Store.GetListing(ctx, listingID)
}

package services

import (
	"context"
	"errors"
	"fmt"

	"loyalty-ledger/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type AdminService struct {
	deps   *Deps
	wallet *WalletService
}

func NewAdminService(deps *Deps, wallet *WalletService) *AdminService {
	return &AdminService{deps: deps, wallet: wallet}
}

// EnsurePlatformWallet creates the system wallet that collects platform fees.
func (s *AdminService) EnsurePlatformWallet(ctx context.Context) error {
	_, err := s.deps.Store.GetWalletByUser(ctx, models.PlatformUserID)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return err
	}

	err = s.deps.mutate(ctx, "wallet.platform", func(ctx context.Context, tx Tx, j *journal) error {
		return tx.InsertWallet(ctx, &models.Wallet{
			ID:                      uuid.New().String(),
			UserID:                  models.PlatformUserID,
			AccountType:             models.AccountTypeSystem,
			FiatBalance:             decimal.Zero,
			LoyaltyBalance:          decimal.Zero,
			InitialAllocation:       decimal.Zero,
			CumulativePurchaseValue: decimal.Zero,
			CreatedAt:               j.now,
			UpdatedAt:               j.now,
		})
	})
	if errors.Is(err, models.ErrWalletExists) {
		return nil
	}
	return err
}

func (s *AdminService) Summary(ctx context.Context) (*models.PlatformSummary, error) {
	return s.deps.Store.PlatformSummary(ctx)
}

// EscrowSummary lists the escrow currently held for each seller.
func (s *AdminService) EscrowSummary(ctx context.Context) ([]models.SellerEscrow, error) {
	return s.deps.Store.EscrowBySeller(ctx)
}

// SetFrozen freezes or unfreezes a user's wallet. A frozen wallet cannot order, pay,
// trade on the exchange or withdraw; escrow already held still settles.
func (s *AdminService) SetFrozen(ctx context.Context, userID string, frozen bool) (*models.Wallet, error) {
	if userID == models.PlatformUserID {
		return nil, fmt.Errorf("%w: the platform wallet cannot be frozen", models.ErrValidation)
	}

	var wallet *models.Wallet
	err := s.deps.mutate(ctx, "wallet.freeze", func(ctx context.Context, tx Tx, j *journal) error {
		wallets, err := lockWallets(ctx, tx, userID)
		if err != nil {
			return err
		}
		wallet = wallets[userID]
		if wallet.Frozen == frozen {
			return nil
		}
		wallet.Frozen = frozen
		j.touch(wallet)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.deps.log().WithFields(logrus.Fields{"user_id": userID, "frozen": frozen}).Info("wallet freeze updated")
	return wallet, nil
}

func (s *AdminService) Adjust(ctx context.Context, req models.AdminAdjustRequest) (*models.Wallet, error) {
	return s.wallet.AdminAdjust(ctx, req)
}

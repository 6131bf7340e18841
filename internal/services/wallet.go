package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loyalty-ledger/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrCacheMiss is returned by a BalanceCache that holds no snapshot for the user.
var ErrCacheMiss = errors.New("balance not cached")

const settleBatchSize = 100

type WalletService struct {
	deps *Deps
}

func NewWalletService(deps *Deps) *WalletService {
	return &WalletService{deps: deps}
}

// Register creates the user's wallet funded with the tier's initial allocation.
func (s *WalletService) Register(ctx context.Context, userID string, accountType models.AccountType) (*models.Wallet, error) {
	allocation, ok := s.deps.Economy.InitialAllocation[string(accountType)]
	if !ok || accountType == models.AccountTypeSystem {
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedAccountType, accountType)
	}

	var wallet *models.Wallet
	err := s.deps.mutate(ctx, "wallet.register", func(ctx context.Context, tx Tx, j *journal) error {
		wallet = &models.Wallet{
			ID:                      uuid.New().String(),
			UserID:                  userID,
			AccountType:             accountType,
			FiatBalance:             decimal.Zero,
			LoyaltyBalance:          decimal.Zero,
			InitialAllocation:       allocation,
			CumulativePurchaseValue: decimal.Zero,
			CreatedAt:               j.now,
			UpdatedAt:               j.now,
		}
		if err := tx.InsertWallet(ctx, wallet); err != nil {
			return err
		}
		if allocation.IsZero() {
			return nil
		}
		return j.credit(wallet, models.CurrencyLoyalty, allocation, models.ReasonInitialAllocation, wallet.ID)
	})
	if err != nil {
		return nil, err
	}

	s.deps.log().WithFields(logrus.Fields{
		"user_id":      userID,
		"account_type": accountType,
		"allocation":   allocation.String(),
	}).Info("wallet registered")
	return wallet, nil
}

// Credit adds amount to the user's balance in currency and records it under reason.
func (s *WalletService) Credit(ctx context.Context, userID string, currency models.Currency, amount decimal.Decimal, reason models.Reason, ref string) (*models.Wallet, error) {
	return s.post(ctx, "wallet.credit", userID, func(w *models.Wallet, j *journal) error {
		return j.credit(w, currency, amount, reason, ref)
	})
}

// Debit removes amount from the user's balance. The wallet is left untouched when the
// balance would go negative.
func (s *WalletService) Debit(ctx context.Context, userID string, currency models.Currency, amount decimal.Decimal, reason models.Reason, ref string) (*models.Wallet, error) {
	return s.post(ctx, "wallet.debit", userID, func(w *models.Wallet, j *journal) error {
		return j.debit(w, currency, amount, reason, ref)
	})
}

func (s *WalletService) post(ctx context.Context, op, userID string, fn func(w *models.Wallet, j *journal) error) (*models.Wallet, error) {
	var wallet *models.Wallet
	err := s.deps.mutate(ctx, op, func(ctx context.Context, tx Tx, j *journal) error {
		wallets, err := lockWallets(ctx, tx, userID)
		if err != nil {
			return err
		}
		wallet = wallets[userID]
		return fn(wallet, j)
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// MaxSellableValue is the user's selling power: loyalty balance times the multiplier.
func (s *WalletService) MaxSellableValue(ctx context.Context, userID string) (decimal.Decimal, error) {
	wallet, err := s.deps.Store.GetWalletByUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return wallet.MaxSellableValue(s.deps.Economy.SellingPowerMultiplier), nil
}

func (s *WalletService) GetWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	return s.deps.Store.GetWalletByUser(ctx, userID)
}

// GetBalance serves the balance from the cache when present and from the store
// otherwise. Only the event projection writes the cache; commits delete the entry.
func (s *WalletService) GetBalance(ctx context.Context, userID string) (*models.WalletBalanceResponse, error) {
	if s.deps.Cache != nil {
		cached, err := s.deps.Cache.GetBalance(ctx, userID)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			s.deps.log().WithError(err).Warn("balance cache read failed")
		}
	}

	wallet, err := s.deps.Store.GetWalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return BalanceResponse(wallet, s.deps.Economy.SellingPowerMultiplier), nil
}

// Deposit credits fiat after the gateway confirms the payment. A reference is accepted once.
func (s *WalletService) Deposit(ctx context.Context, userID string, amount decimal.Decimal, reference string) (*models.Wallet, error) {
	if !amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	if err := verifyPayment(ctx, s.deps.Payments, reference, amount); err != nil {
		return nil, err
	}

	var wallet *models.Wallet
	err := s.deps.mutate(ctx, "wallet.deposit", func(ctx context.Context, tx Tx, j *journal) error {
		if err := tx.ClaimReference(ctx, reference); err != nil {
			return err
		}
		wallets, err := lockWallets(ctx, tx, userID)
		if err != nil {
			return err
		}
		wallet = wallets[userID]
		return j.credit(wallet, models.CurrencyFiat, amount.Round(2), models.ReasonDeposit, reference)
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// Withdraw pays fiat out to a bank account. It is only allowed once the user has bought
// goods worth at least their initial allocation. The balance is debited and a PENDING
// withdrawal recorded before the payout. A rejected payout is credited back; a payout
// with an unknown outcome stays PENDING until SettleWithdrawals resolves it.
func (s *WalletService) Withdraw(ctx context.Context, userID string, req models.WithdrawRequest) (*models.WithdrawResponse, error) {
	amount := req.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	if s.deps.Payments == nil {
		return nil, fmt.Errorf("%w: payment gateway not configured", models.ErrExternalService)
	}

	withdrawal := &models.Withdrawal{
		ID:            uuid.New().String(),
		UserID:        userID,
		Amount:        amount,
		BankCode:      req.BankCode,
		AccountNumber: req.AccountNumber,
		Status:        models.WithdrawalStatusPending,
	}
	err := s.deps.mutate(ctx, "wallet.withdraw", func(ctx context.Context, tx Tx, j *journal) error {
		wallets, err := lockWallets(ctx, tx, userID)
		if err != nil {
			return err
		}
		wallet := wallets[userID]
		if err := wallet.Active(); err != nil {
			return err
		}
		if wallet.CumulativePurchaseValue.LessThan(wallet.InitialAllocation) {
			return fmt.Errorf("%w: purchased %s of %s", models.ErrWithdrawalLocked, wallet.CumulativePurchaseValue, wallet.InitialAllocation)
		}
		if err := j.debit(wallet, models.CurrencyFiat, amount, models.ReasonWithdrawal, withdrawal.ID); err != nil {
			return err
		}
		withdrawal.CreatedAt = j.now
		withdrawal.UpdatedAt = j.now
		return tx.InsertWithdrawal(ctx, withdrawal)
	})
	if err != nil {
		return nil, err
	}

	logger := s.deps.log().WithFields(logrus.Fields{
		"user_id":       userID,
		"withdrawal_id": withdrawal.ID,
		"amount":        amount.String(),
	})

	transferCode, payoutErr := s.deps.Payments.Payout(ctx, withdrawal.ID, req.BankCode, req.AccountNumber, amount)
	status := models.WithdrawalStatusPending
	switch {
	case payoutErr == nil:
		status = models.WithdrawalStatusCompleted
	case errors.Is(payoutErr, models.ErrPayoutRejected):
		logger.WithError(payoutErr).Warn("payout rejected, reversing withdrawal")
		status = models.WithdrawalStatusReversed
	default:
		logger.WithError(payoutErr).Warn("payout outcome unknown, withdrawal left pending")
	}

	if status != models.WithdrawalStatusPending {
		if err := s.finishWithdrawal(context.WithoutCancel(ctx), withdrawal.ID, status, transferCode); err != nil {
			// the settlement sweep retries from the provider's transfer status
			logger.WithError(err).Error("failed to record payout outcome")
		}
	}
	if status == models.WithdrawalStatusReversed {
		return nil, fmt.Errorf("%w: %v", models.ErrPayoutRejected, payoutErr)
	}

	wallet, err := s.deps.Store.GetWalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.WithdrawResponse{
		Reference:   withdrawal.ID,
		Status:      status,
		FiatBalance: wallet.FiatBalance,
	}, nil
}

// SettleWithdrawals asks the provider about PENDING withdrawals older than age and
// completes or reverses them. A transfer the provider never received is reversed.
func (s *WalletService) SettleWithdrawals(ctx context.Context, age time.Duration) (int, error) {
	if s.deps.Payments == nil {
		return 0, nil
	}
	pending, err := s.deps.Store.ListPendingWithdrawalsBefore(ctx, s.deps.now().Add(-age), settleBatchSize)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, w := range pending {
		logger := s.deps.log().WithFields(logrus.Fields{"withdrawal_id": w.ID, "user_id": w.UserID})

		state, err := s.deps.Payments.TransferStatus(ctx, w.ID)
		if err != nil {
			logger.WithError(err).Warn("transfer status check failed")
			continue
		}

		var status models.WithdrawalStatus
		switch state {
		case TransferSucceeded:
			status = models.WithdrawalStatusCompleted
		case TransferFailed, TransferUnknown:
			status = models.WithdrawalStatusReversed
		default:
			continue
		}
		if err := s.finishWithdrawal(ctx, w.ID, status, ""); err != nil {
			logger.WithError(err).Error("failed to settle withdrawal")
			continue
		}
		logger.WithField("status", status).Info("withdrawal settled")
		settled++
	}
	return settled, nil
}

// finishWithdrawal moves a PENDING withdrawal to status, crediting the amount back on
// reversal. A withdrawal that is already settled is left alone.
func (s *WalletService) finishWithdrawal(ctx context.Context, withdrawalID string, status models.WithdrawalStatus, providerRef string) error {
	return s.deps.mutate(ctx, "wallet.withdraw_settle", func(ctx context.Context, tx Tx, j *journal) error {
		w, err := tx.LockWithdrawal(ctx, withdrawalID)
		if err != nil {
			return err
		}
		if w.Status != models.WithdrawalStatusPending {
			return nil
		}
		if status == models.WithdrawalStatusReversed {
			wallets, err := lockWallets(ctx, tx, w.UserID)
			if err != nil {
				return err
			}
			if err := j.credit(wallets[w.UserID], models.CurrencyFiat, w.Amount, models.ReasonWithdrawalReversal, w.ID); err != nil {
				return err
			}
		}
		w.Status = status
		if providerRef != "" {
			w.ProviderReference = providerRef
		}
		w.UpdatedAt = j.now
		return tx.UpdateWithdrawal(ctx, w)
	})
}

// AdminAdjust adds to or deducts from a user's balance as an administrator.
func (s *WalletService) AdminAdjust(ctx context.Context, req models.AdminAdjustRequest) (*models.Wallet, error) {
	currency := models.Currency(req.Currency)
	if !currency.Valid() {
		return nil, fmt.Errorf("%w: unknown currency %q", models.ErrValidation, req.Currency)
	}
	amount := req.Amount.Round(2)

	switch req.Action {
	case "add":
		return s.Credit(ctx, req.UserID, currency, amount, models.ReasonAdminAdjustment, "admin")
	case "deduct":
		return s.Debit(ctx, req.UserID, currency, amount, models.ReasonAdminAdjustment, "admin")
	default:
		return nil, fmt.Errorf("%w: unknown action %q", models.ErrValidation, req.Action)
	}
}

// Snapshot renders w with the configured selling power multiplier.
func (s *WalletService) Snapshot(w *models.Wallet) *models.WalletBalanceResponse {
	return BalanceResponse(w, s.deps.Economy.SellingPowerMultiplier)
}

// BalanceResponse renders a wallet snapshot.
func BalanceResponse(w *models.Wallet, multiplier decimal.Decimal) *models.WalletBalanceResponse {
	return &models.WalletBalanceResponse{
		UserID:                  w.UserID,
		WalletID:                w.ID,
		FiatBalance:             w.FiatBalance,
		LoyaltyBalance:          w.LoyaltyBalance,
		InitialAllocation:       w.InitialAllocation,
		CumulativePurchaseValue: w.CumulativePurchaseValue,
		MaxSellableValue:        w.MaxSellableValue(multiplier),
		Frozen:                  w.Frozen,
	}
}

// lockWallets locks every user's wallet and fails if one of them has none.
func lockWallets(ctx context.Context, tx Tx, userIDs ...string) (map[string]*models.Wallet, error) {
	wallets, err := tx.LockWallets(ctx, userIDs...)
	if err != nil {
		return nil, err
	}
	for _, id := range userIDs {
		if _, ok := wallets[id]; !ok {
			return nil, fmt.Errorf("%w: user %s", models.ErrWalletNotFound, id)
		}
	}
	return wallets, nil
}

// verifyPayment asks the gateway about reference before any lock is taken.
func verifyPayment(ctx context.Context, gateway PaymentGateway, reference string, amount decimal.Decimal) error {
	if gateway == nil {
		return fmt.Errorf("%w: payment gateway not configured", models.ErrExternalService)
	}
	ok, err := gateway.VerifyPayment(ctx, reference, amount)
	if err != nil {
		if errors.Is(err, models.ErrExternalService) {
			return err
		}
		return fmt.Errorf("%w: %v", models.ErrExternalService, err)
	}
	if !ok {
		return fmt.Errorf("%w: reference %s", models.ErrPaymentVerificationFailed, reference)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}

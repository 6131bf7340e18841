package memoryrepo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/repositories/memoryrepo"
	"loyalty-ledger/internal/services"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWallet(userID string) *models.Wallet {
	now := time.Now().UTC()
	return &models.Wallet{
		ID:                      uuid.NewString(),
		UserID:                  userID,
		AccountType:             models.AccountTypeIndividual,
		FiatBalance:             decimal.Zero,
		LoyaltyBalance:          decimal.NewFromInt(100),
		InitialAllocation:       decimal.NewFromInt(100),
		CumulativePurchaseValue: decimal.Zero,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}

func seedWallet(t *testing.T, s *memoryrepo.Store, userID string) *models.Wallet {
	t.Helper()
	w := newWallet(userID)
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx services.Tx) error {
		return tx.InsertWallet(ctx, w)
	})
	require.NoError(t, err)
	return w
}

func TestWithinTx_RollbackDiscardsStagedWrites(t *testing.T) {
	s := memoryrepo.New(0)
	w := seedWallet(t, s, "alice")
	errAbort := errors.New("abort")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx services.Tx) error {
		wallets, err := tx.LockWallets(ctx, "alice")
		if err != nil {
			return err
		}
		wallet := wallets["alice"]
		wallet.FiatBalance = decimal.NewFromInt(500)
		if err := tx.UpdateWallet(ctx, wallet); err != nil {
			return err
		}
		if err := tx.AppendLedger(ctx, &models.LedgerEntry{
			ID:       uuid.NewString(),
			WalletID: wallet.ID,
			Currency: models.CurrencyFiat,
			Change:   decimal.NewFromInt(500),
			Reason:   models.ReasonDeposit,
		}); err != nil {
			return err
		}
		if err := tx.ClaimReference(ctx, "ref-1"); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	stored, err := s.GetWalletByUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, stored.FiatBalance.IsZero())

	page, err := s.LedgerPage(context.Background(), w.ID, models.LedgerFilter{}, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, page)

	err = s.WithinTx(context.Background(), func(ctx context.Context, tx services.Tx) error {
		return tx.ClaimReference(ctx, "ref-1")
	})
	require.NoError(t, err, "a rolled back reference stays available")
}

func TestWithinTx_CommitAssignsLedgerSequence(t *testing.T) {
	s := memoryrepo.New(0)
	w := seedWallet(t, s, "alice")

	for i := 0; i < 3; i++ {
		err := s.WithinTx(context.Background(), func(ctx context.Context, tx services.Tx) error {
			return tx.AppendLedger(ctx, &models.LedgerEntry{
				ID:       uuid.NewString(),
				WalletID: w.ID,
				Currency: models.CurrencyLoyalty,
				Change:   decimal.NewFromInt(1),
				Reason:   models.ReasonRewardMint,
			})
		})
		require.NoError(t, err)
	}

	page, err := s.LedgerPage(context.Background(), w.ID, models.LedgerFilter{}, 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	for i, e := range page {
		assert.Equal(t, int64(i+1), e.Seq)
	}

	next, err := s.LedgerPage(context.Background(), w.ID, models.LedgerFilter{}, page[1].Seq, 10)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, page[2].ID, next[0].ID)
}

func TestLockWallets_TimesOutUnderContention(t *testing.T) {
	s := memoryrepo.New(50 * time.Millisecond)
	seedWallet(t, s, "alice")

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithinTx(context.Background(), func(ctx context.Context, tx services.Tx) error {
			if _, err := tx.LockWallets(ctx, "alice"); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx services.Tx) error {
		_, err := tx.LockWallets(ctx, "alice")
		return err
	})
	require.ErrorIs(t, err, models.ErrContention)

	close(release)
	require.NoError(t, <-done)

	err = s.WithinTx(context.Background(), func(ctx context.Context, tx services.Tx) error {
		_, err := tx.LockWallets(ctx, "alice")
		return err
	})
	require.NoError(t, err, "the lock is released after commit")
}

func TestStore_Uniqueness(t *testing.T) {
	s := memoryrepo.New(0)
	seedWallet(t, s, "alice")
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, tx services.Tx) error {
		return tx.InsertWallet(ctx, newWallet("alice"))
	})
	require.ErrorIs(t, err, models.ErrWalletExists)

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx services.Tx) error {
		return tx.ClaimReference(ctx, "ref-1")
	}))
	err = s.WithinTx(ctx, func(ctx context.Context, tx services.Tx) error {
		return tx.ClaimReference(ctx, "ref-1")
	})
	require.ErrorIs(t, err, models.ErrDuplicateReference)

	_, err = s.GetOrder(ctx, "missing")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestCreateNotifications_Deduplicates(t *testing.T) {
	s := memoryrepo.New(0)
	ctx := context.Background()
	n := models.Notification{ID: uuid.NewString(), UserID: "alice", Type: models.EventOrderUpdated, CreatedAt: time.Now()}

	require.NoError(t, s.CreateNotifications(ctx, []models.Notification{n}))
	require.NoError(t, s.CreateNotifications(ctx, []models.Notification{n}))

	list, err := s.ListNotifications(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

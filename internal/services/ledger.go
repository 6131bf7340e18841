package services

import (
	"context"
	"fmt"
	"iter"

	"loyalty-ledger/internal/models"

	"github.com/shopspring/decimal"
)

const ledgerPageSize = 100

type LedgerService struct {
	deps     *Deps
	pageSize int
}

func NewLedgerService(deps *Deps) *LedgerService {
	return &LedgerService{deps: deps, pageSize: ledgerPageSize}
}

// History yields the wallet's entries oldest first, fetching one page at a time.
// Every range over the returned sequence starts again from the first entry.
func (s *LedgerService) History(ctx context.Context, walletID string, filter models.LedgerFilter) iter.Seq2[models.LedgerEntry, error] {
	return func(yield func(models.LedgerEntry, error) bool) {
		var after int64
		for {
			page, err := s.deps.Store.LedgerPage(ctx, walletID, filter, after, s.pageSize)
			if err != nil {
				yield(models.LedgerEntry{}, fmt.Errorf("ledger page after %d: %w", after, err))
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
				after = e.Seq
			}
			if len(page) < s.pageSize {
				return
			}
		}
	}
}

// HistoryForUser resolves the user's wallet and collects its filtered history.
func (s *LedgerService) HistoryForUser(ctx context.Context, userID string, filter models.LedgerFilter) ([]models.LedgerEntry, error) {
	wallet, err := s.deps.Store.GetWalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	entries := make([]models.LedgerEntry, 0)
	for e, err := range s.History(ctx, wallet.ID, filter) {
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Reconciliation compares stored balances with the sum of ledger changes.
type Reconciliation struct {
	WalletID       string          `json:"wallet_id"`
	FiatBalance    decimal.Decimal `json:"fiat_balance"`
	FiatLedger     decimal.Decimal `json:"fiat_ledger"`
	LoyaltyBalance decimal.Decimal `json:"loyalty_balance"`
	LoyaltyLedger  decimal.Decimal `json:"loyalty_ledger"`
	Entries        int             `json:"entries"`
}

func (r Reconciliation) Balanced() bool {
	return r.FiatBalance.Equal(r.FiatLedger) && r.LoyaltyBalance.Equal(r.LoyaltyLedger)
}

// Reconcile replays the user's ledger and checks it against the wallet row.
func (s *LedgerService) Reconcile(ctx context.Context, userID string) (*Reconciliation, error) {
	wallet, err := s.deps.Store.GetWalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	rec := &Reconciliation{
		WalletID:       wallet.ID,
		FiatBalance:    wallet.FiatBalance,
		LoyaltyBalance: wallet.LoyaltyBalance,
		FiatLedger:     decimal.Zero,
		LoyaltyLedger:  decimal.Zero,
	}
	for e, err := range s.History(ctx, wallet.ID, models.LedgerFilter{}) {
		if err != nil {
			return nil, err
		}
		rec.Entries++
		if e.Currency == models.CurrencyLoyalty {
			rec.LoyaltyLedger = rec.LoyaltyLedger.Add(e.Change)
		} else {
			rec.FiatLedger = rec.FiatLedger.Add(e.Change)
		}
	}

	if !rec.Balanced() {
		s.deps.log().WithField("wallet_id", wallet.ID).Error("ledger does not reconcile with wallet balance")
	}
	return rec, nil
}

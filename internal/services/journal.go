package services

import (
	"context"
	"fmt"
	"time"

	"loyalty-ledger/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// journal stages balance mutations of one transaction together with their ledger
// entries, and writes both in flush.
type journal struct {
	tx      Tx
	now     time.Time
	touched map[string]*models.Wallet
	order   []string
	entries []models.LedgerEntry
	notices []models.KafkaMessage
}

func newJournal(tx Tx, now time.Time) *journal {
	return &journal{
		tx:      tx,
		now:     now,
		touched: make(map[string]*models.Wallet),
	}
}

func (j *journal) credit(w *models.Wallet, c models.Currency, amount decimal.Decimal, reason models.Reason, ref string) error {
	if !amount.IsPositive() {
		return models.ErrInvalidAmount
	}
	return j.post(w, c, amount, reason, ref)
}

func (j *journal) debit(w *models.Wallet, c models.Currency, amount decimal.Decimal, reason models.Reason, ref string) error {
	if !amount.IsPositive() {
		return models.ErrInvalidAmount
	}
	if w.Balance(c).LessThan(amount) {
		return fmt.Errorf("%w: %s %s balance %s, need %s", models.ErrInsufficientFunds, w.UserID, c, w.Balance(c), amount)
	}
	return j.post(w, c, amount.Neg(), reason, ref)
}

// creditRate credits a computed share; a zero share (rate 0) posts nothing.
func (j *journal) creditRate(w *models.Wallet, c models.Currency, amount decimal.Decimal, reason models.Reason, ref string) error {
	if amount.IsZero() {
		return nil
	}
	return j.credit(w, c, amount, reason, ref)
}

func (j *journal) debitRate(w *models.Wallet, c models.Currency, amount decimal.Decimal, reason models.Reason, ref string) error {
	if amount.IsZero() {
		return nil
	}
	return j.debit(w, c, amount, reason, ref)
}

func (j *journal) post(w *models.Wallet, c models.Currency, change decimal.Decimal, reason models.Reason, ref string) error {
	after := w.Balance(c).Add(change)
	if after.IsNegative() {
		return models.ErrInsufficientFunds
	}
	w.SetBalance(c, after)
	w.UpdatedAt = j.now

	if _, ok := j.touched[w.ID]; !ok {
		j.touched[w.ID] = w
		j.order = append(j.order, w.ID)
	}
	j.entries = append(j.entries, models.LedgerEntry{
		ID:           uuid.New().String(),
		WalletID:     w.ID,
		Currency:     c,
		Change:       change,
		BalanceAfter: after,
		Reason:       reason,
		Reference:    ref,
		CreatedAt:    j.now,
	})
	return nil
}

// touch marks a wallet as modified without a balance change.
func (j *journal) touch(w *models.Wallet) {
	w.UpdatedAt = j.now
	if _, ok := j.touched[w.ID]; !ok {
		j.touched[w.ID] = w
		j.order = append(j.order, w.ID)
	}
}

// notify queues a user-facing event published after commit.
func (j *journal) notify(userID, eventType, ref, message string) {
	j.notices = append(j.notices, models.KafkaMessage{
		EventID:    uuid.New().String(),
		Type:       eventType,
		UserID:     userID,
		Reference:  ref,
		Message:    message,
		OccurredAt: j.now,
	})
}

func (j *journal) flush(ctx context.Context) error {
	for _, id := range j.order {
		if err := j.tx.UpdateWallet(ctx, j.touched[id]); err != nil {
			return err
		}
	}
	for i := range j.entries {
		if err := j.tx.AppendLedger(ctx, &j.entries[i]); err != nil {
			return err
		}
	}
	return nil
}

func (j *journal) wallets() []*models.Wallet {
	out := make([]*models.Wallet, 0, len(j.order))
	for _, id := range j.order {
		out = append(out, j.touched[id])
	}
	return out
}

// share returns amount*rate rounded to the ledger's two decimal places.
func share(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(2)
}

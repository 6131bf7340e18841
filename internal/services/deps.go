package services

import (
	"context"
	"time"

	"loyalty-ledger/internal/config"
	"loyalty-ledger/internal/metrics"
	"loyalty-ledger/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Deps are the collaborators shared by every service. Cache, Events and Payments are
// optional; a nil Cache or Events simply skips that side effect.
type Deps struct {
	Store    Store
	Cache    BalanceCache
	Events   EventPublisher
	Payments PaymentGateway
	Economy  config.EconomyConfig
	Logger   *logrus.Logger
	Now      func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Deps) log() *logrus.Logger {
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	return d.Logger
}

// mutate runs fn in one transaction with a fresh journal, writes the journal, and
// applies the post-commit effects only when the commit succeeded.
func (d *Deps) mutate(ctx context.Context, op string, fn func(ctx context.Context, tx Tx, j *journal) error) error {
	var j *journal
	err := d.Store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		j = newJournal(tx, d.now())
		if err := fn(ctx, tx, j); err != nil {
			return err
		}
		return j.flush(ctx)
	})
	metrics.ObserveOperation(op, err)
	if err != nil {
		return err
	}

	d.afterCommit(context.WithoutCancel(ctx), op, j)
	return nil
}

func (d *Deps) afterCommit(ctx context.Context, op string, j *journal) {
	metrics.RecordLedger(j.entries)

	msgs := make([]models.KafkaMessage, 0, len(j.order)+len(j.notices))
	for _, w := range j.wallets() {
		if d.Cache != nil {
			if err := d.Cache.DeleteBalance(ctx, w.UserID); err != nil {
				d.log().WithError(err).WithField("user_id", w.UserID).Warn("balance cache invalidation failed")
			}
		}
		msgs = append(msgs, balanceEvent(w, op, j.now))
	}
	msgs = append(msgs, j.notices...)

	if d.Events == nil || len(msgs) == 0 {
		return
	}
	if err := d.Events.SendEvents(ctx, msgs...); err != nil {
		d.log().WithError(err).WithFields(logrus.Fields{
			"operation": op,
			"events":    len(msgs),
		}).Error("publish wallet events")
	}
}

func balanceEvent(w *models.Wallet, op string, at time.Time) models.KafkaMessage {
	return models.KafkaMessage{
		EventID:                 uuid.New().String(),
		Type:                    models.EventBalanceChanged,
		UserID:                  w.UserID,
		WalletID:                w.ID,
		FiatBalance:             w.FiatBalance,
		LoyaltyBalance:          w.LoyaltyBalance,
		InitialAllocation:       w.InitialAllocation,
		CumulativePurchaseValue: w.CumulativePurchaseValue,
		Reference:               op,
		OccurredAt:              at,
	}
}

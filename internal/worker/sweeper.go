package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// OrderExpirer cancels PENDING orders older than ttl.
type OrderExpirer interface {
	ExpireStale(ctx context.Context, ttl time.Duration) (int, error)
}

// OrderSweeper periodically cancels unpaid orders.
type OrderSweeper struct {
	orders   OrderExpirer
	ttl      time.Duration
	interval time.Duration
	log      logrus.FieldLogger
}

func NewOrderSweeper(orders OrderExpirer, ttl, interval time.Duration, log logrus.FieldLogger) *OrderSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &OrderSweeper{orders: orders, ttl: ttl, interval: interval, log: log}
}

// Run sweeps every interval until ctx is canceled. A zero ttl disables it.
func (s *OrderSweeper) Run(ctx context.Context) {
	if s.ttl <= 0 {
		s.log.Info("pending order expiry disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *OrderSweeper) sweep(ctx context.Context) {
	expired, err := s.orders.ExpireStale(ctx, s.ttl)
	if err != nil {
		s.log.WithError(err).Error("failed to expire pending orders")
	}
	if expired > 0 {
		s.log.WithField("orders", expired).Info("expired pending orders")
	}
}

// WithdrawalSettler resolves PENDING withdrawals older than age against the payment provider.
type WithdrawalSettler interface {
	SettleWithdrawals(ctx context.Context, age time.Duration) (int, error)
}

// PayoutReconciler periodically settles withdrawals whose payout outcome was unknown.
type PayoutReconciler struct {
	withdrawals WithdrawalSettler
	age         time.Duration
	interval    time.Duration
	log         logrus.FieldLogger
}

func NewPayoutReconciler(withdrawals WithdrawalSettler, age, interval time.Duration, log logrus.FieldLogger) *PayoutReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PayoutReconciler{withdrawals: withdrawals, age: age, interval: interval, log: log}
}

// Run settles every interval until ctx is canceled. A zero age disables it.
func (r *PayoutReconciler) Run(ctx context.Context) {
	if r.age <= 0 {
		r.log.Info("withdrawal settlement disabled")
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			settled, err := r.withdrawals.SettleWithdrawals(ctx, r.age)
			if err != nil {
				r.log.WithError(err).Error("failed to settle pending withdrawals")
			}
			if settled > 0 {
				r.log.WithField("withdrawals", settled).Info("settled pending withdrawals")
			}
		}
	}
}

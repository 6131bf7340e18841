// Package memoryrepo is an in-process Store used by tests and local development.
// Row locks are per-key semaphores with a bounded wait; writes are staged per
// transaction and applied on commit only.
package memoryrepo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/services"

	"github.com/shopspring/decimal"
)

const defaultLockTimeout = 2 * time.Second

type Store struct {
	lockTimeout time.Duration

	locksMu sync.Mutex
	locks   map[string]*rowLock

	mu              sync.RWMutex
	seq             int64
	wallets         map[string]models.Wallet // by wallet ID
	walletByUser    map[string]string
	walletByCode    map[string]string
	ledger          []models.LedgerEntry
	references      map[string]struct{}
	orders          map[string]models.Order
	listings        map[string]models.ExchangeListing
	referrals       map[string]models.Referral // by referred user ID
	products        map[string]models.Product
	withdrawals     map[string]models.Withdrawal
	notifications   []models.Notification
	notificationIDs map[string]struct{}
}

var _ services.Store = (*Store)(nil)

func New(lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &Store{
		lockTimeout:     lockTimeout,
		locks:           make(map[string]*rowLock),
		wallets:         make(map[string]models.Wallet),
		walletByUser:    make(map[string]string),
		walletByCode:    make(map[string]string),
		references:      make(map[string]struct{}),
		orders:          make(map[string]models.Order),
		listings:        make(map[string]models.ExchangeListing),
		referrals:       make(map[string]models.Referral),
		products:        make(map[string]models.Product),
		withdrawals:     make(map[string]models.Withdrawal),
		notificationIDs: make(map[string]struct{}),
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx services.Tx) error) error {
	t := newTx(s)
	defer t.release()

	if err := fn(ctx, t); err != nil {
		return err
	}
	return t.commit()
}

// rowLock is a one-slot semaphore. refs counts the holder and every waiter; the
// entry is dropped from the map when it reaches zero.
type rowLock struct {
	ch   chan struct{}
	refs int
}

// acquire takes the row lock for key, waiting at most lockTimeout.
func (s *Store) acquire(ctx context.Context, key string) error {
	s.locksMu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &rowLock{ch: make(chan struct{}, 1)}
		s.locks[key] = l
	}
	l.refs++
	s.locksMu.Unlock()

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-timer.C:
		s.unref(key, l)
		return fmt.Errorf("%w: lock %s", models.ErrContention, key)
	case <-ctx.Done():
		s.unref(key, l)
		return ctx.Err()
	}
}

func (s *Store) releaseLock(key string) {
	s.locksMu.Lock()
	l := s.locks[key]
	s.locksMu.Unlock()
	<-l.ch
	s.unref(key, l)
}

func (s *Store) unref(key string, l *rowLock) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
}

func (s *Store) GetWalletByUser(ctx context.Context, userID string) (*models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.walletByUser[userID]
	if !ok {
		return nil, models.ErrWalletNotFound
	}
	w := s.wallets[id]
	return &w, nil
}

func (s *Store) GetWalletByReferralCode(ctx context.Context, code string) (*models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.walletByCode[code]
	if !ok {
		return nil, models.ErrWalletNotFound
	}
	w := s.wallets[id]
	return &w, nil
}

func (s *Store) LedgerPage(ctx context.Context, walletID string, filter models.LedgerFilter, afterSeq int64, limit int) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// ledger is ordered by Seq, which starts at 1
	start := int(afterSeq)
	if start < 0 {
		start = 0
	}
	page := make([]models.LedgerEntry, 0, limit)
	for i := start; i < len(s.ledger) && len(page) < limit; i++ {
		e := s.ledger[i]
		if e.WalletID == walletID && filter.Match(e) {
			page = append(page, e)
		}
	}
	return page, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	return &o, nil
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Order, 0)
	for _, o := range s.orders {
		if o.BuyerID == userID || o.SellerID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (s *Store) ListPendingOrdersBefore(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Order, 0)
	for _, o := range s.orders {
		if o.Status == models.OrderStatusPending && o.CreatedAt.Before(before) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return !newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetListing(ctx context.Context, listingID string) (*models.ExchangeListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings[listingID]
	if !ok {
		return nil, models.ErrListingNotFound
	}
	return &l, nil
}

func (s *Store) ListActiveListings(ctx context.Context) ([]models.ExchangeListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ExchangeListing, 0)
	for _, l := range s.listings {
		if l.Status == models.ListingStatusActive {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (s *Store) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID]
	if !ok || p.DeletedAt != nil {
		return nil, models.ErrProductNotFound
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context, category string) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Product, 0)
	for _, p := range s.products {
		if p.DeletedAt != nil {
			continue
		}
		if category == "" || strings.EqualFold(p.Category, category) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (s *Store) ListPendingWithdrawalsBefore(ctx context.Context, before time.Time, limit int) ([]models.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Withdrawal, 0)
	for _, w := range s.withdrawals {
		if w.Status == models.WithdrawalStatusPending && w.CreatedAt.Before(before) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return !newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListReferralsByReferrer(ctx context.Context, referrerID string) ([]models.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Referral, 0)
	for _, r := range s.referrals {
		if r.ReferrerID == referrerID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ReferredUserID, out[j].ReferredUserID)
	})
	return out, nil
}

func (s *Store) CreateNotifications(ctx context.Context, notifications []models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range notifications {
		if _, ok := s.notificationIDs[n.ID]; ok {
			continue
		}
		s.notificationIDs[n.ID] = struct{}{}
		s.notifications = append(s.notifications, n)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Notification, 0)
	for i := len(s.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if s.notifications[i].UserID == userID {
			out = append(out, s.notifications[i])
		}
	}
	return out, nil
}

func (s *Store) PlatformSummary(ctx context.Context) (*models.PlatformSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := &models.PlatformSummary{
		CirculatingLoyalty: decimal.Zero,
		TotalMinted:        decimal.Zero,
		PlatformFiatFees:   decimal.Zero,
		EscrowedFiat:       decimal.Zero,
		EscrowedLoyalty:    decimal.Zero,
		PendingWithdrawals: decimal.Zero,
	}
	for _, w := range s.wallets {
		if w.UserID == models.PlatformUserID {
			continue
		}
		sum.Wallets++
		sum.CirculatingLoyalty = sum.CirculatingLoyalty.Add(w.LoyaltyBalance)
	}
	for _, e := range s.ledger {
		switch {
		case e.Currency == models.CurrencyLoyalty && e.Reason.Minted():
			sum.TotalMinted = sum.TotalMinted.Add(e.Change)
		case e.Currency == models.CurrencyFiat && e.Reason == models.ReasonPlatformFee:
			sum.PlatformFiatFees = sum.PlatformFiatFees.Add(e.Change)
		}
	}
	for _, o := range s.orders {
		if o.Status == models.OrderStatusEscrowed {
			sum.EscrowedFiat = sum.EscrowedFiat.Add(o.EscrowFiat)
			sum.EscrowedLoyalty = sum.EscrowedLoyalty.Add(o.EscrowLoyalty)
		}
	}
	for _, w := range s.withdrawals {
		if w.Status == models.WithdrawalStatusPending {
			sum.PendingWithdrawals = sum.PendingWithdrawals.Add(w.Amount)
		}
	}
	for _, l := range s.listings {
		switch l.Status {
		case models.ListingStatusActive:
			sum.ActiveListings++
		case models.ListingStatusSold:
			sum.SoldListings++
		}
	}
	return sum, nil
}

func (s *Store) EscrowBySeller(ctx context.Context) ([]models.SellerEscrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bySeller := make(map[string]*models.SellerEscrow)
	for _, o := range s.orders {
		if o.Status != models.OrderStatusEscrowed {
			continue
		}
		e, ok := bySeller[o.SellerID]
		if !ok {
			e = &models.SellerEscrow{SellerID: o.SellerID, EscrowedFiat: decimal.Zero, EscrowedLoyalty: decimal.Zero}
			bySeller[o.SellerID] = e
		}
		e.Orders++
		e.EscrowedFiat = e.EscrowedFiat.Add(o.EscrowFiat)
		e.EscrowedLoyalty = e.EscrowedLoyalty.Add(o.EscrowLoyalty)
	}

	out := make([]models.SellerEscrow, 0, len(bySeller))
	for _, e := range bySeller {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if cmp := out[i].EscrowedFiat.Cmp(out[j].EscrowedFiat); cmp != 0 {
			return cmp > 0
		}
		return out[i].SellerID < out[j].SellerID
	})
	return out, nil
}

func newerFirst(a, b time.Time, aID, bID string) bool {
	if a.Equal(b) {
		return aID > bID
	}
	return a.After(b)
}

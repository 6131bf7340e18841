package memoryrepo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/services"
)

type tx struct {
	s    *Store
	held []string
	has  map[string]bool

	wallets     map[string]models.Wallet // staged by wallet ID
	newWallets  map[string]bool
	ledger      []models.LedgerEntry
	references  []string
	orders      map[string]models.Order
	listings    map[string]models.ExchangeListing
	referrals   map[string]models.Referral
	products    []models.Product
	deleted     map[string]time.Time
	withdrawals map[string]models.Withdrawal
}

var _ services.Tx = (*tx)(nil)

func newTx(s *Store) *tx {
	return &tx{
		s:           s,
		has:         make(map[string]bool),
		wallets:     make(map[string]models.Wallet),
		newWallets:  make(map[string]bool),
		orders:      make(map[string]models.Order),
		listings:    make(map[string]models.ExchangeListing),
		referrals:   make(map[string]models.Referral),
		deleted:     make(map[string]time.Time),
		withdrawals: make(map[string]models.Withdrawal),
	}
}

func (t *tx) lock(ctx context.Context, key string) error {
	if t.has[key] {
		return nil
	}
	if err := t.s.acquire(ctx, key); err != nil {
		return err
	}
	t.has[key] = true
	t.held = append(t.held, key)
	return nil
}

func (t *tx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.s.releaseLock(t.held[i])
	}
	t.held = nil
}

func (t *tx) LockWallets(ctx context.Context, userIDs ...string) (map[string]*models.Wallet, error) {
	ids := make(map[string]string, len(userIDs)) // wallet ID -> user ID
	t.s.mu.RLock()
	for _, userID := range userIDs {
		if id, ok := t.s.walletByUser[userID]; ok {
			ids[id] = userID
		}
	}
	t.s.mu.RUnlock()
	for id, w := range t.wallets {
		if t.newWallets[id] {
			for _, userID := range userIDs {
				if w.UserID == userID {
					ids[id] = userID
				}
			}
		}
	}

	ordered := make([]string, 0, len(ids))
	for id := range ids {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)

	out := make(map[string]*models.Wallet, len(ordered))
	for _, id := range ordered {
		if err := t.lock(ctx, "wallet:"+id); err != nil {
			return nil, err
		}
		w, ok := t.wallets[id]
		if !ok {
			t.s.mu.RLock()
			w = t.s.wallets[id]
			t.s.mu.RUnlock()
		}
		out[ids[id]] = &w
	}
	return out, nil
}

func (t *tx) InsertWallet(ctx context.Context, wallet *models.Wallet) error {
	if err := t.lock(ctx, "user:"+wallet.UserID); err != nil {
		return err
	}
	t.s.mu.RLock()
	_, exists := t.s.walletByUser[wallet.UserID]
	t.s.mu.RUnlock()
	if exists {
		return models.ErrWalletExists
	}
	for _, w := range t.wallets {
		if w.UserID == wallet.UserID {
			return models.ErrWalletExists
		}
	}
	if err := t.lock(ctx, "wallet:"+wallet.ID); err != nil {
		return err
	}

	t.wallets[wallet.ID] = *wallet
	t.newWallets[wallet.ID] = true
	return nil
}

func (t *tx) UpdateWallet(ctx context.Context, wallet *models.Wallet) error {
	if !t.has["wallet:"+wallet.ID] {
		return fmt.Errorf("update of unlocked wallet %s", wallet.ID)
	}
	t.wallets[wallet.ID] = *wallet
	return nil
}

func (t *tx) AppendLedger(ctx context.Context, entry *models.LedgerEntry) error {
	t.ledger = append(t.ledger, *entry)
	return nil
}

func (t *tx) ClaimReference(ctx context.Context, reference string) error {
	if err := t.lock(ctx, "reference:"+reference); err != nil {
		return err
	}
	t.s.mu.RLock()
	_, used := t.s.references[reference]
	t.s.mu.RUnlock()
	if used {
		return models.ErrDuplicateReference
	}
	for _, r := range t.references {
		if r == reference {
			return models.ErrDuplicateReference
		}
	}
	t.references = append(t.references, reference)
	return nil
}

func (t *tx) InsertOrder(ctx context.Context, order *models.Order) error {
	if err := t.lock(ctx, "order:"+order.ID); err != nil {
		return err
	}
	t.orders[order.ID] = *order
	return nil
}

func (t *tx) LockOrder(ctx context.Context, orderID string) (*models.Order, error) {
	if err := t.lock(ctx, "order:"+orderID); err != nil {
		return nil, err
	}
	if o, ok := t.orders[orderID]; ok {
		return &o, nil
	}
	t.s.mu.RLock()
	o, ok := t.s.orders[orderID]
	t.s.mu.RUnlock()
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	return &o, nil
}

func (t *tx) UpdateOrder(ctx context.Context, order *models.Order) error {
	if !t.has["order:"+order.ID] {
		return fmt.Errorf("update of unlocked order %s", order.ID)
	}
	t.orders[order.ID] = *order
	return nil
}

func (t *tx) InsertListing(ctx context.Context, listing *models.ExchangeListing) error {
	if err := t.lock(ctx, "listing:"+listing.ID); err != nil {
		return err
	}
	t.listings[listing.ID] = *listing
	return nil
}

func (t *tx) LockListing(ctx context.Context, listingID string) (*models.ExchangeListing, error) {
	if err := t.lock(ctx, "listing:"+listingID); err != nil {
		return nil, err
	}
	if l, ok := t.listings[listingID]; ok {
		return &l, nil
	}
	t.s.mu.RLock()
	l, ok := t.s.listings[listingID]
	t.s.mu.RUnlock()
	if !ok {
		return nil, models.ErrListingNotFound
	}
	return &l, nil
}

func (t *tx) UpdateListing(ctx context.Context, listing *models.ExchangeListing) error {
	if !t.has["listing:"+listing.ID] {
		return fmt.Errorf("update of unlocked listing %s", listing.ID)
	}
	t.listings[listing.ID] = *listing
	return nil
}

func (t *tx) InsertReferral(ctx context.Context, referral *models.Referral) error {
	if err := t.lock(ctx, "referral:"+referral.ReferredUserID); err != nil {
		return err
	}
	if _, ok := t.referrals[referral.ReferredUserID]; ok {
		return models.ErrReferralAlreadyApplied
	}
	t.s.mu.RLock()
	_, exists := t.s.referrals[referral.ReferredUserID]
	t.s.mu.RUnlock()
	if exists {
		return models.ErrReferralAlreadyApplied
	}
	t.referrals[referral.ReferredUserID] = *referral
	return nil
}

func (t *tx) LockReferral(ctx context.Context, referredUserID string) (*models.Referral, error) {
	if err := t.lock(ctx, "referral:"+referredUserID); err != nil {
		return nil, err
	}
	if r, ok := t.referrals[referredUserID]; ok {
		return &r, nil
	}
	t.s.mu.RLock()
	r, ok := t.s.referrals[referredUserID]
	t.s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (t *tx) UpdateReferral(ctx context.Context, referral *models.Referral) error {
	if !t.has["referral:"+referral.ReferredUserID] {
		return fmt.Errorf("update of unlocked referral %s", referral.ReferredUserID)
	}
	t.referrals[referral.ReferredUserID] = *referral
	return nil
}

func (t *tx) InsertProduct(ctx context.Context, product *models.Product) error {
	t.products = append(t.products, *product)
	return nil
}

func (t *tx) DeleteProduct(ctx context.Context, productID string, at time.Time) error {
	if err := t.lock(ctx, "product:"+productID); err != nil {
		return err
	}
	t.s.mu.RLock()
	p, ok := t.s.products[productID]
	t.s.mu.RUnlock()
	if !ok || p.DeletedAt != nil {
		return models.ErrProductNotFound
	}
	t.deleted[productID] = at
	return nil
}

func (t *tx) InsertWithdrawal(ctx context.Context, withdrawal *models.Withdrawal) error {
	if err := t.lock(ctx, "withdrawal:"+withdrawal.ID); err != nil {
		return err
	}
	t.withdrawals[withdrawal.ID] = *withdrawal
	return nil
}

func (t *tx) LockWithdrawal(ctx context.Context, withdrawalID string) (*models.Withdrawal, error) {
	if err := t.lock(ctx, "withdrawal:"+withdrawalID); err != nil {
		return nil, err
	}
	if w, ok := t.withdrawals[withdrawalID]; ok {
		return &w, nil
	}
	t.s.mu.RLock()
	w, ok := t.s.withdrawals[withdrawalID]
	t.s.mu.RUnlock()
	if !ok {
		return nil, models.ErrWithdrawalNotFound
	}
	return &w, nil
}

func (t *tx) UpdateWithdrawal(ctx context.Context, withdrawal *models.Withdrawal) error {
	if !t.has["withdrawal:"+withdrawal.ID] {
		return fmt.Errorf("update of unlocked withdrawal %s", withdrawal.ID)
	}
	t.withdrawals[withdrawal.ID] = *withdrawal
	return nil
}

// commit applies the staged writes atomically. Uniqueness is guaranteed by the row
// locks held since staging, so nothing here can fail halfway.
func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, w := range t.wallets {
		if w.ReferralCode == nil {
			continue
		}
		if owner, ok := s.walletByCode[*w.ReferralCode]; ok && owner != id {
			return fmt.Errorf("%w: referral code collision", models.ErrContention)
		}
	}

	for id, w := range t.wallets {
		s.wallets[id] = w
		s.walletByUser[w.UserID] = id
		if w.ReferralCode != nil {
			s.walletByCode[*w.ReferralCode] = id
		}
	}
	for _, e := range t.ledger {
		s.seq++
		e.Seq = s.seq
		s.ledger = append(s.ledger, e)
	}
	for _, r := range t.references {
		s.references[r] = struct{}{}
	}
	for id, o := range t.orders {
		s.orders[id] = o
	}
	for id, l := range t.listings {
		s.listings[id] = l
	}
	for id, r := range t.referrals {
		s.referrals[id] = r
	}
	for _, p := range t.products {
		s.products[p.ID] = p
	}
	for id, at := range t.deleted {
		p := s.products[id]
		deletedAt := at
		p.DeletedAt = &deletedAt
		s.products[id] = p
	}
	for id, w := range t.withdrawals {
		s.withdrawals[id] = w
	}
	return nil
}

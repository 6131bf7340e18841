package postgresrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/services"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	walletColumns     = `id, user_id, account_type, fiat_balance, loyalty_balance, initial_allocation, cumulative_purchase_value, referral_code, frozen, created_at, updated_at`
	ledgerColumns     = `seq, id, wallet_id, currency, change, balance_after, reason, reference, created_at`
	orderColumns      = `id, buyer_id, seller_id, product_id, quantity, unit_price, total_price, settlement, status, payment_reference, escrow_fiat, escrow_loyalty, created_at, updated_at, paid_at, completed_at, canceled_at`
	listingColumns    = `id, seller_id, quantity, price_per_unit, total_price, status, buyer_id, created_at, sold_at`
	referralColumns   = `referrer_id, referred_user_id, code, rewarded, reward_amount, created_at, rewarded_at`
	productColumns    = `id, seller_id, title, description, category, price, created_at`
	withdrawalColumns = `id, user_id, amount, bank_code, account_number, status, provider_reference, created_at, updated_at`
)

type WalletRepo struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

var _ services.Store = (*WalletRepo)(nil)

func NewWalletRepo(db *sqlx.DB, lockTimeout time.Duration) *WalletRepo {
	return &WalletRepo{db: db, lockTimeout: lockTimeout}
}

// WithinTx runs fn in a READ COMMITTED transaction whose row locks give up after
// lockTimeout with ErrContention.
func (r *WalletRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx services.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if r.lockTimeout > 0 {
		// SET does not accept bind parameters
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	if err := fn(ctx, NewTxWalletRepo(tx)); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback error: %v)", err, rollbackErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("failed to commit transaction: %w", err), nil)
	}
	return nil
}

func (r *WalletRepo) GetWalletByUser(ctx context.Context, userID string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.GetContext(ctx, &wallet, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet from postgres: %w", err)
	}
	return &wallet, nil
}

func (r *WalletRepo) GetWalletByReferralCode(ctx context.Context, code string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.GetContext(ctx, &wallet, `SELECT `+walletColumns+` FROM wallets WHERE referral_code = $1`, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet by referral code: %w", err)
	}
	return &wallet, nil
}

func (r *WalletRepo) LedgerPage(ctx context.Context, walletID string, filter models.LedgerFilter, afterSeq int64, limit int) ([]models.LedgerEntry, error) {
	where := []string{"wallet_id = $1", "seq > $2"}
	args := []interface{}{walletID, afterSeq}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.Currency != "" {
		add("currency = $%d", filter.Currency)
	}
	if len(filter.Reasons) > 0 {
		reasons := make([]string, len(filter.Reasons))
		for i, reason := range filter.Reasons {
			reasons[i] = string(reason)
		}
		add("reason = ANY($%d)", pq.Array(reasons))
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at <= $%d", *filter.To)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM ledger_entries WHERE %s ORDER BY seq ASC LIMIT $%d`,
		ledgerColumns, strings.Join(where, " AND "), len(args))

	entries := make([]models.LedgerEntry, 0, limit)
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get ledger page: %w", err)
	}
	return entries, nil
}

func (r *WalletRepo) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	if !validID(orderID) {
		return nil, models.ErrOrderNotFound
	}
	var order models.Order
	err := r.db.GetContext(ctx, &order, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

func (r *WalletRepo) ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	orders := make([]models.Order, 0)
	err := r.db.SelectContext(ctx, &orders, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

func (r *WalletRepo) ListPendingOrdersBefore(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	orders := make([]models.Order, 0)
	err := r.db.SelectContext(ctx, &orders, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`, models.OrderStatusPending, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending orders: %w", err)
	}
	return orders, nil
}

func (r *WalletRepo) GetListing(ctx context.Context, listingID string) (*models.ExchangeListing, error) {
	if !validID(listingID) {
		return nil, models.ErrListingNotFound
	}
	var listing models.ExchangeListing
	err := r.db.GetContext(ctx, &listing, `SELECT `+listingColumns+` FROM exchange_listings WHERE id = $1`, listingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrListingNotFound
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return &listing, nil
}

func (r *WalletRepo) ListActiveListings(ctx context.Context) ([]models.ExchangeListing, error) {
	listings := make([]models.ExchangeListing, 0)
	err := r.db.SelectContext(ctx, &listings, `
		SELECT `+listingColumns+`
		FROM exchange_listings
		WHERE status = $1
		ORDER BY created_at DESC, id DESC
	`, models.ListingStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active listings: %w", err)
	}
	return listings, nil
}

func (r *WalletRepo) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	if !validID(productID) {
		return nil, models.ErrProductNotFound
	}
	var product models.Product
	err := r.db.GetContext(ctx, &product, `SELECT `+productColumns+` FROM products WHERE id = $1 AND deleted_at IS NULL`, productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &product, nil
}

func (r *WalletRepo) ListProducts(ctx context.Context, category string) ([]models.Product, error) {
	products := make([]models.Product, 0)
	err := r.db.SelectContext(ctx, &products, `
		SELECT `+productColumns+`
		FROM products
		WHERE deleted_at IS NULL AND ($1 = '' OR lower(category) = lower($1))
		ORDER BY created_at DESC, id DESC
	`, category)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

func (r *WalletRepo) ListPendingWithdrawalsBefore(ctx context.Context, before time.Time, limit int) ([]models.Withdrawal, error) {
	withdrawals := make([]models.Withdrawal, 0)
	err := r.db.SelectContext(ctx, &withdrawals, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`, models.WithdrawalStatusPending, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending withdrawals: %w", err)
	}
	return withdrawals, nil
}

func (r *WalletRepo) ListReferralsByReferrer(ctx context.Context, referrerID string) ([]models.Referral, error) {
	referrals := make([]models.Referral, 0)
	err := r.db.SelectContext(ctx, &referrals, `
		SELECT `+referralColumns+`
		FROM referrals
		WHERE referrer_id = $1
		ORDER BY created_at DESC
	`, referrerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list referrals: %w", err)
	}
	return referrals, nil
}

func (r *WalletRepo) CreateNotifications(ctx context.Context, notifications []models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, content, is_read, created_at)
		VALUES (:id, :user_id, :type, :content, :is_read, :created_at)
		ON CONFLICT (id) DO NOTHING
	`, notifications)
	if err != nil {
		return fmt.Errorf("failed to insert notifications: %w", err)
	}
	return nil
}

func (r *WalletRepo) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	notifications := make([]models.Notification, 0)
	err := r.db.SelectContext(ctx, &notifications, `
		SELECT id, user_id, type, content, is_read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}

func (r *WalletRepo) PlatformSummary(ctx context.Context) (*models.PlatformSummary, error) {
	var summary models.PlatformSummary

	queries := []struct {
		dest  interface{}
		query string
		args  []interface{}
	}{
		{&summary.CirculatingLoyalty, `SELECT COALESCE(SUM(loyalty_balance), 0) FROM wallets WHERE user_id <> $1`, []interface{}{models.PlatformUserID}},
		{&summary.Wallets, `SELECT COUNT(*) FROM wallets WHERE user_id <> $1`, []interface{}{models.PlatformUserID}},
		{&summary.TotalMinted, `SELECT COALESCE(SUM(change), 0) FROM ledger_entries WHERE currency = $1 AND reason = ANY($2)`,
			[]interface{}{models.CurrencyLoyalty, pq.Array(mintedReasons())}},
		{&summary.PlatformFiatFees, `SELECT COALESCE(SUM(change), 0) FROM ledger_entries WHERE currency = $1 AND reason = $2`,
			[]interface{}{models.CurrencyFiat, models.ReasonPlatformFee}},
		{&summary.EscrowedFiat, `SELECT COALESCE(SUM(escrow_fiat), 0) FROM orders WHERE status = $1`, []interface{}{models.OrderStatusEscrowed}},
		{&summary.EscrowedLoyalty, `SELECT COALESCE(SUM(escrow_loyalty), 0) FROM orders WHERE status = $1`, []interface{}{models.OrderStatusEscrowed}},
		{&summary.PendingWithdrawals, `SELECT COALESCE(SUM(amount), 0) FROM withdrawals WHERE status = $1`, []interface{}{models.WithdrawalStatusPending}},
		{&summary.ActiveListings, `SELECT COUNT(*) FROM exchange_listings WHERE status = $1`, []interface{}{models.ListingStatusActive}},
		{&summary.SoldListings, `SELECT COUNT(*) FROM exchange_listings WHERE status = $1`, []interface{}{models.ListingStatusSold}},
	}
	for _, q := range queries {
		if err := r.db.GetContext(ctx, q.dest, q.query, q.args...); err != nil {
			return nil, fmt.Errorf("failed to build platform summary: %w", err)
		}
	}
	return &summary, nil
}

func (r *WalletRepo) EscrowBySeller(ctx context.Context) ([]models.SellerEscrow, error) {
	escrow := make([]models.SellerEscrow, 0)
	err := r.db.SelectContext(ctx, &escrow, `
		SELECT seller_id,
			COUNT(*) AS orders,
			COALESCE(SUM(escrow_fiat), 0) AS escrowed_fiat,
			COALESCE(SUM(escrow_loyalty), 0) AS escrowed_loyalty
		FROM orders
		WHERE status = $1
		GROUP BY seller_id
		ORDER BY escrowed_fiat DESC, seller_id ASC
	`, models.OrderStatusEscrowed)
	if err != nil {
		return nil, fmt.Errorf("failed to sum escrow by seller: %w", err)
	}
	return escrow, nil
}

func mintedReasons() []string {
	all := []models.Reason{models.ReasonInitialAllocation, models.ReasonRewardMint, models.ReasonReferralReward}
	out := make([]string, 0, len(all))
	for _, reason := range all {
		if reason.Minted() {
			out = append(out, string(reason))
		}
	}
	return out
}

// validID reports whether id can be compared with a UUID column.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

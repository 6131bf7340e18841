package postgresrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/services"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type TxWalletRepo struct {
	tx *sqlx.Tx
}

var _ services.Tx = (*TxWalletRepo)(nil)

func NewTxWalletRepo(tx *sqlx.Tx) *TxWalletRepo {
	return &TxWalletRepo{tx: tx}
}

// LockWallets takes the row locks in wallet id order so concurrent transactions
// touching the same wallets queue instead of deadlocking.
func (r *TxWalletRepo) LockWallets(ctx context.Context, userIDs ...string) (map[string]*models.Wallet, error) {
	wallets := make([]models.Wallet, 0, len(userIDs))
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = ANY($1) ORDER BY id FOR UPDATE`
	if err := r.tx.SelectContext(ctx, &wallets, query, pq.Array(userIDs)); err != nil {
		return nil, mapError(fmt.Errorf("failed to lock wallets: %w", err), nil)
	}

	result := make(map[string]*models.Wallet, len(wallets))
	for i := range wallets {
		result[wallets[i].UserID] = &wallets[i]
	}
	return result, nil
}

func (r *TxWalletRepo) InsertWallet(ctx context.Context, wallet *models.Wallet) error {
	_, err := r.tx.NamedExecContext(ctx, `
		INSERT INTO wallets (`+walletColumns+`)
		VALUES (:id, :user_id, :account_type, :fiat_balance, :loyalty_balance, :initial_allocation,
			:cumulative_purchase_value, :referral_code, :frozen, :created_at, :updated_at)
	`, wallet)
	if err != nil {
		return mapError(err, models.ErrWalletExists)
	}
	return nil
}

func (r *TxWalletRepo) UpdateWallet(ctx context.Context, wallet *models.Wallet) error {
	result, err := r.tx.NamedExecContext(ctx, `
		UPDATE wallets SET
			fiat_balance = :fiat_balance,
			loyalty_balance = :loyalty_balance,
			cumulative_purchase_value = :cumulative_purchase_value,
			referral_code = :referral_code,
			frozen = :frozen,
			updated_at = :updated_at
		WHERE id = :id
	`, wallet)
	if err != nil {
		// a referral code collision is retried with a fresh code
		return mapError(fmt.Errorf("failed to update wallet: %w", err), models.ErrContention)
	}
	return expectRow(result, models.ErrWalletNotFound)
}

func (r *TxWalletRepo) AppendLedger(ctx context.Context, entry *models.LedgerEntry) error {
	rows, err := sqlx.NamedQueryContext(ctx, r.tx, `
		INSERT INTO ledger_entries (id, wallet_id, currency, change, balance_after, reason, reference, created_at)
		VALUES (:id, :wallet_id, :currency, :change, :balance_after, :reason, :reference, :created_at)
		RETURNING seq
	`, entry)
	if err != nil {
		return mapError(fmt.Errorf("failed to append ledger entry: %w", err), nil)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&entry.Seq); err != nil {
			return fmt.Errorf("failed to scan ledger seq: %w", err)
		}
	}
	return rows.Err()
}

func (r *TxWalletRepo) ClaimReference(ctx context.Context, reference string) error {
	_, err := r.tx.ExecContext(ctx, `INSERT INTO payment_references (reference) VALUES ($1)`, reference)
	return mapError(err, models.ErrDuplicateReference)
}

func (r *TxWalletRepo) InsertOrder(ctx context.Context, order *models.Order) error {
	_, err := r.tx.NamedExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (:id, :buyer_id, :seller_id, :product_id, :quantity, :unit_price, :total_price, :settlement,
			:status, :payment_reference, :escrow_fiat, :escrow_loyalty, :created_at, :updated_at,
			:paid_at, :completed_at, :canceled_at)
	`, order)
	if err != nil {
		return mapError(fmt.Errorf("failed to insert order: %w", err), nil)
	}
	return nil
}

func (r *TxWalletRepo) LockOrder(ctx context.Context, orderID string) (*models.Order, error) {
	if !validID(orderID) {
		return nil, models.ErrOrderNotFound
	}
	var order models.Order
	err := r.tx.GetContext(ctx, &order, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrOrderNotFound
		}
		return nil, mapError(fmt.Errorf("failed to lock order: %w", err), nil)
	}
	return &order, nil
}

func (r *TxWalletRepo) UpdateOrder(ctx context.Context, order *models.Order) error {
	result, err := r.tx.NamedExecContext(ctx, `
		UPDATE orders SET
			status = :status,
			payment_reference = :payment_reference,
			escrow_fiat = :escrow_fiat,
			escrow_loyalty = :escrow_loyalty,
			updated_at = :updated_at,
			paid_at = :paid_at,
			completed_at = :completed_at,
			canceled_at = :canceled_at
		WHERE id = :id
	`, order)
	if err != nil {
		return mapError(fmt.Errorf("failed to update order: %w", err), nil)
	}
	return expectRow(result, models.ErrOrderNotFound)
}

func (r *TxWalletRepo) InsertListing(ctx context.Context, listing *models.ExchangeListing) error {
	_, err := r.tx.NamedExecContext(ctx, `
		INSERT INTO exchange_listings (`+listingColumns+`)
		VALUES (:id, :seller_id, :quantity, :price_per_unit, :total_price, :status, :buyer_id, :created_at, :sold_at)
	`, listing)
	if err != nil {
		return mapError(fmt.Errorf("failed to insert listing: %w", err), nil)
	}
	return nil
}

func (r *TxWalletRepo) LockListing(ctx context.Context, listingID string) (*models.ExchangeListing, error) {
	if !validID(listingID) {
		return nil, models.ErrListingNotFound
	}
	var listing models.ExchangeListing
	err := r.tx.GetContext(ctx, &listing, `SELECT `+listingColumns+` FROM exchange_listings WHERE id = $1 FOR UPDATE`, listingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrListingNotFound
		}
		return nil, mapError(fmt.Errorf("failed to lock listing: %w", err), nil)
	}
	return &listing, nil
}

func (r *TxWalletRepo) UpdateListing(ctx context.Context, listing *models.ExchangeListing) error {
	result, err := r.tx.NamedExecContext(ctx, `
		UPDATE exchange_listings SET
			status = :status,
			buyer_id = :buyer_id,
			sold_at = :sold_at
		WHERE id = :id
	`, listing)
	if err != nil {
		return mapError(fmt.Errorf("failed to update listing: %w", err), nil)
	}
	return expectRow(result, models.ErrListingNotFound)
}

func (r *TxWalletRepo) InsertReferral(ctx context.Context, referral *models.Referral) error {
	_, err := r.tx.NamedExecContext(ctx, `
		INSERT INTO referrals (`+referralColumns+`)
		VALUES (:referrer_id, :referred_user_id, :code, :rewarded, :reward_amount, :created_at, :rewarded_at)
	`, referral)
	if err != nil {
		return mapError(err, models.ErrReferralAlreadyApplied)
	}
	return nil
}

func (r *TxWalletRepo) LockReferral(ctx context.Context, referredUserID string) (*models.Referral, error) {
	var referral models.Referral
	err := r.tx.GetContext(ctx, &referral, `SELECT `+referralColumns+` FROM referrals WHERE referred_user_id = $1 FOR UPDATE`, referredUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError(fmt.Errorf("failed to lock referral: %w", err), nil)
	}
	return &referral, nil
}

func (r *TxWalletRepo) UpdateReferral(ctx context.Context, referral *models.Referral) error {
	result, err := r.tx.NamedExecContext(ctx, `
		UPDATE referrals SET
			rewarded = :rewarded,
			reward_amount = :reward_amount,
			rewarded_at = :rewarded_at
		WHERE referred_user_id = :referred_user_id
	`, referral)
	if err != nil {
		return mapError(fmt.Errorf("failed to update referral: %w", err), nil)
	}
	return expectRow(result, models.ErrNotFound)
}

func (r *TxWalletRepo) InsertProduct(ctx context.Context, product *models.Product) error {
	_, err := r.tx.NamedExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (:id, :seller_id, :title, :description, :category, :price, :created_at)
	`, product)
	if err != nil {
		return mapError(fmt.Errorf("failed to insert product: %w", err), nil)
	}
	return nil
}

func (r *TxWalletRepo) DeleteProduct(ctx context.Context, productID string, at time.Time) error {
	if !validID(productID) {
		return models.ErrProductNotFound
	}
	result, err := r.tx.ExecContext(ctx, `UPDATE products SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, productID, at)
	if err != nil {
		return mapError(fmt.Errorf("failed to delete product: %w", err), nil)
	}
	return expectRow(result, models.ErrProductNotFound)
}

func (r *TxWalletRepo) InsertWithdrawal(ctx context.Context, withdrawal *models.Withdrawal) error {
	_, err := r.tx.NamedExecContext(ctx, `
		INSERT INTO withdrawals (`+withdrawalColumns+`)
		VALUES (:id, :user_id, :amount, :bank_code, :account_number, :status, :provider_reference, :created_at, :updated_at)
	`, withdrawal)
	if err != nil {
		return mapError(fmt.Errorf("failed to insert withdrawal: %w", err), nil)
	}
	return nil
}

func (r *TxWalletRepo) LockWithdrawal(ctx context.Context, withdrawalID string) (*models.Withdrawal, error) {
	if !validID(withdrawalID) {
		return nil, models.ErrWithdrawalNotFound
	}
	var withdrawal models.Withdrawal
	err := r.tx.GetContext(ctx, &withdrawal, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, withdrawalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrWithdrawalNotFound
		}
		return nil, mapError(fmt.Errorf("failed to lock withdrawal: %w", err), nil)
	}
	return &withdrawal, nil
}

func (r *TxWalletRepo) UpdateWithdrawal(ctx context.Context, withdrawal *models.Withdrawal) error {
	result, err := r.tx.NamedExecContext(ctx, `
		UPDATE withdrawals SET
			status = :status,
			provider_reference = :provider_reference,
			updated_at = :updated_at
		WHERE id = :id
	`, withdrawal)
	if err != nil {
		return mapError(fmt.Errorf("failed to update withdrawal: %w", err), nil)
	}
	return expectRow(result, models.ErrWithdrawalNotFound)
}

func expectRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

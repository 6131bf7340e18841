package models

import (
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var snakeCase = regexp.MustCompile(`^[a-z][a-z0-9]*(_[a-z0-9]+)*$`)

func jsonKeys(t *testing.T, v interface{}) map[string]bool {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &fields))
	keys := make(map[string]bool, len(fields))
	for k := range fields {
		keys[k] = true
	}
	return keys
}

func TestEntityJSONKeys(t *testing.T) {
	now := time.Now()
	ref := "ref"

	tests := []struct {
		name string
		v    interface{}
		want []string
	}{
		{name: "wallet", v: Wallet{ReferralCode: &ref}, want: []string{"user_id", "account_type", "fiat_balance", "cumulative_purchase_value", "referral_code", "frozen"}},
		{name: "order", v: Order{PaymentReference: &ref, PaidAt: &now}, want: []string{"buyer_id", "seller_id", "product_id", "unit_price", "escrow_fiat", "payment_reference", "paid_at"}},
		{name: "listing", v: ExchangeListing{BuyerID: &ref}, want: []string{"seller_id", "price_per_unit", "total_price", "buyer_id"}},
		{name: "referral", v: Referral{}, want: []string{"referrer_id", "referred_user_id", "reward_amount"}},
		{name: "ledger entry", v: LedgerEntry{Reference: ref}, want: []string{"wallet_id", "balance_after", "timestamp", "reference"}},
		{name: "product", v: Product{}, want: []string{"seller_id", "created_at"}},
		{name: "withdrawal", v: Withdrawal{ProviderReference: "TRF_1"}, want: []string{"user_id", "bank_code", "account_number", "provider_reference"}},
		{name: "seller escrow", v: SellerEscrow{}, want: []string{"seller_id", "escrowed_fiat", "escrowed_loyalty"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := jsonKeys(t, tt.v)
			for k := range keys {
				assert.Regexp(t, snakeCase, k)
			}
			for _, k := range tt.want {
				assert.Truef(t, keys[k], "missing %q in %v", k, keys)
			}
		})
	}

	keys := jsonKeys(t, Product{DeletedAt: &now})
	assert.False(t, keys["deleted_at"])
}

func TestWallet_Active(t *testing.T) {
	w := &Wallet{FiatBalance: decimal.Zero}
	require.NoError(t, w.Active())

	w.Frozen = true
	err := w.Active()
	require.ErrorIs(t, err, ErrAccountFrozen)
	assert.True(t, errors.Is(err, ErrForbidden))
	assert.False(t, IsRetryable(err))
}

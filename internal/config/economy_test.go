package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEconomy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "economy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadEconomy_Defaults(t *testing.T) {
	cfg, err := LoadEconomy("")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10).Equal(cfg.SellingPowerMultiplier))
	assert.True(t, decimal.RequireFromString("0.2").Equal(cfg.ExchangeFeeRate))
	assert.True(t, decimal.NewFromInt(500_000).Equal(cfg.InitialAllocation["venture"]))
}

func TestLoadEconomy_Override(t *testing.T) {
	path := writeEconomy(t, `
mint_rate: "0.05"
exchange_fee_rate: 0.15
initial_allocation:
  individual: "2500"
`)

	cfg, err := LoadEconomy(path)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.05").Equal(cfg.MintRate))
	assert.True(t, decimal.RequireFromString("0.15").Equal(cfg.ExchangeFeeRate))
	assert.True(t, decimal.RequireFromString("0.10").Equal(cfg.SaleFeeRate), "unset rates keep their defaults")
	assert.True(t, decimal.NewFromInt(2500).Equal(cfg.InitialAllocation["individual"]))
	assert.True(t, decimal.NewFromInt(1_000_000).Equal(cfg.InitialAllocation["company"]))
}

func TestLoadEconomy_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "rate above one", body: `sale_fee_rate: "1.5"`},
		{name: "negative rate", body: `mint_rate: "-0.1"`},
		{name: "negative multiplier", body: `selling_power_multiplier: "-2"`},
		{name: "negative allocation", body: "initial_allocation:\n  company: \"-1\"\n"},
		{name: "malformed yaml", body: "mint_rate: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadEconomy(writeEconomy(t, tt.body))
			require.Error(t, err)
		})
	}

	_, err := LoadEconomy(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestKafkaConfig_Enabled(t *testing.T) {
	assert.False(t, (&KafkaConfig{Topic: "wallet-events"}).Enabled())
	assert.True(t, (&KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "wallet-events"}).Enabled())
}

func TestNew_StorageDriver(t *testing.T) {
	t.Setenv("ECONOMY_CONFIG_FILE", "")
	t.Setenv("POSTGRES_URL", "")
	t.Setenv("SERVER_PORT", "")
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("AUTH_TRUST_HEADERS", "")

	t.Setenv("STORAGE_DRIVER", "memory")
	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.True(t, cfg.Auth.TrustHeaders, "in-memory runs use header identity")
	assert.Equal(t, 10*time.Minute, cfg.Worker.WithdrawalSettleAfter)

	t.Setenv("STORAGE_DRIVER", "postgres")
	_, err = New()
	require.Error(t, err, "postgres needs a URL")

	t.Setenv("STORAGE_DRIVER", "mongo")
	_, err = New()
	require.Error(t, err)
}

func TestNew_AuthMode(t *testing.T) {
	t.Setenv("ECONOMY_CONFIG_FILE", "")
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("POSTGRES_URL", "postgres://localhost/loyalty")

	tests := []struct {
		name      string
		secret    string
		trust     string
		wantErr   bool
		wantTrust bool
	}{
		{name: "no secret is refused", wantErr: true},
		{name: "secret", secret: "s3cret"},
		{name: "explicit header opt in", trust: "true", wantTrust: true},
		{name: "opt out is honored", trust: "false", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("AUTH_JWT_SECRET", tt.secret)
			t.Setenv("AUTH_TRUST_HEADERS", tt.trust)

			cfg, err := New()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTrust, cfg.Auth.TrustHeaders)
		})
	}
}

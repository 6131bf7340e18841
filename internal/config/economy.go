package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// EconomyConfig is the loyalty rule set. Every rate is a fraction of the sale value.
type EconomyConfig struct {
	// SellingPowerMultiplier caps listing value at loyalty_balance * multiplier.
	SellingPowerMultiplier decimal.Decimal `yaml:"selling_power_multiplier"`
	// SaleFeeRate is debited from the seller's loyalty balance on cash sales and
	// transferred to the buyer.
	SaleFeeRate decimal.Decimal `yaml:"sale_fee_rate"`
	// MintRate is newly issued to the buyer on every completed order.
	MintRate decimal.Decimal `yaml:"mint_rate"`
	// LoyaltyFiatShare is the fiat part of a loyalty-funded order; the rest is loyalty.
	LoyaltyFiatShare decimal.Decimal `yaml:"loyalty_fiat_share"`
	// ExchangeFeeRate is withheld from the seller's fiat proceeds on exchange sales.
	ExchangeFeeRate decimal.Decimal `yaml:"exchange_fee_rate"`
	// ReferralRewardRate is minted to the referrer on the referred user's first order.
	ReferralRewardRate decimal.Decimal `yaml:"referral_reward_rate"`
	// InitialAllocation maps account type to the loyalty units granted at registration.
	InitialAllocation map[string]decimal.Decimal `yaml:"initial_allocation"`
}

func DefaultEconomy() EconomyConfig {
	return EconomyConfig{
		SellingPowerMultiplier: decimal.NewFromInt(10),
		SaleFeeRate:            decimal.RequireFromString("0.10"),
		MintRate:               decimal.RequireFromString("0.10"),
		LoyaltyFiatShare:       decimal.RequireFromString("0.50"),
		ExchangeFeeRate:        decimal.RequireFromString("0.20"),
		ReferralRewardRate:     decimal.RequireFromString("0.05"),
		InitialAllocation: map[string]decimal.Decimal{
			"individual": decimal.NewFromInt(100_000),
			"venture":    decimal.NewFromInt(500_000),
			"company":    decimal.NewFromInt(1_000_000),
		},
	}
}

// LoadEconomy returns the defaults overlaid with the YAML file at path, if any.
func LoadEconomy(path string) (EconomyConfig, error) {
	cfg := DefaultEconomy()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	var override EconomyConfig
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.merge(override)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *EconomyConfig) merge(o EconomyConfig) {
	set := func(dst *decimal.Decimal, src decimal.Decimal) {
		if !src.IsZero() {
			*dst = src
		}
	}
	set(&c.SellingPowerMultiplier, o.SellingPowerMultiplier)
	set(&c.SaleFeeRate, o.SaleFeeRate)
	set(&c.MintRate, o.MintRate)
	set(&c.LoyaltyFiatShare, o.LoyaltyFiatShare)
	set(&c.ExchangeFeeRate, o.ExchangeFeeRate)
	set(&c.ReferralRewardRate, o.ReferralRewardRate)
	for k, v := range o.InitialAllocation {
		c.InitialAllocation[k] = v
	}
}

func (c EconomyConfig) Validate() error {
	one := decimal.NewFromInt(1)
	rates := map[string]decimal.Decimal{
		"sale_fee_rate":        c.SaleFeeRate,
		"mint_rate":            c.MintRate,
		"loyalty_fiat_share":   c.LoyaltyFiatShare,
		"exchange_fee_rate":    c.ExchangeFeeRate,
		"referral_reward_rate": c.ReferralRewardRate,
	}
	for name, rate := range rates {
		if rate.IsNegative() || rate.GreaterThan(one) {
			return fmt.Errorf("%s must be within [0, 1], got %s", name, rate)
		}
	}
	if !c.SellingPowerMultiplier.IsPositive() {
		return fmt.Errorf("selling_power_multiplier must be positive")
	}
	for tier, amount := range c.InitialAllocation {
		if amount.IsNegative() {
			return fmt.Errorf("initial_allocation[%s] must not be negative", tier)
		}
	}
	return nil
}

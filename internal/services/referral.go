package services

import (
	"context"
	"fmt"
	"strings"

	"loyalty-ledger/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const referralCodeLength = 8

type ReferralService struct {
	deps   *Deps
	ledger *LedgerService
}

func NewReferralService(deps *Deps, ledger *LedgerService) *ReferralService {
	return &ReferralService{deps: deps, ledger: ledger}
}

// GenerateCode returns the user's referral code, creating it on first use.
func (s *ReferralService) GenerateCode(ctx context.Context, userID string) (string, error) {
	var code string
	err := s.deps.mutate(ctx, "referral.generate", func(ctx context.Context, tx Tx, j *journal) error {
		wallets, err := lockWallets(ctx, tx, userID)
		if err != nil {
			return err
		}
		w := wallets[userID]
		if w.ReferralCode != nil {
			code = *w.ReferralCode
			return nil
		}

		code = newReferralCode()
		w.ReferralCode = &code
		j.touch(w)
		return nil
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// Apply links the referred user to the owner of code. A user can be referred once.
func (s *ReferralService) Apply(ctx context.Context, referredID, code string) (*models.Referral, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, models.ErrInvalidCode
	}

	referrer, err := s.deps.Store.GetWalletByReferralCode(ctx, code)
	if err != nil {
		if isNotFound(err) {
			return nil, models.ErrInvalidCode
		}
		return nil, err
	}
	if referrer.UserID == referredID {
		return nil, fmt.Errorf("%w: cannot use your own code", models.ErrInvalidCode)
	}

	var referral *models.Referral
	err = s.deps.mutate(ctx, "referral.apply", func(ctx context.Context, tx Tx, j *journal) error {
		existing, err := tx.LockReferral(ctx, referredID)
		if err != nil {
			return err
		}
		if existing != nil {
			return models.ErrReferralAlreadyApplied
		}
		if _, err := lockWallets(ctx, tx, referredID); err != nil {
			return err
		}

		referral = &models.Referral{
			ReferrerID:     referrer.UserID,
			ReferredUserID: referredID,
			Code:           code,
			RewardAmount:   decimal.Zero,
			CreatedAt:      j.now,
		}
		return tx.InsertReferral(ctx, referral)
	})
	if err != nil {
		return nil, err
	}
	return referral, nil
}

// OnFirstQualifyingTransaction rewards the referrer of referredID once. Later calls
// for the same user do nothing.
func (s *ReferralService) OnFirstQualifyingTransaction(ctx context.Context, referredID string, value decimal.Decimal) error {
	return s.deps.mutate(ctx, "referral.reward", func(ctx context.Context, tx Tx, j *journal) error {
		referral, err := tx.LockReferral(ctx, referredID)
		if err != nil {
			return err
		}
		if referral == nil || referral.Rewarded {
			return nil
		}
		wallets, err := lockWallets(ctx, tx, referral.ReferrerID)
		if err != nil {
			return err
		}
		return s.rewardFirstTransaction(ctx, tx, j, referral, wallets, value)
	})
}

// rewardFirstTransaction mints the referral reward inside the caller's transaction.
// The referral row and the referrer's wallet must already be locked.
func (s *ReferralService) rewardFirstTransaction(ctx context.Context, tx Tx, j *journal, referral *models.Referral, wallets map[string]*models.Wallet, value decimal.Decimal) error {
	if referral == nil || referral.Rewarded {
		return nil
	}
	referrer, ok := wallets[referral.ReferrerID]
	if !ok {
		return fmt.Errorf("%w: referrer %s", models.ErrWalletNotFound, referral.ReferrerID)
	}

	reward := share(value, s.deps.Economy.ReferralRewardRate)
	if err := j.creditRate(referrer, models.CurrencyLoyalty, reward, models.ReasonReferralReward, referral.ReferredUserID); err != nil {
		return err
	}

	referral.Rewarded = true
	referral.RewardAmount = reward
	referral.RewardedAt = &j.now
	j.notify(referral.ReferrerID, models.EventBalanceChanged, referral.ReferredUserID,
		fmt.Sprintf("You earned %s loyalty units from a referral", reward.StringFixed(2)))
	return tx.UpdateReferral(ctx, referral)
}

func (s *ReferralService) MyReferrals(ctx context.Context, referrerID string) ([]models.Referral, error) {
	return s.deps.Store.ListReferralsByReferrer(ctx, referrerID)
}

// Rewards totals the referral rewards credited to the user.
func (s *ReferralService) Rewards(ctx context.Context, userID string) (*models.RewardsResponse, error) {
	entries, err := s.ledger.HistoryForUser(ctx, userID, models.LedgerFilter{
		Currency: models.CurrencyLoyalty,
		Reasons:  []models.Reason{models.ReasonReferralReward},
	})
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Change)
	}
	return &models.RewardsResponse{TotalEarned: total, Entries: entries}, nil
}

func newReferralCode() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return strings.ToUpper(raw[:referralCodeLength])
}

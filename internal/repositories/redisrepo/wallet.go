package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/services"

	"github.com/go-redis/redis/v8"
)

const (
	expiration = 5 * time.Minute
)

var (
	ErrBalanceNotFound = services.ErrCacheMiss
)

type WalletRepository struct {
	client *redis.Client
	prefix string
}

var _ services.BalanceCache = (*WalletRepository)(nil)

func NewWalletRepository(client *redis.Client) *WalletRepository {
	return &WalletRepository{
		client: client,
		prefix: "wallet:",
	}
}

func (r *WalletRepository) SetBalance(ctx context.Context, userID string, balance *models.WalletBalanceResponse) error {
	payload, err := json.Marshal(balance)
	if err != nil {
		return fmt.Errorf("failed to marshal balance: %w", err)
	}

	err = r.client.Set(ctx, r.getBalanceKey(userID), payload, expiration).Err()
	if err != nil {
		return fmt.Errorf("failed to set balance in redis: %w", err)
	}

	return nil
}

func (r *WalletRepository) GetBalance(ctx context.Context, userID string) (*models.WalletBalanceResponse, error) {
	payload, err := r.client.Get(ctx, r.getBalanceKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrBalanceNotFound
		}
		return nil, fmt.Errorf("failed to get balance from redis: %w", err)
	}

	var balance models.WalletBalanceResponse
	if err := json.Unmarshal(payload, &balance); err != nil {
		return nil, fmt.Errorf("failed to parse balance from redis: %w", err)
	}

	return &balance, nil
}

func (r *WalletRepository) DeleteBalance(ctx context.Context, userID string) error {
	err := r.client.Del(ctx, r.getBalanceKey(userID)).Err()
	if err != nil {
		return fmt.Errorf("failed to delete balance from redis: %w", err)
	}

	return nil
}

func (r *WalletRepository) getBalanceKey(userID string) string {
	return r.prefix + userID + ":balance"
}

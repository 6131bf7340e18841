package services

import (
	"context"
	"errors"
	"fmt"

	"loyalty-ledger/internal/metrics"
	"loyalty-ledger/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProjectionService applies consumed wallet events to the read side: the balance cache
// and the notifications table.
type ProjectionService struct {
	deps *Deps
}

func NewProjectionService(deps *Deps) *ProjectionService {
	return &ProjectionService{deps: deps}
}

// ProcessWalletEvents handles one batch of events that share a partition key.
func (s *ProjectionService) ProcessWalletEvents(ctx context.Context, key string, events []models.KafkaMessage) error {
	refresh := make(map[string]struct{})
	notifications := make([]models.Notification, 0)

	for _, e := range events {
		switch e.Type {
		case models.EventBalanceChanged:
			refresh[e.UserID] = struct{}{}
		case models.EventOrderUpdated, models.EventListingSold:
		default:
			// Неизвестный тип события - пропускаем
			s.deps.log().WithFields(logrus.Fields{"key": key, "type": e.Type}).Warn("unknown event type")
			metrics.ObserveEvent(e.Type, errors.New("unknown"))
			continue
		}

		if e.Message != "" && e.UserID != "" && e.UserID != models.PlatformUserID {
			// event id doubles as notification id so redelivered events are stored once
			id := e.EventID
			if id == "" {
				id = uuid.New().String()
			}
			notifications = append(notifications, models.Notification{
				ID:        id,
				UserID:    e.UserID,
				Type:      e.Type,
				Content:   e.Message,
				CreatedAt: e.OccurredAt,
			})
		}
		metrics.ObserveEvent(e.Type, nil)
	}

	if len(notifications) > 0 {
		if err := s.deps.Store.CreateNotifications(ctx, notifications); err != nil {
			return fmt.Errorf("failed to store notifications: %w", err)
		}
	}

	// Кэш обновляем из хранилища, а не из события: события одного кошелька могут прийти не по порядку
	for userID := range refresh {
		if err := s.refreshBalance(ctx, userID); err != nil {
			s.deps.log().WithError(err).WithField("user_id", userID).Warn("failed to refresh balance cache")
		}
	}
	return nil
}

func (s *ProjectionService) refreshBalance(ctx context.Context, userID string) error {
	if s.deps.Cache == nil {
		return nil
	}
	wallet, err := s.deps.Store.GetWalletByUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.deps.Cache.SetBalance(ctx, userID, BalanceResponse(wallet, s.deps.Economy.SellingPowerMultiplier))
}

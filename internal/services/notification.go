package services

import (
	"context"

	"loyalty-ledger/internal/models"
)

const defaultNotificationLimit = 50

type NotificationService struct {
	deps *Deps
}

func NewNotificationService(deps *Deps) *NotificationService {
	return &NotificationService{deps: deps}
}

// List returns the user's most recent notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultNotificationLimit
	}
	return s.deps.Store.ListNotifications(ctx, userID, limit)
}

package repository

import (
	"context"

	"fgcmatch/internal/models"
	"fgcmatch/pkg/backend"
)

const notificationPage = 50

type NotificationRepository struct {
	c *backend.Client
}

func NewNotificationRepository(c *backend.Client) *NotificationRepository {
	return &NotificationRepository{c: c}
}

func (r *NotificationRepository) ListByUserID(ctx context.Context, userID string) ([]models.Notification, error) {
	const op = "list notifications"
	var list []models.Notification
	err := r.c.From("notifications").Select("*").Eq("user_id", userID).
		Order("created_at", false).Limit(notificationPage).Get(ctx, &list)
	if err != nil {
		return nil, classify(op, err)
	}
	for i := range list {
		if err := list[i].Validate(); err != nil {
			return nil, malformed(op, err)
		}
	}
	return list, nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID string) error {
	err := r.c.From("notifications").Eq("id", id).Eq("user_id", userID).
		Update(ctx, map[string]bool{"is_read": true}, nil)
	return classify("mark notification read", err)
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) error {
	err := r.c.From("notifications").Eq("user_id", userID).Eq("is_read", "false").
		Update(ctx, map[string]bool{"is_read": true}, nil)
	return classify("mark all notifications read", err)
}

func (r *NotificationRepository) Delete(ctx context.Context, id, userID string) error {
	return classify("delete notification", r.c.From("notifications").Eq("id", id).Eq("user_id", userID).Delete(ctx))
}

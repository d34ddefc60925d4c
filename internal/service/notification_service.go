package service

import (
	"context"
	"log/slog"

	"fgcmatch/internal/cache"
	"fgcmatch/internal/domain"
	"fgcmatch/internal/models"
	"fgcmatch/internal/repository"
)

type NotificationService struct {
	repo   *repository.NotificationRepository
	cache  *cache.Cache
	id     Identity
	logger *slog.Logger
}

func NewNotificationService(repo *repository.NotificationRepository, c *cache.Cache, id Identity, logger *slog.Logger) *NotificationService {
	return &NotificationService{repo: repo, cache: c, id: id, logger: logger.With("component", "notifications")}
}

func (s *NotificationService) List(ctx context.Context) ([]models.Notification, error) {
	sess, err := requireUser(s.id, "list notifications")
	if err != nil {
		return nil, err
	}
	uid := sess.UserID()
	return cache.FetchAs(ctx, s.cache, cache.NotificationsKey(uid), func(ctx context.Context) ([]models.Notification, error) {
		return s.repo.ListByUserID(ctx, uid)
	})
}

func (s *NotificationService) UnreadCount(ctx context.Context) (int, error) {
	list, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	return models.UnreadCount(list), nil
}

// markLocal flips is_read in the cached list after the server accepted it.
func (s *NotificationService) markLocal(userID, id string) {
	s.cache.Update(cache.NotificationsKey(userID), func(old interface{}, ok bool) (interface{}, bool) {
		list, isList := old.([]models.Notification)
		if !ok || !isList {
			return nil, false
		}
		next := make([]models.Notification, len(list))
		copy(next, list)
		for i := range next {
			if id == "" || next[i].ID == id {
				next[i].IsRead = true
			}
		}
		return next, true
	})
}

func (s *NotificationService) MarkRead(ctx context.Context, id string) error {
	const op = "mark notification read"
	sess, err := requireUser(s.id, op)
	if err != nil {
		return err
	}
	if id == "" {
		return domain.E(domain.ErrInvalidParameters, op, "notification id is required")
	}
	if err := s.repo.MarkRead(ctx, id, sess.UserID()); err != nil {
		return err
	}
	s.markLocal(sess.UserID(), id)
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context) error {
	sess, err := requireUser(s.id, "mark all notifications read")
	if err != nil {
		return err
	}
	if err := s.repo.MarkAllRead(ctx, sess.UserID()); err != nil {
		return err
	}
	s.markLocal(sess.UserID(), "")
	return nil
}

func (s *NotificationService) Delete(ctx context.Context, id string) error {
	const op = "delete notification"
	sess, err := requireUser(s.id, op)
	if err != nil {
		return err
	}
	if id == "" {
		return domain.E(domain.ErrInvalidParameters, op, "notification id is required")
	}
	uid := sess.UserID()
	if err := s.repo.Delete(ctx, id, uid); err != nil {
		return err
	}
	s.cache.Update(cache.NotificationsKey(uid), func(old interface{}, ok bool) (interface{}, bool) {
		list, isList := old.([]models.Notification)
		if !ok || !isList {
			return nil, false
		}
		next := make([]models.Notification, 0, len(list))
		for _, n := range list {
			if n.ID != id {
				next = append(next, n)
			}
		}
		return next, true
	})
	return nil
}

// ApplyInserted puts a pushed notification at the head of the cached list.
// A notification already present is not added twice.
func (s *NotificationService) ApplyInserted(n models.Notification) {
	if n.UserID == "" {
		return
	}
	stored := s.cache.Update(cache.NotificationsKey(n.UserID), func(old interface{}, ok bool) (interface{}, bool) {
		list, isList := old.([]models.Notification)
		if !ok || !isList {
			return nil, false
		}
		for _, x := range list {
			if x.ID == n.ID {
				return nil, false
			}
		}
		return append([]models.Notification{n}, list...), true
	})
	if !stored {
		s.cache.Invalidate(cache.NotificationsKey(n.UserID))
	}
	// a TRANSACTION notice means the ledger moved
	if n.Type == domain.NotificationTransaction {
		s.cache.Invalidate(cache.TransactionsKey(n.UserID))
	}
}

package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/opsdesk/opsdesk/internal/domain"
)

// Service implements in-app notification operations.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new notifications service.
func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// List returns notifications for a user, newest first.
func (s *Service) List(ctx context.Context, userID int64, unreadOnly bool, limit, offset int) ([]*domain.Notification, int, error) {
	items, total, err := s.repo.ListByUser(ctx, userID, unreadOnly, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	return items, total, nil
}

// UnreadCount returns the number of unread notifications for a user.
func (s *Service) UnreadCount(ctx context.Context, userID int64) (int, error) {
	count, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// MarkRead marks a single notification as read. A user can only touch
// their own notifications; anything else reports not found.
func (s *Service) MarkRead(ctx context.Context, id string, userID int64) error {
	return s.repo.MarkRead(ctx, id, userID, s.now())
}

// MarkAllRead marks every unread notification of a user as read.
func (s *Service) MarkAllRead(ctx context.Context, userID int64) error {
	return s.repo.MarkAllRead(ctx, userID, s.now())
}

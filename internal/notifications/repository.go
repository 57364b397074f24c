// Package notifications delivers in-app notifications and queued email.
package notifications

import (
	"context"
	"time"

	"github.com/opsdesk/opsdesk/internal/domain"
)

// Repository defines the interface for notifications data access.
type Repository interface {
	// In-app notifications
	CreateNotifications(ctx context.Context, items []*domain.Notification) error
	ListByUser(ctx context.Context, userID int64, unreadOnly bool, limit, offset int) ([]*domain.Notification, int, error)
	CountUnread(ctx context.Context, userID int64) (int, error)
	MarkRead(ctx context.Context, id string, userID int64, readAt time.Time) error
	MarkAllRead(ctx context.Context, userID int64, readAt time.Time) error

	// Email delivery queue
	EnqueueEmails(ctx context.Context, items []*EmailMessage) error
	FetchPendingEmails(ctx context.Context, limit int) ([]*EmailMessage, error)
	MarkEmailSent(ctx context.Context, id string) error
	MarkEmailFailed(ctx context.Context, id string, sendErr error) error
	MarkEmailForRetry(ctx context.Context, id string, sendErr error, nextAttempt time.Time) error
	QueueStats(ctx context.Context) (*QueueStats, error)
}

// Package postgres provides PostgreSQL implementation of notifications repository.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsdesk/opsdesk/internal/domain"
	"github.com/opsdesk/opsdesk/internal/notifications"
)

// Repository implements notifications.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateNotifications inserts a batch of in-app notifications.
func (r *Repository) CreateNotifications(ctx context.Context, items []*domain.Notification) error {
	if len(items) == 0 {
		return nil
	}

	query := `
		INSERT INTO notifications (id, user_id, type, incident_id, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	batch := &pgx.Batch{}
	for _, n := range items {
		batch.Queue(query, n.ID, n.UserID, n.Type, n.IncidentID, n.Data, n.CreatedAt)
	}

	results := r.db.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for range items {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
	}
	return nil
}

// ListByUser retrieves a user's notifications, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID int64, unreadOnly bool, limit, offset int) ([]*domain.Notification, int, error) {
	where := "WHERE user_id = $1"
	if unreadOnly {
		where += " AND read_at IS NULL"
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM notifications " + where
	if err := r.db.QueryRow(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, type, incident_id, data, read_at, created_at
		FROM notifications
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, where)

	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.Notification, 0)
	for rows.Next() {
		var n domain.Notification
		err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.IncidentID, &n.Data, &n.ReadAt, &n.CreatedAt)
		if err != nil {
			return nil, 0, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, &n)
	}
	return items, total, rows.Err()
}

// CountUnread returns the number of unread notifications for a user.
func (r *Repository) CountUnread(ctx context.Context, userID int64) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL`
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// MarkRead marks one notification as read, keeping the first read time.
func (r *Repository) MarkRead(ctx context.Context, id string, userID int64, readAt time.Time) error {
	query := `
		UPDATE notifications
		SET read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND user_id = $2
	`
	tag, err := r.db.Exec(ctx, query, id, userID, readAt)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notifications.ErrNotificationNotFound
	}
	return nil
}

// MarkAllRead marks every unread notification of a user as read.
func (r *Repository) MarkAllRead(ctx context.Context, userID int64, readAt time.Time) error {
	query := `UPDATE notifications SET read_at = $2 WHERE user_id = $1 AND read_at IS NULL`
	if _, err := r.db.Exec(ctx, query, userID, readAt); err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	return nil
}

// EnqueueEmails inserts a batch of outbound emails.
func (r *Repository) EnqueueEmails(ctx context.Context, items []*notifications.EmailMessage) error {
	if len(items) == 0 {
		return nil
	}

	query := `
		INSERT INTO email_queue (id, recipient, subject, body, status, attempts, max_attempts, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $8)
	`
	batch := &pgx.Batch{}
	for _, m := range items {
		batch.Queue(query, m.ID, m.Recipient, m.Subject, m.Body, m.Status, m.MaxAttempts, m.NextAttemptAt, m.CreatedAt)
	}

	results := r.db.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for range items {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("enqueue email: %w", err)
		}
	}
	return nil
}

// FetchPendingEmails claims a batch of due emails. The claim pushes
// next_attempt_at forward a minute so concurrent workers skip the batch;
// a crashed worker just delays the retry.
func (r *Repository) FetchPendingEmails(ctx context.Context, limit int) ([]*notifications.EmailMessage, error) {
	query := `
		WITH batch AS (
			SELECT id FROM email_queue
			WHERE status = 'pending' AND next_attempt_at <= NOW()
			ORDER BY next_attempt_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE email_queue q
		SET next_attempt_at = NOW() + INTERVAL '1 minute', updated_at = NOW()
		FROM batch
		WHERE q.id = batch.id
		RETURNING q.id, q.recipient, q.subject, q.body, q.status, q.attempts, q.max_attempts, q.next_attempt_at, q.last_error, q.created_at, q.updated_at, q.sent_at
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending emails: %w", err)
	}
	defer rows.Close()

	items := make([]*notifications.EmailMessage, 0)
	for rows.Next() {
		var m notifications.EmailMessage
		var lastError *string
		err := rows.Scan(
			&m.ID, &m.Recipient, &m.Subject, &m.Body, &m.Status,
			&m.Attempts, &m.MaxAttempts, &m.NextAttemptAt,
			&lastError, &m.CreatedAt, &m.UpdatedAt, &m.SentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		if lastError != nil {
			m.LastError = *lastError
		}
		items = append(items, &m)
	}
	return items, rows.Err()
}

// MarkEmailSent marks a queue entry as delivered.
func (r *Repository) MarkEmailSent(ctx context.Context, id string) error {
	query := `
		UPDATE email_queue
		SET status = 'sent', attempts = attempts + 1, sent_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("mark email sent: %w", err)
	}
	return nil
}

// MarkEmailFailed marks a queue entry as permanently failed.
func (r *Repository) MarkEmailFailed(ctx context.Context, id string, sendErr error) error {
	query := `
		UPDATE email_queue
		SET status = 'failed', attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id, sendErr.Error()); err != nil {
		return fmt.Errorf("mark email failed: %w", err)
	}
	return nil
}

// MarkEmailForRetry schedules a queue entry for another attempt.
func (r *Repository) MarkEmailForRetry(ctx context.Context, id string, sendErr error, nextAttempt time.Time) error {
	query := `
		UPDATE email_queue
		SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id, sendErr.Error(), nextAttempt); err != nil {
		return fmt.Errorf("mark email for retry: %w", err)
	}
	return nil
}

// QueueStats returns email queue counters by status.
func (r *Repository) QueueStats(ctx context.Context) (*notifications.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM email_queue
	`
	var stats notifications.QueueStats
	if err := r.db.QueryRow(ctx, query).Scan(&stats.Pending, &stats.Sent, &stats.Failed); err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return &stats, nil
}

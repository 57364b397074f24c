package notifications

import "time"

// EmailStatus represents the status of a queued email.
type EmailStatus string

// Email queue statuses.
const (
	EmailStatusPending EmailStatus = "pending"
	EmailStatusSent    EmailStatus = "sent"
	EmailStatusFailed  EmailStatus = "failed"
)

// EmailMessage is an outbound email waiting in the delivery queue.
type EmailMessage struct {
	ID            string
	Recipient     string
	Subject       string
	Body          string
	Status        EmailStatus
	Attempts      int
	MaxAttempts   int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SentAt        *time.Time
}

// QueueStats holds email queue counters by status.
type QueueStats struct {
	Pending int
	Sent    int
	Failed  int
}

package domain

import "time"

// NotificationType classifies an in-app notification.
type NotificationType string

// Notification types.
const (
	NotificationIncidentCreated  NotificationType = "incident_created"
	NotificationStatusChanged    NotificationType = "status_changed"
	NotificationIncidentAssigned NotificationType = "incident_assigned"
	NotificationNewComment       NotificationType = "new_comment"
	NotificationUserWelcome      NotificationType = "user_welcome"
)

// Notification is a pull-based in-app notification. Delivery is best-effort;
// readers poll for unread entries and mark them read.
type Notification struct {
	ID         string            `json:"id"`
	UserID     int64             `json:"user_id"`
	Type       NotificationType  `json:"type"`
	IncidentID *int64            `json:"incident_id,omitempty"`
	Data       map[string]string `json:"data"`
	ReadAt     *time.Time        `json:"read_at"`
	CreatedAt  time.Time         `json:"created_at"`
}

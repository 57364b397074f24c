package notifications

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/opsdesk/opsdesk/internal/domain"
)

// Directory resolves recipients for incident and account events.
type Directory interface {
	GetUserRef(ctx context.Context, id int64) (*domain.UserRef, error)
	ListStaffRefs(ctx context.Context) ([]domain.UserRef, error)
}

// Listener fans incident and account events out into in-app
// notifications and the email queue. It implements
// incidents.EventHandler and identity.UserCreatedHandler.
type Listener struct {
	repo  Repository
	users Directory
	now   func() time.Time
}

// NewListener creates a new event listener.
func NewListener(repo Repository, users Directory) *Listener {
	return &Listener{
		repo:  repo,
		users: users,
		now:   time.Now,
	}
}

// OnIncidentCreated notifies all active staff except the reporter.
func (l *Listener) OnIncidentCreated(ctx context.Context, inc *domain.Incident) error {
	staff, err := l.users.ListStaffRefs(ctx)
	if err != nil {
		return fmt.Errorf("list staff: %w", err)
	}

	data := incidentData(inc)
	data["severity"] = string(inc.Severity)

	var items []*domain.Notification
	var emails []*EmailMessage
	for _, ref := range staff {
		if ref.ID == inc.ReportedBy {
			continue
		}
		items = append(items, l.notification(ref.ID, domain.NotificationIncidentCreated, &inc.ID, data))
		emails = append(emails, l.email(ref.Email,
			fmt.Sprintf("[%s] New incident: %s", inc.Number, inc.Title),
			incidentCreatedBody(inc),
		))
	}

	return l.deliver(ctx, items, emails)
}

// OnIncidentStatusChanged notifies the reporter and the assignee,
// skipping whoever made the change.
func (l *Listener) OnIncidentStatusChanged(ctx context.Context, inc *domain.Incident, previous, next domain.IncidentStatus, actor domain.Actor) error {
	data := incidentData(inc)
	data["previous_status"] = string(previous)
	data["new_status"] = string(next)

	subject := fmt.Sprintf("[%s] Status changed to %s", inc.Number, next.Label())
	body := statusChangedBody(inc, previous, next)

	var items []*domain.Notification
	var emails []*EmailMessage
	for _, id := range interestedParties(inc, actor.ID) {
		items = append(items, l.notification(id, domain.NotificationStatusChanged, &inc.ID, data))
		if ref, err := l.users.GetUserRef(ctx, id); err == nil {
			emails = append(emails, l.email(ref.Email, subject, body))
		}
	}

	return l.deliver(ctx, items, emails)
}

// OnIncidentAssigned notifies the new assignee.
func (l *Listener) OnIncidentAssigned(ctx context.Context, inc *domain.Incident, assignee *domain.UserRef, actor domain.Actor) error {
	if assignee == nil {
		return nil
	}

	data := incidentData(inc)
	data["assigned_by"] = strconv.FormatInt(actor.ID, 10)

	items := []*domain.Notification{
		l.notification(assignee.ID, domain.NotificationIncidentAssigned, &inc.ID, data),
	}
	emails := []*EmailMessage{
		l.email(assignee.Email,
			fmt.Sprintf("[%s] Incident assigned to you", inc.Number),
			assignedBody(inc),
		),
	}

	return l.deliver(ctx, items, emails)
}

// OnCommentAdded notifies the reporter and the assignee, skipping the author.
func (l *Listener) OnCommentAdded(ctx context.Context, inc *domain.Incident, actor domain.Actor) error {
	data := incidentData(inc)

	var items []*domain.Notification
	for _, id := range interestedParties(inc, actor.ID) {
		items = append(items, l.notification(id, domain.NotificationNewComment, &inc.ID, data))
	}

	// Comments are chatter; in-app only.
	return l.deliver(ctx, items, nil)
}

// OnUserCreated emails the initial credentials and leaves a welcome
// notification for the first login.
func (l *Listener) OnUserCreated(ctx context.Context, user *domain.User, tempPassword string) error {
	items := []*domain.Notification{
		l.notification(user.ID, domain.NotificationUserWelcome, nil, map[string]string{
			"name": user.Name,
		}),
	}
	emails := []*EmailMessage{
		l.email(user.Email, "Your opsdesk account", welcomeBody(user, tempPassword)),
	}

	return l.deliver(ctx, items, emails)
}

// OnPasswordReset emails the new temporary password.
func (l *Listener) OnPasswordReset(ctx context.Context, user *domain.User, tempPassword string) error {
	emails := []*EmailMessage{
		l.email(user.Email, "Your opsdesk password was reset", resetBody(user, tempPassword)),
	}

	return l.deliver(ctx, nil, emails)
}

func (l *Listener) deliver(ctx context.Context, items []*domain.Notification, emails []*EmailMessage) error {
	if len(items) > 0 {
		if err := l.repo.CreateNotifications(ctx, items); err != nil {
			return fmt.Errorf("create notifications: %w", err)
		}
	}
	if len(emails) > 0 {
		if err := l.repo.EnqueueEmails(ctx, emails); err != nil {
			return fmt.Errorf("enqueue emails: %w", err)
		}
		recordEmailsEnqueued(len(emails))
	}
	return nil
}

func (l *Listener) notification(userID int64, kind domain.NotificationType, incidentID *int64, data map[string]string) *domain.Notification {
	return &domain.Notification{
		ID:         uuid.New().String(),
		UserID:     userID,
		Type:       kind,
		IncidentID: incidentID,
		Data:       data,
		CreatedAt:  l.now(),
	}
}

func (l *Listener) email(to, subject, body string) *EmailMessage {
	return &EmailMessage{
		ID:            uuid.New().String(),
		Recipient:     to,
		Subject:       subject,
		Body:          body,
		Status:        EmailStatusPending,
		MaxAttempts:   3,
		NextAttemptAt: l.now(),
		CreatedAt:     l.now(),
	}
}

// interestedParties returns the reporter and assignee of an incident,
// deduplicated, excluding the acting user.
func interestedParties(inc *domain.Incident, actorID int64) []int64 {
	var ids []int64
	if inc.ReportedBy != actorID {
		ids = append(ids, inc.ReportedBy)
	}
	if inc.AssignedTo != nil && *inc.AssignedTo != actorID && *inc.AssignedTo != inc.ReportedBy {
		ids = append(ids, *inc.AssignedTo)
	}
	return ids
}

func incidentData(inc *domain.Incident) map[string]string {
	return map[string]string{
		"incident_number": inc.Number,
		"title":           inc.Title,
	}
}

func incidentCreatedBody(inc *domain.Incident) string {
	return fmt.Sprintf(
		"A new incident has been reported.\n\nNumber: %s\nTitle: %s\nSeverity: %s\nPriority: %s\n\nPlease review and triage it in opsdesk.\n",
		inc.Number, inc.Title, inc.Severity.Label(), inc.Priority.Label(),
	)
}

func statusChangedBody(inc *domain.Incident, previous, next domain.IncidentStatus) string {
	return fmt.Sprintf(
		"Incident %s changed status.\n\nTitle: %s\nStatus: %s -> %s\n",
		inc.Number, inc.Title, previous.Label(), next.Label(),
	)
}

func assignedBody(inc *domain.Incident) string {
	return fmt.Sprintf(
		"Incident %s has been assigned to you.\n\nTitle: %s\nSeverity: %s\n",
		inc.Number, inc.Title, inc.Severity.Label(),
	)
}

func welcomeBody(user *domain.User, tempPassword string) string {
	return fmt.Sprintf(
		"Hello %s,\n\nAn opsdesk account has been created for you.\n\nLogin: %s\nTemporary password: %s\n\nYou will be asked to choose a new password on first login.\n",
		user.Name, user.Email, tempPassword,
	)
}

func resetBody(user *domain.User, tempPassword string) string {
	return fmt.Sprintf(
		"Hello %s,\n\nYour opsdesk password has been reset by an administrator.\n\nTemporary password: %s\n\nYou will be asked to choose a new password on next login.\n",
		user.Name, tempPassword,
	)
}

package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdesk/opsdesk/internal/domain"
)

type fakeRepo struct {
	mu            sync.Mutex
	notifications []*domain.Notification
	emails        []*EmailMessage

	createErr  error
	enqueueErr error
}

func (f *fakeRepo) CreateNotifications(_ context.Context, items []*domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return f.createErr
	}
	f.notifications = append(f.notifications, items...)
	return nil
}

func (f *fakeRepo) ListByUser(_ context.Context, userID int64, unreadOnly bool, limit, offset int) ([]*domain.Notification, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*domain.Notification
	for _, n := range f.notifications {
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.ReadAt != nil {
			continue
		}
		out = append(out, n)
	}
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (f *fakeRepo) CountUnread(_ context.Context, userID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, n := range f.notifications {
		if n.UserID == userID && n.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) MarkRead(_ context.Context, id string, userID int64, readAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, n := range f.notifications {
		if n.ID == id && n.UserID == userID {
			if n.ReadAt == nil {
				n.ReadAt = &readAt
			}
			return nil
		}
	}
	return ErrNotificationNotFound
}

func (f *fakeRepo) MarkAllRead(_ context.Context, userID int64, readAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, n := range f.notifications {
		if n.UserID == userID && n.ReadAt == nil {
			n.ReadAt = &readAt
		}
	}
	return nil
}

func (f *fakeRepo) EnqueueEmails(_ context.Context, items []*EmailMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.emails = append(f.emails, items...)
	return nil
}

func (f *fakeRepo) FetchPendingEmails(_ context.Context, limit int) ([]*EmailMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*EmailMessage
	for _, m := range f.emails {
		if m.Status == EmailStatusPending {
			out = append(out, m)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRepo) emailStatus(id string) EmailStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m := f.findEmail(id); m != nil {
		return m.Status
	}
	return ""
}

func (f *fakeRepo) findEmail(id string) *EmailMessage {
	for _, m := range f.emails {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (f *fakeRepo) MarkEmailSent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if m := f.findEmail(id); m != nil {
		m.Status = EmailStatusSent
		m.Attempts++
	}
	return nil
}

func (f *fakeRepo) MarkEmailFailed(_ context.Context, id string, sendErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if m := f.findEmail(id); m != nil {
		m.Status = EmailStatusFailed
		m.Attempts++
		m.LastError = sendErr.Error()
	}
	return nil
}

func (f *fakeRepo) MarkEmailForRetry(_ context.Context, id string, sendErr error, nextAttempt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if m := f.findEmail(id); m != nil {
		m.Attempts++
		m.LastError = sendErr.Error()
		m.NextAttemptAt = nextAttempt
	}
	return nil
}

func (f *fakeRepo) QueueStats(_ context.Context) (*QueueStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stats := &QueueStats{}
	for _, m := range f.emails {
		switch m.Status {
		case EmailStatusPending:
			stats.Pending++
		case EmailStatusSent:
			stats.Sent++
		case EmailStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

type fakeDirectory struct {
	staff []domain.UserRef
}

func (f *fakeDirectory) GetUserRef(_ context.Context, id int64) (*domain.UserRef, error) {
	for _, ref := range f.staff {
		if ref.ID == id {
			r := ref
			return &r, nil
		}
	}
	return nil, errors.New("user not found")
}

func (f *fakeDirectory) ListStaffRefs(_ context.Context) ([]domain.UserRef, error) {
	return f.staff, nil
}

func newTestListener(repo *fakeRepo, dir *fakeDirectory) *Listener {
	l := NewListener(repo, dir)
	l.now = func() time.Time { return time.Date(2025, 1, 14, 10, 30, 0, 0, time.UTC) }
	return l
}

func testIncident(reportedBy int64, assignedTo *int64) *domain.Incident {
	return &domain.Incident{
		ID:         42,
		Number:     "INC-20250114-0001",
		Title:      "Database connection pool exhausted",
		Severity:   domain.SeverityHigh,
		Priority:   domain.PriorityHigh,
		Status:     domain.IncidentStatusOpen,
		ReportedBy: reportedBy,
		AssignedTo: assignedTo,
	}
}

func TestListener_IncidentCreated_NotifiesStaffExceptReporter(t *testing.T) {
	repo := &fakeRepo{}
	dir := &fakeDirectory{staff: []domain.UserRef{
		{ID: 2, Name: "Oscar Operator", Email: "oscar@example.com"},
		{ID: 3, Name: "Ada Admin", Email: "ada@example.com"},
	}}
	l := newTestListener(repo, dir)

	// Reported by the operator: only the admin should hear about it.
	inc := testIncident(2, nil)
	require.NoError(t, l.OnIncidentCreated(context.Background(), inc))

	require.Len(t, repo.notifications, 1)
	n := repo.notifications[0]
	assert.Equal(t, int64(3), n.UserID)
	assert.Equal(t, domain.NotificationIncidentCreated, n.Type)
	require.NotNil(t, n.IncidentID)
	assert.Equal(t, int64(42), *n.IncidentID)
	assert.Equal(t, "INC-20250114-0001", n.Data["incident_number"])
	assert.Equal(t, "high", n.Data["severity"])

	require.Len(t, repo.emails, 1)
	m := repo.emails[0]
	assert.Equal(t, "ada@example.com", m.Recipient)
	assert.Contains(t, m.Subject, "INC-20250114-0001")
	assert.Contains(t, m.Body, "Severity: High")
	assert.Equal(t, EmailStatusPending, m.Status)
}

func TestListener_StatusChanged_SkipsActor(t *testing.T) {
	repo := &fakeRepo{}
	dir := &fakeDirectory{staff: []domain.UserRef{
		{ID: 1, Name: "Rita Reporter", Email: "rita@example.com"},
		{ID: 2, Name: "Oscar Operator", Email: "oscar@example.com"},
	}}
	l := newTestListener(repo, dir)

	assignee := int64(2)
	inc := testIncident(1, &assignee)

	// The assignee changes the status: only the reporter is notified.
	err := l.OnIncidentStatusChanged(context.Background(), inc,
		domain.IncidentStatusOpen, domain.IncidentStatusInvestigating,
		domain.Actor{ID: 2, Role: domain.RoleOperator})
	require.NoError(t, err)

	require.Len(t, repo.notifications, 1)
	n := repo.notifications[0]
	assert.Equal(t, int64(1), n.UserID)
	assert.Equal(t, domain.NotificationStatusChanged, n.Type)
	assert.Equal(t, "open", n.Data["previous_status"])
	assert.Equal(t, "investigating", n.Data["new_status"])

	require.Len(t, repo.emails, 1)
	assert.Equal(t, "rita@example.com", repo.emails[0].Recipient)
}

func TestListener_StatusChanged_DeduplicatesReporterAssignee(t *testing.T) {
	repo := &fakeRepo{}
	dir := &fakeDirectory{staff: []domain.UserRef{
		{ID: 2, Name: "Oscar Operator", Email: "oscar@example.com"},
	}}
	l := newTestListener(repo, dir)

	// The operator reported the incident and assigned it to themselves;
	// an admin changes the status. One notification, not two.
	self := int64(2)
	inc := testIncident(2, &self)

	err := l.OnIncidentStatusChanged(context.Background(), inc,
		domain.IncidentStatusInvestigating, domain.IncidentStatusResolved,
		domain.Actor{ID: 3, Role: domain.RoleAdmin})
	require.NoError(t, err)

	require.Len(t, repo.notifications, 1)
	assert.Equal(t, int64(2), repo.notifications[0].UserID)
}

func TestListener_Assigned_NotifiesAssignee(t *testing.T) {
	repo := &fakeRepo{}
	l := newTestListener(repo, &fakeDirectory{})

	inc := testIncident(1, nil)
	assignee := &domain.UserRef{ID: 2, Name: "Oscar Operator", Email: "oscar@example.com"}

	err := l.OnIncidentAssigned(context.Background(), inc, assignee,
		domain.Actor{ID: 3, Role: domain.RoleAdmin})
	require.NoError(t, err)

	require.Len(t, repo.notifications, 1)
	assert.Equal(t, int64(2), repo.notifications[0].UserID)
	assert.Equal(t, domain.NotificationIncidentAssigned, repo.notifications[0].Type)

	require.Len(t, repo.emails, 1)
	assert.Equal(t, "oscar@example.com", repo.emails[0].Recipient)
	assert.Contains(t, repo.emails[0].Subject, "assigned to you")
}

func TestListener_Unassigned_NoOp(t *testing.T) {
	repo := &fakeRepo{}
	l := newTestListener(repo, &fakeDirectory{})

	err := l.OnIncidentAssigned(context.Background(), testIncident(1, nil), nil,
		domain.Actor{ID: 3, Role: domain.RoleAdmin})
	require.NoError(t, err)

	assert.Empty(t, repo.notifications)
	assert.Empty(t, repo.emails)
}

func TestListener_CommentAdded_InAppOnly(t *testing.T) {
	repo := &fakeRepo{}
	dir := &fakeDirectory{staff: []domain.UserRef{
		{ID: 1, Name: "Rita Reporter", Email: "rita@example.com"},
	}}
	l := newTestListener(repo, dir)

	assignee := int64(2)
	inc := testIncident(1, &assignee)

	err := l.OnCommentAdded(context.Background(), inc, domain.Actor{ID: 2, Role: domain.RoleOperator})
	require.NoError(t, err)

	require.Len(t, repo.notifications, 1)
	assert.Equal(t, int64(1), repo.notifications[0].UserID)
	assert.Equal(t, domain.NotificationNewComment, repo.notifications[0].Type)
	assert.Empty(t, repo.emails)
}

func TestListener_UserCreated_EmailsTempPassword(t *testing.T) {
	repo := &fakeRepo{}
	l := newTestListener(repo, &fakeDirectory{})

	user := &domain.User{ID: 7, Name: "Norah New", Email: "norah@example.com"}
	require.NoError(t, l.OnUserCreated(context.Background(), user, "s3cret-temp"))

	require.Len(t, repo.notifications, 1)
	assert.Equal(t, int64(7), repo.notifications[0].UserID)
	assert.Equal(t, domain.NotificationUserWelcome, repo.notifications[0].Type)
	assert.Nil(t, repo.notifications[0].IncidentID)

	require.Len(t, repo.emails, 1)
	assert.Equal(t, "norah@example.com", repo.emails[0].Recipient)
	assert.Contains(t, repo.emails[0].Body, "s3cret-temp")
}

func TestListener_PasswordReset_EmailOnly(t *testing.T) {
	repo := &fakeRepo{}
	l := newTestListener(repo, &fakeDirectory{})

	user := &domain.User{ID: 7, Name: "Norah New", Email: "norah@example.com"}
	require.NoError(t, l.OnPasswordReset(context.Background(), user, "fresh-temp"))

	assert.Empty(t, repo.notifications)
	require.Len(t, repo.emails, 1)
	assert.Contains(t, repo.emails[0].Body, "fresh-temp")
	assert.Contains(t, repo.emails[0].Subject, "reset")
}

func TestService_MarkReadAndUnreadCount(t *testing.T) {
	repo := &fakeRepo{}
	dir := &fakeDirectory{staff: []domain.UserRef{
		{ID: 3, Name: "Ada Admin", Email: "ada@example.com"},
	}}
	l := newTestListener(repo, dir)
	require.NoError(t, l.OnIncidentCreated(context.Background(), testIncident(1, nil)))

	svc := NewService(repo)

	count, err := svc.UnreadCount(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, svc.MarkRead(context.Background(), repo.notifications[0].ID, 3))

	count, err = svc.UnreadCount(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestService_MarkRead_OtherUsersNotification(t *testing.T) {
	repo := &fakeRepo{}
	dir := &fakeDirectory{staff: []domain.UserRef{
		{ID: 3, Name: "Ada Admin", Email: "ada@example.com"},
	}}
	l := newTestListener(repo, dir)
	require.NoError(t, l.OnIncidentCreated(context.Background(), testIncident(1, nil)))

	svc := NewService(repo)
	err := svc.MarkRead(context.Background(), repo.notifications[0].ID, 99)
	assert.ErrorIs(t, err, ErrNotificationNotFound)
}

//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdesk/opsdesk/internal/notifications"
	"github.com/opsdesk/opsdesk/internal/notifications/email"
	notificationspostgres "github.com/opsdesk/opsdesk/internal/notifications/postgres"
)

// startEmailWorker runs a queue worker against the Mailpit SMTP endpoint for
// the duration of the test.
func startEmailWorker(t *testing.T) {
	t.Helper()

	sender, err := email.NewSender(email.Config{
		Enabled:     true,
		SMTPHost:    mailpitContainer.SMTPHost,
		SMTPPort:    mailpitContainer.SMTPPort,
		FromAddress: "OpsDesk <opsdesk@example.com>",
	})
	require.NoError(t, err)

	cfg := notifications.DefaultWorkerConfig()
	cfg.PollInterval = 100 * time.Millisecond
	cfg.NumWorkers = 1

	worker := notifications.NewWorker(cfg, notificationspostgres.NewRepository(testDB), sender)

	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)
	t.Cleanup(func() {
		cancel()
		worker.Stop()
	})
}

func TestEmailDelivery_IncidentCreated(t *testing.T) {
	clearNotifications(t)
	require.NoError(t, mailpitClient.DeleteAllMessages())

	startEmailWorker(t)

	reporter := newTestClient(t)
	reporter.LoginAsReporter(t)
	inc := createIncident(t, reporter, "Mail-worthy incident", withSeverity("critical"))

	// Staff accounts (admin + two operators) each get a queued email
	messages, err := mailpitClient.WaitForMessages(3, 15*time.Second)
	require.NoError(t, err)

	recipients := map[string]bool{}
	var subject string
	for _, msg := range messages {
		for _, to := range msg.To {
			recipients[to.Address] = true
		}
		subject = msg.Subject
	}

	assert.True(t, recipients["admin@example.com"])
	assert.True(t, recipients["operator@example.com"])
	assert.True(t, recipients["operator2@example.com"])
	assert.False(t, recipients["reporter@example.com"], "reporter must not be emailed about their own incident")
	assert.Contains(t, subject, inc.Number)
}

func TestEmailDelivery_QueueDrainsToSent(t *testing.T) {
	clearNotifications(t)
	require.NoError(t, mailpitClient.DeleteAllMessages())

	startEmailWorker(t)

	reporter := newTestClient(t)
	reporter.LoginAsReporter(t)
	createIncident(t, reporter, "Queue drain check")

	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var pending int
		err := testDB.QueryRow(ctx,
			`SELECT COUNT(*) FROM email_queue WHERE status = 'pending'`,
		).Scan(&pending)
		return err == nil && pending == 0
	}, 15*time.Second, 200*time.Millisecond, "email queue should drain")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var sent int
	require.NoError(t, testDB.QueryRow(ctx,
		`SELECT COUNT(*) FROM email_queue WHERE status = 'sent'`,
	).Scan(&sent))
	assert.Positive(t, sent)
}

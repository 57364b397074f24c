//go:build integration

package integration

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opsdesk/opsdesk/internal/testutil"
)

// incidentData is the subset of the incident payload the tests assert on.
type incidentData struct {
	ID          int64   `json:"id"`
	Number      string  `json:"incident_number"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Severity    string  `json:"severity"`
	Status      string  `json:"status"`
	Priority    string  `json:"priority"`
	Category    string  `json:"category"`
	AssignedTo  *int64  `json:"assigned_to"`
	ResolvedAt  *string `json:"resolved_at"`
	ClosedAt    *string `json:"closed_at"`
}

type incidentEnvelope struct {
	Data incidentData `json:"data"`
}

type incidentListEnvelope struct {
	Data struct {
		Incidents []incidentData `json:"incidents"`
		Total     int            `json:"total"`
	} `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// createIncident reports a new incident and returns its payload.
// Deletion cascades when the suite database is dropped, so no cleanup.
func createIncident(t *testing.T, client *testutil.Client, title string, opts ...incidentOption) incidentData {
	t.Helper()

	payload := map[string]interface{}{
		"title":       title,
		"description": "integration test incident",
		"severity":    "medium",
		"category":    "software",
	}
	for _, opt := range opts {
		opt(payload)
	}

	resp, err := client.POST("/api/v1/incidents", payload)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result incidentEnvelope
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

type incidentOption func(map[string]interface{})

func withSeverity(severity string) incidentOption {
	return func(m map[string]interface{}) {
		m["severity"] = severity
	}
}

func withPriority(priority string) incidentOption {
	return func(m map[string]interface{}) {
		m["priority"] = priority
	}
}

// setStatus transitions the incident and fails the test on any error.
func setStatus(t *testing.T, client *testutil.Client, id int64, status, notes string) incidentData {
	t.Helper()

	body := map[string]interface{}{"status": status}
	if notes != "" {
		body["notes"] = notes
	}

	resp, err := client.POST(incidentPath(id)+"/status", body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result incidentEnvelope
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

func assignIncident(t *testing.T, client *testutil.Client, id int64, assigneeID *int64) incidentData {
	t.Helper()

	resp, err := client.POST(incidentPath(id)+"/assign", map[string]interface{}{
		"assigned_to": assigneeID,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result incidentEnvelope
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

func incidentPath(id int64) string {
	return "/api/v1/incidents/" + strconv.FormatInt(id, 10)
}

// userIDByEmail looks up a seeded user's ID directly in the database.
func userIDByEmail(t *testing.T, email string) int64 {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var id int64
	err := testDB.QueryRow(ctx, `SELECT id FROM users WHERE email = $1`, email).Scan(&id)
	require.NoError(t, err)
	return id
}

// clearNotifications wipes notification state between tests that count them.
func clearNotifications(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := testDB.Exec(ctx, `DELETE FROM notifications`)
	require.NoError(t, err)
	_, err = testDB.Exec(ctx, `DELETE FROM email_queue`)
	require.NoError(t, err)
}

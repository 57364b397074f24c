//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdesk/opsdesk/internal/testutil"
)

var incidentNumberRe = regexp.MustCompile(`^INC-\d{8}-\d{4}$`)

func TestIncidentCreate_AssignsSequentialNumbers(t *testing.T) {
	client := newTestClient(t)
	client.LoginAsReporter(t)

	first := createIncident(t, client, "Printer on fire")
	second := createIncident(t, client, "Printer still on fire")

	assert.Regexp(t, incidentNumberRe, first.Number)
	assert.Regexp(t, incidentNumberRe, second.Number)
	assert.NotEqual(t, first.Number, second.Number)

	today := time.Now().UTC().Format("20060102")
	assert.Contains(t, first.Number, fmt.Sprintf("INC-%s-", today))

	assert.Equal(t, "open", first.Status)
	assert.Equal(t, "medium", first.Severity)
	assert.Equal(t, "normal", first.Priority)
}

// Concurrent creators contend on the same per-day counter row; every one
// must still get its own gap-free number.
func TestIncidentCreate_ConcurrentNumbersAreDistinct(t *testing.T) {
	login := newTestClient(t)
	login.LoginAsReporter(t)

	const workers = 8
	type result struct {
		number string
		err    error
	}
	results := make(chan result, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			client := newTestClientWithoutValidation()
			client.Token = login.Token

			resp, err := client.POST("/api/v1/incidents", map[string]interface{}{
				"title":       fmt.Sprintf("Concurrent incident %d", i),
				"description": "integration test incident",
				"severity":    "medium",
				"category":    "software",
			})
			if err != nil {
				results <- result{err: err}
				return
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusCreated {
				body, _ := io.ReadAll(resp.Body)
				results <- result{err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)}
				return
			}

			var envelope incidentEnvelope
			if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
				results <- result{err: fmt.Errorf("decode response: %w", err)}
				return
			}
			results <- result{number: envelope.Data.Number}
		}(i)
	}
	wg.Wait()
	close(results)

	prefix := fmt.Sprintf("INC-%s-", time.Now().UTC().Format("20060102"))
	seqs := make([]int, 0, workers)
	for r := range results {
		require.NoError(t, r.err)
		require.Regexp(t, incidentNumberRe, r.number)
		require.True(t, strings.HasPrefix(r.number, prefix), r.number)

		seq, err := strconv.Atoi(strings.TrimPrefix(r.number, prefix))
		require.NoError(t, err)
		seqs = append(seqs, seq)
	}
	require.Len(t, seqs, workers)

	sort.Ints(seqs)
	for i := 1; i < len(seqs); i++ {
		require.Equal(t, seqs[i-1]+1, seqs[i], "expected distinct sequential numbers, got %v", seqs)
	}
}

func TestIncidentCreate_OperatorForbidden(t *testing.T) {
	operator := newTestClientWithoutValidation()
	operator.LoginAsOperator(t)

	resp, err := operator.POST("/api/v1/incidents", map[string]interface{}{
		"title":       "Operators do not report",
		"description": "they fix",
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestIncidentCreate_ValidationErrors(t *testing.T) {
	client := newTestClientWithoutValidation()
	client.LoginAsReporter(t)

	resp, err := client.POST("/api/v1/incidents", map[string]interface{}{
		"title": "", // missing description too
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIncidentVisibility_ReporterSeesOnlyOwn(t *testing.T) {
	reporter := newTestClient(t)
	reporter.LoginAsReporter(t)
	mine := createIncident(t, reporter, "Reporter-owned incident")

	admin := newTestClient(t)
	admin.LoginAsAdmin(t)
	other := createIncident(t, admin, "Admin-owned incident")

	// Reporter cannot fetch someone else's incident
	resp, err := reporter.WithoutValidation().GET(incidentPath(other.ID))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// But sees their own in the list
	resp, err = reporter.GET("/api/v1/incidents?limit=100")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list incidentListEnvelope
	testutil.DecodeJSON(t, resp, &list)

	var sawMine, sawOther bool
	for _, inc := range list.Data.Incidents {
		if inc.ID == mine.ID {
			sawMine = true
		}
		if inc.ID == other.ID {
			sawOther = true
		}
	}
	assert.True(t, sawMine)
	assert.False(t, sawOther)
}

func TestIncidentVisibility_OperatorSeesAssigned(t *testing.T) {
	reporter := newTestClient(t)
	reporter.LoginAsReporter(t)
	inc := createIncident(t, reporter, "Assigned to operator")

	operator := newTestClientWithoutValidation()
	operator.LoginAsOperator(t)

	// Not visible before assignment
	resp, err := operator.GET(incidentPath(inc.ID))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	admin := newTestClient(t)
	admin.LoginAsAdmin(t)
	operatorID := userIDByEmail(t, "operator@example.com")
	assignIncident(t, admin, inc.ID, &operatorID)

	// Visible after
	resp, err = operator.GET(incidentPath(inc.ID))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestIncidentStatus_FullLifecycle(t *testing.T) {
	reporter := newTestClient(t)
	reporter.LoginAsReporter(t)
	inc := createIncident(t, reporter, "Lifecycle incident", withSeverity("high"))

	admin := newTestClient(t)
	admin.LoginAsAdmin(t)
	operatorID := userIDByEmail(t, "operator@example.com")
	assignIncident(t, admin, inc.ID, &operatorID)

	operator := newTestClient(t)
	operator.LoginAsOperator(t)

	investigating := setStatus(t, operator, inc.ID, "investigating", "")
	assert.Equal(t, "investigating", investigating.Status)

	resolved := setStatus(t, operator, inc.ID, "resolved", "restarted the thing")
	assert.Equal(t, "resolved", resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	closed := setStatus(t, operator, inc.ID, "closed", "")
	assert.Equal(t, "closed", closed.Status)
	require.NotNil(t, closed.ClosedAt)
}

func TestIncidentStatus_ResolveRequiresNotes(t *testing.T) {
	admin := newTestClientWithoutValidation()
	admin.LoginAsAdmin(t)

	inc := createIncident(t, admin, "Resolve without notes")
	setStatus(t, admin, inc.ID, "investigating", "")

	resp, err := admin.POST(incidentPath(inc.ID)+"/status", map[string]interface{}{
		"status": "resolved",
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestIncidentStatus_InvalidTransition(t *testing.T) {
	admin := newTestClientWithoutValidation()
	admin.LoginAsAdmin(t)

	inc := createIncident(t, admin, "No closing from open")

	resp, err := admin.POST(incidentPath(inc.ID)+"/status", map[string]interface{}{
		"status": "closed",
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestIncidentStatus_ReporterCannotTransition(t *testing.T) {
	reporter := newTestClientWithoutValidation()
	reporter.LoginAsReporter(t)

	inc := createIncident(t, reporter, "Reporter hands off")

	resp, err := reporter.POST(incidentPath(inc.ID)+"/status", map[string]interface{}{
		"status": "investigating",
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestIncidentAssign_AndUnassign(t *testing.T) {
	admin := newTestClient(t)
	admin.LoginAsAdmin(t)

	inc := createIncident(t, admin, "Needs an owner")
	operatorID := userIDByEmail(t, "operator@example.com")

	assigned := assignIncident(t, admin, inc.ID, &operatorID)
	require.NotNil(t, assigned.AssignedTo)
	assert.Equal(t, operatorID, *assigned.AssignedTo)

	unassigned := assignIncident(t, admin, inc.ID, nil)
	assert.Nil(t, unassigned.AssignedTo)
}

func TestIncidentAssign_RejectsReporterAssignee(t *testing.T) {
	admin := newTestClientWithoutValidation()
	admin.LoginAsAdmin(t)

	inc := createIncident(t, admin, "Reporter cannot be assignee")
	reporterID := userIDByEmail(t, "reporter@example.com")

	resp, err := admin.POST(incidentPath(inc.ID)+"/assign", map[string]interface{}{
		"assigned_to": reporterID,
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestIncidentAssign_OperatorForbidden(t *testing.T) {
	admin := newTestClient(t)
	admin.LoginAsAdmin(t)
	inc := createIncident(t, admin, "Only admins assign")

	operator := newTestClientWithoutValidation()
	operator.LoginAsOperator(t)
	operatorID := userIDByEmail(t, "operator@example.com")

	resp, err := operator.POST(incidentPath(inc.ID)+"/assign", map[string]interface{}{
		"assigned_to": operatorID,
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestIncidentComments_InternalHiddenFromReporter(t *testing.T) {
	reporter := newTestClient(t)
	reporter.LoginAsReporter(t)
	inc := createIncident(t, reporter, "Incident with notes")

	admin := newTestClient(t)
	admin.LoginAsAdmin(t)
	operatorID := userIDByEmail(t, "operator@example.com")
	assignIncident(t, admin, inc.ID, &operatorID)

	operator := newTestClient(t)
	operator.LoginAsOperator(t)

	// Public and internal comments from the operator
	resp, err := operator.POST(incidentPath(inc.ID)+"/updates", map[string]interface{}{
		"comment": "visible to everyone",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp, err = operator.POST(incidentPath(inc.ID)+"/updates", map[string]interface{}{
		"comment":     "internal triage note",
		"is_internal": true,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	type update struct {
		Comment    *string `json:"comment"`
		IsInternal bool    `json:"is_internal"`
	}
	var updates struct {
		Data []update `json:"data"`
	}

	// Operator sees both
	resp, err = operator.GET(incidentPath(inc.ID) + "/updates")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	testutil.DecodeJSON(t, resp, &updates)

	var internalSeen int
	for _, u := range updates.Data {
		if u.IsInternal {
			internalSeen++
		}
	}
	assert.Equal(t, 1, internalSeen)

	// Reporter sees only public entries
	resp, err = reporter.GET(incidentPath(inc.ID) + "/updates")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	testutil.DecodeJSON(t, resp, &updates)

	require.NotEmpty(t, updates.Data)
	for _, u := range updates.Data {
		assert.False(t, u.IsInternal)
	}
}

func TestIncidentComments_ReporterInternalFlagDowngraded(t *testing.T) {
	reporter := newTestClient(t)
	reporter.LoginAsReporter(t)
	inc := createIncident(t, reporter, "Reporter internal note attempt")

	resp, err := reporter.POST(incidentPath(inc.ID)+"/updates", map[string]interface{}{
		"comment":     "please mark this internal",
		"is_internal": true,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		Data struct {
			IsInternal bool `json:"is_internal"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	assert.False(t, result.Data.IsInternal)
}

func TestIncidentFilters_BySeverityAndStatus(t *testing.T) {
	admin := newTestClient(t)
	admin.LoginAsAdmin(t)

	created := createIncident(t, admin, "Critical filter target", withSeverity("critical"), withPriority("urgent"))

	resp, err := admin.GET("/api/v1/incidents?severity=critical&status=open&limit=100")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list incidentListEnvelope
	testutil.DecodeJSON(t, resp, &list)

	found := false
	for _, inc := range list.Data.Incidents {
		assert.Equal(t, "critical", inc.Severity)
		assert.Equal(t, "open", inc.Status)
		if inc.ID == created.ID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestIncidentGetByNumber(t *testing.T) {
	reporter := newTestClient(t)
	reporter.LoginAsReporter(t)

	inc := createIncident(t, reporter, "Lookup by number")

	resp, err := reporter.GET("/api/v1/incidents/number/" + inc.Number)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result incidentEnvelope
	testutil.DecodeJSON(t, resp, &result)
	assert.Equal(t, inc.ID, result.Data.ID)
}

func TestIncidentDelete_AdminOnly(t *testing.T) {
	admin := newTestClient(t)
	admin.LoginAsAdmin(t)
	inc := createIncident(t, admin, "To be deleted")

	operator := newTestClientWithoutValidation()
	operator.LoginAsOperator(t)

	resp, err := operator.DELETE(incidentPath(inc.ID))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp, err = admin.WithoutValidation().DELETE(incidentPath(inc.ID))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp, err = admin.WithoutValidation().GET(incidentPath(inc.ID))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestIncidentTransitionsEndpoint(t *testing.T) {
	admin := newTestClient(t)
	admin.LoginAsAdmin(t)
	inc := createIncident(t, admin, "Transition listing")

	resp, err := admin.GET(incidentPath(inc.ID) + "/transitions")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data []string `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	assert.Equal(t, []string{"investigating"}, result.Data)
}

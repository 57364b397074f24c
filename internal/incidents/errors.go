package incidents

import (
	"errors"
	"fmt"

	"github.com/opsdesk/opsdesk/internal/domain"
)

// Service errors.
var (
	ErrIncidentNotFound       = errors.New("incident not found")
	ErrForbidden              = errors.New("forbidden")
	ErrMissingResolutionNotes = errors.New("resolution notes are required when resolving an incident")
	ErrDuplicateNumber        = errors.New("duplicate incident number")
	ErrIncidentClosed         = errors.New("incident is closed")
	ErrAssigneeNotFound       = errors.New("assignee not found")
	ErrAssigneeNotOperator    = errors.New("assignee cannot manage incidents")
)

// InvalidTransitionError reports a status transition not permitted by the
// lifecycle state machine. It carries the current and attempted statuses for
// diagnostics.
type InvalidTransitionError struct {
	From domain.IncidentStatus
	To   domain.IncidentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition from %q to %q", e.From, e.To)
}

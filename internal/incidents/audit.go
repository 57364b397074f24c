package incidents

import "github.com/opsdesk/opsdesk/internal/domain"

// Audit entry constructors. Each builds exactly one append-only
// domain.IncidentUpdate row; the service persists it in the same transaction
// as the mutation it records.

func statusChangeEntry(incidentID, actorID int64, previous, next domain.IncidentStatus, note *string) *domain.IncidentUpdate {
	prev := string(previous)
	nxt := string(next)
	return &domain.IncidentUpdate{
		IncidentID:    incidentID,
		UserID:        actorID,
		ActionType:    domain.ActionStatusChange,
		PreviousValue: &prev,
		NewValue:      &nxt,
		Comment:       note,
	}
}

func assignmentChangeEntry(incidentID, actorID int64, previousAssignee, newAssignee, note *string) *domain.IncidentUpdate {
	return &domain.IncidentUpdate{
		IncidentID:    incidentID,
		UserID:        actorID,
		ActionType:    domain.ActionAssignment,
		PreviousValue: previousAssignee,
		NewValue:      newAssignee,
		Comment:       note,
	}
}

func commentEntry(incidentID, actorID int64, text string, isInternal bool) *domain.IncidentUpdate {
	return &domain.IncidentUpdate{
		IncidentID: incidentID,
		UserID:     actorID,
		ActionType: domain.ActionComment,
		Comment:    &text,
		IsInternal: isInternal,
	}
}

// fieldEditEntry records a value change. action is one of
// severity_change, priority_change or edit; previous and next are nil for
// the generic edit action.
func fieldEditEntry(incidentID, actorID int64, action domain.ActionType, previous, next *string, summary *string) *domain.IncidentUpdate {
	return &domain.IncidentUpdate{
		IncidentID:    incidentID,
		UserID:        actorID,
		ActionType:    action,
		PreviousValue: previous,
		NewValue:      next,
		Comment:       summary,
	}
}

package domain

import (
	"fmt"
	"time"
)

// ActionType represents the kind of action an audit entry records.
type ActionType string

// Action types.
const (
	ActionStatusChange   ActionType = "status_change"
	ActionComment        ActionType = "comment"
	ActionAssignment     ActionType = "assignment"
	ActionPriorityChange ActionType = "priority_change"
	ActionSeverityChange ActionType = "severity_change"
	ActionEdit           ActionType = "edit"
)

// IsValid checks if the action type is valid.
func (a ActionType) IsValid() bool {
	switch a {
	case ActionStatusChange, ActionComment, ActionAssignment,
		ActionPriorityChange, ActionSeverityChange, ActionEdit:
		return true
	}
	return false
}

// Label returns the display name of the action type.
func (a ActionType) Label() string {
	switch a {
	case ActionStatusChange:
		return "Status Changed"
	case ActionComment:
		return "Comment Added"
	case ActionAssignment:
		return "Assignment Changed"
	case ActionPriorityChange:
		return "Priority Changed"
	case ActionSeverityChange:
		return "Severity Changed"
	case ActionEdit:
		return "Incident Edited"
	}
	return string(a)
}

// IncidentUpdate is an immutable audit record of one state-changing action on
// an incident. Rows are append-only and never mutated or deleted in normal
// operation. Entries flagged internal are hidden from reporter viewers.
type IncidentUpdate struct {
	ID            int64      `json:"id"`
	IncidentID    int64      `json:"incident_id"`
	UserID        int64      `json:"user_id"`
	ActionType    ActionType `json:"action_type"`
	PreviousValue *string    `json:"previous_value"`
	NewValue      *string    `json:"new_value"`
	Comment       *string    `json:"comment"`
	IsInternal    bool       `json:"is_internal"`
	CreatedAt     time.Time  `json:"created_at"`

	User *UserRef `json:"user,omitempty"`
}

// Description renders a human-readable summary of the entry. It is derived
// presentation, recomputed at read time rather than stored.
func (u *IncidentUpdate) Description() string {
	name := "Someone"
	if u.User != nil && u.User.Name != "" {
		name = u.User.Name
	}

	switch u.ActionType {
	case ActionStatusChange:
		return fmt.Sprintf("%s changed status from %s to %s", name, deref(u.PreviousValue), deref(u.NewValue))
	case ActionComment:
		return fmt.Sprintf("%s added a comment", name)
	case ActionAssignment:
		if u.NewValue != nil && *u.NewValue != "" {
			return fmt.Sprintf("%s assigned to %s", name, *u.NewValue)
		}
		return fmt.Sprintf("%s removed assignment", name)
	case ActionPriorityChange:
		return fmt.Sprintf("%s changed priority from %s to %s", name, deref(u.PreviousValue), deref(u.NewValue))
	case ActionSeverityChange:
		return fmt.Sprintf("%s changed severity from %s to %s", name, deref(u.PreviousValue), deref(u.NewValue))
	case ActionEdit:
		return fmt.Sprintf("%s edited the incident", name)
	}
	return fmt.Sprintf("%s made an update", name)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Package policy contains the role-based access rules for incidents.
//
// Every predicate is a pure function of already-loaded actor and incident
// data; none of them performs I/O. Services evaluate the predicates and
// surface denials as their own forbidden errors.
package policy

import "github.com/opsdesk/opsdesk/internal/domain"

// CanView reports whether the actor may see the incident.
// Admins see everything; operators see incidents assigned to them or reported
// by them; reporters see only their own.
func CanView(actor domain.Actor, inc *domain.Incident) bool {
	switch actor.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleOperator:
		return isAssignee(actor, inc) || inc.ReportedBy == actor.ID
	case domain.RoleReporter:
		return inc.ReportedBy == actor.ID
	}
	return false
}

// CanCreate reports whether the actor may report a new incident.
func CanCreate(actor domain.Actor) bool {
	return actor.Role == domain.RoleReporter || actor.Role == domain.RoleAdmin
}

// CanUpdate reports whether the actor may edit incident fields, including
// severity and priority.
func CanUpdate(actor domain.Actor, inc *domain.Incident) bool {
	if actor.Role == domain.RoleAdmin {
		return true
	}
	return actor.Role == domain.RoleOperator && isAssignee(actor, inc)
}

// CanUpdateStatus reports whether the actor may move the incident through its
// lifecycle. Same rule as CanUpdate.
func CanUpdateStatus(actor domain.Actor, inc *domain.Incident) bool {
	return CanUpdate(actor, inc)
}

// CanAssign reports whether the actor may assign, reassign or unassign the
// incident. Admin only.
func CanAssign(actor domain.Actor, _ *domain.Incident) bool {
	return actor.Role == domain.RoleAdmin
}

// CanDelete reports whether the actor may delete the incident. Admin only.
func CanDelete(actor domain.Actor, _ *domain.Incident) bool {
	return actor.Role == domain.RoleAdmin
}

// CanComment reports whether the actor may comment on the incident.
// If you can see it, you can comment on it.
func CanComment(actor domain.Actor, inc *domain.Incident) bool {
	return CanView(actor, inc)
}

// CanAddInternalNote reports whether the actor may leave a note hidden from
// reporters.
func CanAddInternalNote(actor domain.Actor, inc *domain.Incident) bool {
	return actor.Role.CanManageIncidents() && CanView(actor, inc)
}

// CanUploadAttachment reports whether the actor may attach files.
// Same rule as viewing.
func CanUploadAttachment(actor domain.Actor, inc *domain.Incident) bool {
	return CanView(actor, inc)
}

// CanDeleteAttachment reports whether the actor may remove an attachment.
func CanDeleteAttachment(actor domain.Actor, att *domain.Attachment) bool {
	return actor.Role == domain.RoleAdmin || att.UploadedBy == actor.ID
}

func isAssignee(actor domain.Actor, inc *domain.Incident) bool {
	return inc.AssignedTo != nil && *inc.AssignedTo == actor.ID
}

// Scope is the visibility filter derived from an actor. It is the single
// source of role-based query scoping, applied uniformly by listing, export,
// dashboard and recent-activity queries.
type Scope struct {
	// All means no row filtering (admin).
	All bool
	// UserID is the actor the remaining fields refer to.
	UserID int64
	// IncludeAssigned widens the filter from "reported by" to
	// "reported by or assigned to" (operator).
	IncludeAssigned bool
	// SeeInternal controls visibility of internal audit entries.
	SeeInternal bool
}

// ScopeFor returns the visibility scope for the actor.
func ScopeFor(actor domain.Actor) Scope {
	switch actor.Role {
	case domain.RoleAdmin:
		return Scope{All: true, UserID: actor.ID, SeeInternal: true}
	case domain.RoleOperator:
		return Scope{UserID: actor.ID, IncludeAssigned: true, SeeInternal: true}
	}
	return Scope{UserID: actor.ID}
}

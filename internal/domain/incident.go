package domain

import (
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// IncidentStatus represents the lifecycle state of an incident.
type IncidentStatus string

// Incident statuses. The lifecycle is a strict linear chain:
// open -> investigating -> resolved -> closed.
const (
	IncidentStatusOpen          IncidentStatus = "open"
	IncidentStatusInvestigating IncidentStatus = "investigating"
	IncidentStatusResolved      IncidentStatus = "resolved"
	IncidentStatusClosed        IncidentStatus = "closed"
)

// IsValid checks if the status is valid.
func (s IncidentStatus) IsValid() bool {
	switch s {
	case IncidentStatusOpen, IncidentStatusInvestigating, IncidentStatusResolved, IncidentStatusClosed:
		return true
	}
	return false
}

// Label returns the display name of the status.
func (s IncidentStatus) Label() string {
	switch s {
	case IncidentStatusOpen:
		return "Open"
	case IncidentStatusInvestigating:
		return "Investigating"
	case IncidentStatusResolved:
		return "Resolved"
	case IncidentStatusClosed:
		return "Closed"
	}
	return string(s)
}

// Color returns the UI color associated with the status.
func (s IncidentStatus) Color() string {
	switch s {
	case IncidentStatusOpen:
		return "red"
	case IncidentStatusInvestigating:
		return "yellow"
	case IncidentStatusResolved:
		return "blue"
	case IncidentStatusClosed:
		return "green"
	}
	return "gray"
}

// ValidTransitions returns the statuses reachable from s. Closed is terminal.
func (s IncidentStatus) ValidTransitions() []IncidentStatus {
	switch s {
	case IncidentStatusOpen:
		return []IncidentStatus{IncidentStatusInvestigating}
	case IncidentStatusInvestigating:
		return []IncidentStatus{IncidentStatusResolved}
	case IncidentStatusResolved:
		return []IncidentStatus{IncidentStatusClosed}
	}
	return nil
}

// CanTransitionTo checks if the transition from s to target is permitted.
// It is pure and total over the status cross-product.
func (s IncidentStatus) CanTransitionTo(target IncidentStatus) bool {
	for _, t := range s.ValidTransitions() {
		if t == target {
			return true
		}
	}
	return false
}

// IncidentSeverity represents the severity level of an incident.
type IncidentSeverity string

// Severity levels.
const (
	SeverityLow      IncidentSeverity = "low"
	SeverityMedium   IncidentSeverity = "medium"
	SeverityHigh     IncidentSeverity = "high"
	SeverityCritical IncidentSeverity = "critical"
)

// IsValid checks if the severity is valid.
func (s IncidentSeverity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Weight returns the numeric weight of the severity, higher is worse.
func (s IncidentSeverity) Weight() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

var titleCaser = cases.Title(language.English)

// Label returns the display name of the severity.
func (s IncidentSeverity) Label() string {
	return titleCaser.String(string(s))
}

// IncidentPriority represents the handling priority of an incident.
type IncidentPriority string

// Priorities.
const (
	PriorityLow    IncidentPriority = "low"
	PriorityNormal IncidentPriority = "normal"
	PriorityHigh   IncidentPriority = "high"
	PriorityUrgent IncidentPriority = "urgent"
)

// IsValid checks if the priority is valid.
func (p IncidentPriority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Label returns the display name of the priority.
func (p IncidentPriority) Label() string {
	return titleCaser.String(string(p))
}

// IncidentCategories maps category keys to display names. Category is stored
// as a free string; this is the suggested set.
var IncidentCategories = map[string]string{
	"network":        "Network",
	"security":       "Security",
	"hardware":       "Hardware",
	"software":       "Software",
	"database":       "Database",
	"application":    "Application",
	"infrastructure": "Infrastructure",
	"other":          "Other",
}

// Incident represents a reported operational issue tracked through a fixed
// lifecycle.
type Incident struct {
	ID                int64            `json:"id"`
	Number            string           `json:"incident_number"`
	Title             string           `json:"title"`
	Description       string           `json:"description"`
	Severity          IncidentSeverity `json:"severity"`
	Status            IncidentStatus   `json:"status"`
	Priority          IncidentPriority `json:"priority"`
	Category          string           `json:"category"`
	ReportedBy        int64            `json:"reported_by"`
	AssignedTo        *int64           `json:"assigned_to"`
	DueDate           *time.Time       `json:"due_date"`
	ResolutionNotes   *string          `json:"resolution_notes"`
	ImpactDescription *string          `json:"impact_description"`
	AffectedSystems   []string         `json:"affected_systems"`
	ResolvedAt        *time.Time       `json:"resolved_at"`
	ClosedAt          *time.Time       `json:"closed_at"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`

	// Loaded relations, nil unless the repository populated them.
	Reporter *UserRef `json:"reporter,omitempty"`
	Assignee *UserRef `json:"assignee,omitempty"`
}

// UserRef is a lightweight user reference embedded in read models.
type UserRef struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// IsClosed reports whether the incident reached its terminal state.
func (i *Incident) IsClosed() bool {
	return i.Status == IncidentStatusClosed
}

// IsResolved reports whether the incident is resolved or closed.
func (i *Incident) IsResolved() bool {
	return i.Status == IncidentStatusResolved || i.Status == IncidentStatusClosed
}

// HasResolutionNotes reports whether non-empty resolution notes are stored.
func (i *Incident) HasResolutionNotes() bool {
	return i.ResolutionNotes != nil && *i.ResolutionNotes != ""
}

package incidents

import (
	"context"
	"time"

	"github.com/opsdesk/opsdesk/internal/domain"
	"github.com/opsdesk/opsdesk/internal/policy"
)

// Repository defines the interface for incident storage.
type Repository interface {
	GetIncident(ctx context.Context, id int64) (*domain.Incident, error)
	GetIncidentByNumber(ctx context.Context, number string) (*domain.Incident, error)
	ListIncidents(ctx context.Context, scope policy.Scope, filters Filters) ([]*domain.Incident, int, error)

	// ListUpdates returns audit entries for an incident, newest first.
	// Internal entries are excluded unless includeInternal is set.
	ListUpdates(ctx context.Context, incidentID int64, includeInternal bool) ([]*domain.IncidentUpdate, error)
	// ListRecentActivity returns the latest audit entries across all
	// incidents visible within the scope, newest first.
	ListRecentActivity(ctx context.Context, scope policy.Scope, limit int) ([]*domain.IncidentUpdate, error)

	// BeginTx starts a unit of work. Every lifecycle mutation and its audit
	// entries commit or roll back together.
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is a transactional unit of work over incident rows and their audit log.
type Tx interface {
	// NextSequence atomically increments and returns the incident number
	// sequence for the given day.
	NextSequence(ctx context.Context, day time.Time) (int, error)
	CreateIncident(ctx context.Context, inc *domain.Incident) error
	UpdateIncident(ctx context.Context, inc *domain.Incident) error
	DeleteIncident(ctx context.Context, id int64) error
	CreateUpdate(ctx context.Context, upd *domain.IncidentUpdate) error

	Commit(ctx context.Context) error
	// Rollback after a successful Commit is a no-op and returns nil.
	Rollback(ctx context.Context) error
}

// UserDirectory resolves user references for audit display names and
// assignment checks.
type UserDirectory interface {
	GetUserRef(ctx context.Context, id int64) (*domain.UserRef, error)
	GetUserRole(ctx context.Context, id int64) (domain.Role, error)
}

// SortField names an incident list sort key.
type SortField string

// Sort keys accepted by ListIncidents.
const (
	SortByCreatedAt SortField = "created_at"
	SortByUpdatedAt SortField = "updated_at"
	SortBySeverity  SortField = "severity"
	SortByPriority  SortField = "priority"
	SortByStatus    SortField = "status"
	SortByNumber    SortField = "incident_number"
)

// IsValid reports whether f is an accepted sort key.
func (f SortField) IsValid() bool {
	switch f {
	case SortByCreatedAt, SortByUpdatedAt, SortBySeverity, SortByPriority, SortByStatus, SortByNumber:
		return true
	}
	return false
}

// Filters holds filter and sort options for incident listings. The same
// structure feeds listings, dashboards and CSV export.
type Filters struct {
	Status     *domain.IncidentStatus
	Severity   *domain.IncidentSeverity
	Priority   *domain.IncidentPriority
	Category   *string
	AssignedTo *int64
	ReportedBy *int64
	// Search matches title, description and incident number.
	Search string
	// DateFrom/DateTo bound created_at. DateFrom alone matches that day only.
	DateFrom *time.Time
	DateTo   *time.Time

	SortBy   SortField
	SortDesc bool
	Limit    int
	Offset   int
}

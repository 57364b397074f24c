// Package export streams CSV extracts of incidents and users.
package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/opsdesk/opsdesk/internal/domain"
	"github.com/opsdesk/opsdesk/internal/identity"
	"github.com/opsdesk/opsdesk/internal/incidents"
	"github.com/opsdesk/opsdesk/internal/policy"
)

// ErrForbidden is returned when the actor may not run the export.
var ErrForbidden = errors.New("operation not permitted")

// chunkSize is the page size used while streaming. Exports never load
// the full result set into memory.
const chunkSize = 500

// IncidentLister is the slice of incidents.Repository the export needs.
type IncidentLister interface {
	ListIncidents(ctx context.Context, scope policy.Scope, f incidents.Filters) ([]*domain.Incident, int, error)
}

// UserLister is the slice of identity.Repository the export needs.
type UserLister interface {
	ListUsers(ctx context.Context, f identity.UserFilters) ([]*domain.User, int, error)
}

// Service implements CSV exports.
type Service struct {
	incidents IncidentLister
	users     UserLister
}

// NewService creates a new export service.
func NewService(incidents IncidentLister, users UserLister) *Service {
	return &Service{
		incidents: incidents,
		users:     users,
	}
}

// WriteIncidentsCSV streams the actor's visible incidents as CSV.
// Filters apply the same way as on the list endpoint.
func (s *Service) WriteIncidentsCSV(ctx context.Context, w io.Writer, actor domain.Actor, filters incidents.Filters) error {
	scope := policy.ScopeFor(actor)

	cw := csv.NewWriter(w)
	header := []string{
		"number", "title", "status", "severity", "priority", "category",
		"reporter", "assignee", "created_at", "resolved_at", "closed_at",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	filters.Limit = chunkSize
	for offset := 0; ; offset += chunkSize {
		filters.Offset = offset

		page, total, err := s.incidents.ListIncidents(ctx, scope, filters)
		if err != nil {
			return fmt.Errorf("list incidents: %w", err)
		}

		for _, inc := range page {
			if err := cw.Write(incidentRow(inc)); err != nil {
				return fmt.Errorf("write row: %w", err)
			}
		}

		// Flush per chunk so the response streams.
		cw.Flush()
		if err := cw.Error(); err != nil {
			return fmt.Errorf("flush csv: %w", err)
		}

		if offset+len(page) >= total || len(page) == 0 {
			return nil
		}
	}
}

// WriteUsersCSV streams all user accounts as CSV. Admin only.
func (s *Service) WriteUsersCSV(ctx context.Context, w io.Writer, actor domain.Actor) error {
	if actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}

	cw := csv.NewWriter(w)
	header := []string{"id", "name", "email", "role", "is_active", "last_login_at", "created_at"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	filters := identity.UserFilters{Limit: chunkSize}
	for offset := 0; ; offset += chunkSize {
		filters.Offset = offset

		page, total, err := s.users.ListUsers(ctx, filters)
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}

		for _, user := range page {
			if err := cw.Write(userRow(user)); err != nil {
				return fmt.Errorf("write row: %w", err)
			}
		}

		cw.Flush()
		if err := cw.Error(); err != nil {
			return fmt.Errorf("flush csv: %w", err)
		}

		if offset+len(page) >= total || len(page) == 0 {
			return nil
		}
	}
}

func incidentRow(inc *domain.Incident) []string {
	reporter := ""
	if inc.Reporter != nil {
		reporter = inc.Reporter.Name
	}
	assignee := ""
	if inc.Assignee != nil {
		assignee = inc.Assignee.Name
	}
	return []string{
		inc.Number,
		inc.Title,
		string(inc.Status),
		string(inc.Severity),
		string(inc.Priority),
		inc.Category,
		reporter,
		assignee,
		formatTime(&inc.CreatedAt),
		formatTime(inc.ResolvedAt),
		formatTime(inc.ClosedAt),
	}
}

func userRow(user *domain.User) []string {
	return []string{
		strconv.FormatInt(user.ID, 10),
		user.Name,
		user.Email,
		string(user.Role),
		strconv.FormatBool(user.IsActive),
		formatTime(user.LastLoginAt),
		formatTime(&user.CreatedAt),
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

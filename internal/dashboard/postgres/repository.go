// Package postgres provides PostgreSQL implementation of dashboard queries.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsdesk/opsdesk/internal/dashboard"
	"github.com/opsdesk/opsdesk/internal/domain"
	"github.com/opsdesk/opsdesk/internal/policy"
)

// Repository implements dashboard.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// scopeFilter renders the visibility scope as a WHERE fragment over the
// incidents table alias "i". Args pick up numbering after existing args.
func scopeFilter(scope policy.Scope, args []any) (string, []any) {
	if scope.All {
		return "", args
	}
	args = append(args, scope.UserID)
	n := len(args)
	if scope.IncludeAssigned {
		return fmt.Sprintf(" AND (i.reported_by = $%d OR i.assigned_to = $%d)", n, n), args
	}
	return fmt.Sprintf(" AND i.reported_by = $%d", n), args
}

// StatusCounts returns incident totals by lifecycle status.
func (r *Repository) StatusCounts(ctx context.Context, scope policy.Scope) (*dashboard.StatusCounts, error) {
	where, args := scopeFilter(scope, nil)
	query := fmt.Sprintf(`
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE i.status = 'open'),
			COUNT(*) FILTER (WHERE i.status = 'investigating'),
			COUNT(*) FILTER (WHERE i.status = 'resolved'),
			COUNT(*) FILTER (WHERE i.status = 'closed'),
			COUNT(*) FILTER (WHERE i.assigned_to IS NULL AND i.status IN ('open', 'investigating'))
		FROM incidents i
		WHERE 1=1%s
	`, where)

	var counts dashboard.StatusCounts
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&counts.Total,
		&counts.Open,
		&counts.Investigating,
		&counts.Resolved,
		&counts.Closed,
		&counts.Unassigned,
	)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	return &counts, nil
}

// CountBySeverity returns incident totals grouped by severity.
func (r *Repository) CountBySeverity(ctx context.Context, scope policy.Scope) (map[domain.IncidentSeverity]int, error) {
	where, args := scopeFilter(scope, nil)
	query := fmt.Sprintf(`
		SELECT i.severity, COUNT(*)
		FROM incidents i
		WHERE 1=1%s
		GROUP BY i.severity
	`, where)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count by severity: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.IncidentSeverity]int)
	for rows.Next() {
		var severity domain.IncidentSeverity
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("scan severity count: %w", err)
		}
		counts[severity] = count
	}
	return counts, rows.Err()
}

// CountByCategory returns incident totals grouped by category.
func (r *Repository) CountByCategory(ctx context.Context, scope policy.Scope) (map[string]int, error) {
	where, args := scopeFilter(scope, nil)
	query := fmt.Sprintf(`
		SELECT i.category, COUNT(*)
		FROM incidents i
		WHERE 1=1%s
		GROUP BY i.category
	`, where)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count by category: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("scan category count: %w", err)
		}
		counts[category] = count
	}
	return counts, rows.Err()
}

// CreatedPerDay returns incidents created per day since from.
func (r *Repository) CreatedPerDay(ctx context.Context, scope policy.Scope, from time.Time) (map[string]int, error) {
	return r.perDay(ctx, scope, "i.created_at", from)
}

// ResolvedPerDay returns incidents resolved per day since from.
func (r *Repository) ResolvedPerDay(ctx context.Context, scope policy.Scope, from time.Time) (map[string]int, error) {
	return r.perDay(ctx, scope, "i.resolved_at", from)
}

func (r *Repository) perDay(ctx context.Context, scope policy.Scope, column string, from time.Time) (map[string]int, error) {
	args := []any{from}
	where, args := scopeFilter(scope, args)
	query := fmt.Sprintf(`
		SELECT TO_CHAR(%s AT TIME ZONE 'UTC', 'YYYY-MM-DD'), COUNT(*)
		FROM incidents i
		WHERE %s >= $1%s
		GROUP BY 1
	`, column, column, where)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("per day counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var day string
		var count int
		if err := rows.Scan(&day, &count); err != nil {
			return nil, fmt.Errorf("scan per day count: %w", err)
		}
		counts[day] = count
	}
	return counts, rows.Err()
}

// ResolutionTimes returns average resolution seconds per severity.
func (r *Repository) ResolutionTimes(ctx context.Context, scope policy.Scope) ([]dashboard.ResolutionRow, error) {
	where, args := scopeFilter(scope, nil)
	query := fmt.Sprintf(`
		SELECT
			i.severity,
			AVG(EXTRACT(EPOCH FROM (i.resolved_at - i.created_at))),
			COUNT(*)
		FROM incidents i
		WHERE i.resolved_at IS NOT NULL%s
		GROUP BY i.severity
	`, where)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("resolution times: %w", err)
	}
	defer rows.Close()

	out := make([]dashboard.ResolutionRow, 0)
	for rows.Next() {
		var row dashboard.ResolutionRow
		if err := rows.Scan(&row.Severity, &row.AvgSeconds, &row.Resolved); err != nil {
			return nil, fmt.Errorf("scan resolution row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// OperatorPerformance returns open workload, resolved throughput and
// average resolution time per active operator or admin.
func (r *Repository) OperatorPerformance(ctx context.Context) ([]dashboard.OperatorRow, error) {
	query := `
		SELECT
			u.id, u.name, u.email,
			COUNT(i.id) FILTER (WHERE i.status IN ('open', 'investigating')),
			COUNT(i.id) FILTER (WHERE i.resolved_at IS NOT NULL),
			COALESCE(AVG(EXTRACT(EPOCH FROM (i.resolved_at - i.created_at))) FILTER (WHERE i.resolved_at IS NOT NULL), 0)
		FROM users u
		LEFT JOIN incidents i ON i.assigned_to = u.id
		WHERE u.role IN ('operator', 'admin') AND u.is_active = TRUE
		GROUP BY u.id, u.name, u.email
		ORDER BY u.name
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("operator performance: %w", err)
	}
	defer rows.Close()

	out := make([]dashboard.OperatorRow, 0)
	for rows.Next() {
		var row dashboard.OperatorRow
		err := rows.Scan(
			&row.Operator.ID, &row.Operator.Name, &row.Operator.Email,
			&row.OpenCount, &row.Resolved, &row.AvgSeconds,
		)
		if err != nil {
			return nil, fmt.Errorf("scan operator row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// UnresolvedIncidents returns open and investigating incidents for
// escalation scoring. Kept lean: no joins, no user refs.
func (r *Repository) UnresolvedIncidents(ctx context.Context, scope policy.Scope) ([]*domain.Incident, error) {
	where, args := scopeFilter(scope, nil)
	query := fmt.Sprintf(`
		SELECT i.id, i.incident_number, i.title, i.status, i.severity, i.priority,
		       i.category, i.reported_by, i.assigned_to, i.created_at, i.updated_at
		FROM incidents i
		WHERE i.status IN ('open', 'investigating')%s
		ORDER BY i.created_at
	`, where)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("unresolved incidents: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Incident, 0)
	for rows.Next() {
		var inc domain.Incident
		err := rows.Scan(
			&inc.ID, &inc.Number, &inc.Title, &inc.Status, &inc.Severity, &inc.Priority,
			&inc.Category, &inc.ReportedBy, &inc.AssignedTo, &inc.CreatedAt, &inc.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		out = append(out, &inc)
	}
	return out, rows.Err()
}

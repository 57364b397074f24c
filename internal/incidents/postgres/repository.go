// Package postgres provides PostgreSQL implementation of the incidents
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsdesk/opsdesk/internal/domain"
	"github.com/opsdesk/opsdesk/internal/incidents"
	"github.com/opsdesk/opsdesk/internal/policy"
)

const uniqueViolation = "23505"

// Repository implements incidents.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const incidentColumns = `
	i.id, i.incident_number, i.title, i.description, i.severity, i.status,
	i.priority, i.category, i.reported_by, i.assigned_to,
	i.impact_description, i.affected_systems, i.due_date, i.resolution_notes,
	i.resolved_at, i.closed_at, i.created_at, i.updated_at,
	rep.id, rep.name, rep.email,
	asg.id, asg.name, asg.email`

const incidentJoins = `
	FROM incidents i
	JOIN users rep ON rep.id = i.reported_by
	LEFT JOIN users asg ON asg.id = i.assigned_to`

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var inc domain.Incident
	var reporter domain.UserRef
	var assigneeID *int64
	var assigneeName, assigneeEmail *string

	err := row.Scan(
		&inc.ID,
		&inc.Number,
		&inc.Title,
		&inc.Description,
		&inc.Severity,
		&inc.Status,
		&inc.Priority,
		&inc.Category,
		&inc.ReportedBy,
		&inc.AssignedTo,
		&inc.ImpactDescription,
		&inc.AffectedSystems,
		&inc.DueDate,
		&inc.ResolutionNotes,
		&inc.ResolvedAt,
		&inc.ClosedAt,
		&inc.CreatedAt,
		&inc.UpdatedAt,
		&reporter.ID,
		&reporter.Name,
		&reporter.Email,
		&assigneeID,
		&assigneeName,
		&assigneeEmail,
	)
	if err != nil {
		return nil, err
	}

	inc.Reporter = &reporter
	if assigneeID != nil {
		inc.Assignee = &domain.UserRef{ID: *assigneeID, Name: *assigneeName, Email: *assigneeEmail}
	}

	return &inc, nil
}

// GetIncident retrieves an incident by ID with reporter and assignee refs.
func (r *Repository) GetIncident(ctx context.Context, id int64) (*domain.Incident, error) {
	query := `SELECT` + incidentColumns + incidentJoins + ` WHERE i.id = $1`

	inc, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

// GetIncidentByNumber retrieves an incident by its human-readable number.
func (r *Repository) GetIncidentByNumber(ctx context.Context, number string) (*domain.Incident, error) {
	query := `SELECT` + incidentColumns + incidentJoins + ` WHERE i.incident_number = $1`

	inc, err := scanIncident(r.db.QueryRow(ctx, query, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident by number: %w", err)
	}
	return inc, nil
}

// ListIncidents retrieves incidents visible in scope, filtered and sorted,
// together with the total matching row count.
func (r *Repository) ListIncidents(ctx context.Context, scope policy.Scope, filters incidents.Filters) ([]*domain.Incident, int, error) {
	where, args := buildWhere(scope, filters)

	countQuery := `SELECT COUNT(*)` + incidentJoins + where
	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count incidents: %w", err)
	}

	query := `SELECT` + incidentColumns + incidentJoins + where + orderClause(filters)
	argNum := len(args) + 1

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filters.Limit)
		argNum++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filters.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	list := make([]*domain.Incident, 0)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan incident: %w", err)
		}
		list = append(list, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list incidents: %w", err)
	}

	return list, total, nil
}

func buildWhere(scope policy.Scope, filters incidents.Filters) (string, []interface{}) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if !scope.All {
		if scope.IncludeAssigned {
			where += fmt.Sprintf(" AND (i.reported_by = $%d OR i.assigned_to = $%d)", argNum, argNum)
		} else {
			where += fmt.Sprintf(" AND i.reported_by = $%d", argNum)
		}
		args = append(args, scope.UserID)
		argNum++
	}

	if filters.Status != nil {
		where += fmt.Sprintf(" AND i.status = $%d", argNum)
		args = append(args, *filters.Status)
		argNum++
	}
	if filters.Severity != nil {
		where += fmt.Sprintf(" AND i.severity = $%d", argNum)
		args = append(args, *filters.Severity)
		argNum++
	}
	if filters.Priority != nil {
		where += fmt.Sprintf(" AND i.priority = $%d", argNum)
		args = append(args, *filters.Priority)
		argNum++
	}
	if filters.Category != nil {
		where += fmt.Sprintf(" AND i.category = $%d", argNum)
		args = append(args, *filters.Category)
		argNum++
	}
	if filters.AssignedTo != nil {
		where += fmt.Sprintf(" AND i.assigned_to = $%d", argNum)
		args = append(args, *filters.AssignedTo)
		argNum++
	}
	if filters.ReportedBy != nil {
		where += fmt.Sprintf(" AND i.reported_by = $%d", argNum)
		args = append(args, *filters.ReportedBy)
		argNum++
	}
	if filters.Search != "" {
		where += fmt.Sprintf(" AND (i.title ILIKE $%d OR i.description ILIKE $%d OR i.incident_number ILIKE $%d)", argNum, argNum, argNum)
		args = append(args, "%"+filters.Search+"%")
		argNum++
	}
	if filters.DateFrom != nil {
		where += fmt.Sprintf(" AND i.created_at >= $%d", argNum)
		args = append(args, filters.DateFrom.Truncate(24*time.Hour))
		argNum++
		if filters.DateTo == nil {
			// A lone date_from matches that single day.
			where += fmt.Sprintf(" AND i.created_at < $%d", argNum)
			args = append(args, filters.DateFrom.Truncate(24*time.Hour).Add(24*time.Hour))
			argNum++
		}
	}
	if filters.DateTo != nil {
		where += fmt.Sprintf(" AND i.created_at < $%d", argNum)
		args = append(args, filters.DateTo.Truncate(24*time.Hour).Add(24*time.Hour))
		argNum++
	}

	return where, args
}

func orderClause(filters incidents.Filters) string {
	dir := "ASC"
	if filters.SortDesc {
		dir = "DESC"
	}

	// Sort keys come from a validated whitelist, never from raw input.
	switch filters.SortBy {
	case incidents.SortBySeverity:
		return fmt.Sprintf(" ORDER BY CASE i.severity WHEN 'critical' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END %s, i.created_at DESC", dir)
	case incidents.SortByPriority:
		return fmt.Sprintf(" ORDER BY CASE i.priority WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'normal' THEN 2 ELSE 1 END %s, i.created_at DESC", dir)
	case incidents.SortByUpdatedAt:
		return fmt.Sprintf(" ORDER BY i.updated_at %s", dir)
	case incidents.SortByStatus:
		return fmt.Sprintf(" ORDER BY i.status %s, i.created_at DESC", dir)
	case incidents.SortByNumber:
		return fmt.Sprintf(" ORDER BY i.incident_number %s", dir)
	default:
		return fmt.Sprintf(" ORDER BY i.created_at %s", dir)
	}
}

const updateColumns = `
	u.id, u.incident_id, u.user_id, u.action_type,
	u.previous_value, u.new_value, u.comment, u.is_internal, u.created_at,
	usr.id, usr.name, usr.email`

func scanUpdate(rows pgx.Rows) (*domain.IncidentUpdate, error) {
	var upd domain.IncidentUpdate
	var user domain.UserRef

	err := rows.Scan(
		&upd.ID,
		&upd.IncidentID,
		&upd.UserID,
		&upd.ActionType,
		&upd.PreviousValue,
		&upd.NewValue,
		&upd.Comment,
		&upd.IsInternal,
		&upd.CreatedAt,
		&user.ID,
		&user.Name,
		&user.Email,
	)
	if err != nil {
		return nil, err
	}

	upd.User = &user
	return &upd, nil
}

// ListUpdates retrieves an incident's audit trail, newest first.
func (r *Repository) ListUpdates(ctx context.Context, incidentID int64, includeInternal bool) ([]*domain.IncidentUpdate, error) {
	query := `SELECT` + updateColumns + `
		FROM incident_updates u
		JOIN users usr ON usr.id = u.user_id
		WHERE u.incident_id = $1
	`
	args := []interface{}{incidentID}

	if !includeInternal {
		query += " AND u.is_internal = FALSE"
	}
	query += " ORDER BY u.created_at DESC, u.id DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incident updates: %w", err)
	}
	defer rows.Close()

	updates := make([]*domain.IncidentUpdate, 0)
	for rows.Next() {
		upd, err := scanUpdate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident update: %w", err)
		}
		updates = append(updates, upd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list incident updates: %w", err)
	}

	return updates, nil
}

// ListRecentActivity retrieves the latest audit entries across incidents
// visible in scope.
func (r *Repository) ListRecentActivity(ctx context.Context, scope policy.Scope, limit int) ([]*domain.IncidentUpdate, error) {
	query := `SELECT` + updateColumns + `
		FROM incident_updates u
		JOIN users usr ON usr.id = u.user_id
		JOIN incidents i ON i.id = u.incident_id
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if !scope.All {
		if scope.IncludeAssigned {
			query += fmt.Sprintf(" AND (i.reported_by = $%d OR i.assigned_to = $%d)", argNum, argNum)
		} else {
			query += fmt.Sprintf(" AND i.reported_by = $%d", argNum)
		}
		args = append(args, scope.UserID)
		argNum++
	}
	if !scope.SeeInternal {
		query += " AND u.is_internal = FALSE"
	}

	query += fmt.Sprintf(" ORDER BY u.created_at DESC, u.id DESC LIMIT $%d", argNum)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent activity: %w", err)
	}
	defer rows.Close()

	updates := make([]*domain.IncidentUpdate, 0)
	for rows.Next() {
		upd, err := scanUpdate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident update: %w", err)
		}
		updates = append(updates, upd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recent activity: %w", err)
	}

	return updates, nil
}

// BeginTx starts a new database transaction.
func (r *Repository) BeginTx(ctx context.Context) (incidents.Tx, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Tx implements incidents.Tx on top of a pgx transaction.
type Tx struct {
	tx pgx.Tx
}

// NextSequence atomically increments and returns the per-day incident number
// counter. The row lock taken by the upsert serializes concurrent creators.
func (t *Tx) NextSequence(ctx context.Context, day time.Time) (int, error) {
	query := `
		INSERT INTO incident_counters (day, value)
		VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET value = incident_counters.value + 1
		RETURNING value
	`
	var value int
	if err := t.tx.QueryRow(ctx, query, day.Format("2006-01-02")).Scan(&value); err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return value, nil
}

// CreateIncident inserts a new incident row.
func (t *Tx) CreateIncident(ctx context.Context, inc *domain.Incident) error {
	query := `
		INSERT INTO incidents (
			incident_number, title, description, severity, status, priority,
			category, reported_by, assigned_to, impact_description,
			affected_systems, due_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`
	err := t.tx.QueryRow(ctx, query,
		inc.Number,
		inc.Title,
		inc.Description,
		inc.Severity,
		inc.Status,
		inc.Priority,
		inc.Category,
		inc.ReportedBy,
		inc.AssignedTo,
		inc.ImpactDescription,
		inc.AffectedSystems,
		inc.DueDate,
	).Scan(&inc.ID, &inc.CreatedAt, &inc.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return incidents.ErrDuplicateNumber
		}
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// UpdateIncident persists mutable incident fields.
func (t *Tx) UpdateIncident(ctx context.Context, inc *domain.Incident) error {
	query := `
		UPDATE incidents SET
			title = $2,
			description = $3,
			severity = $4,
			status = $5,
			priority = $6,
			category = $7,
			assigned_to = $8,
			impact_description = $9,
			affected_systems = $10,
			due_date = $11,
			resolution_notes = $12,
			resolved_at = $13,
			closed_at = $14,
			updated_at = NOW()
		WHERE id = $1
	`
	tag, err := t.tx.Exec(ctx, query,
		inc.ID,
		inc.Title,
		inc.Description,
		inc.Severity,
		inc.Status,
		inc.Priority,
		inc.Category,
		inc.AssignedTo,
		inc.ImpactDescription,
		inc.AffectedSystems,
		inc.DueDate,
		inc.ResolutionNotes,
		inc.ResolvedAt,
		inc.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return incidents.ErrIncidentNotFound
	}
	return nil
}

// DeleteIncident removes an incident. Updates and attachments cascade.
func (t *Tx) DeleteIncident(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM incidents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return incidents.ErrIncidentNotFound
	}
	return nil
}

// CreateUpdate appends an audit trail entry.
func (t *Tx) CreateUpdate(ctx context.Context, upd *domain.IncidentUpdate) error {
	query := `
		INSERT INTO incident_updates (
			incident_id, user_id, action_type, previous_value, new_value,
			comment, is_internal
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := t.tx.QueryRow(ctx, query,
		upd.IncidentID,
		upd.UserID,
		upd.ActionType,
		upd.PreviousValue,
		upd.NewValue,
		upd.Comment,
		upd.IsInternal,
	).Scan(&upd.ID, &upd.CreatedAt)

	if err != nil {
		return fmt.Errorf("create incident update: %w", err)
	}
	return nil
}

// Commit commits the transaction.
func (t *Tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback aborts the transaction. Safe to call after Commit.
func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// Package incidents implements the incident lifecycle: creation, edits,
// status transitions, assignment, comments and the append-only audit trail.
package incidents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opsdesk/opsdesk/internal/domain"
	"github.com/opsdesk/opsdesk/internal/policy"
)

const initialCommentText = "Incident reported and logged into the system."

// Service implements incident business logic. Every mutating operation
// evaluates the access policy, validates the requested change, and persists
// the mutation together with its audit entries in one transaction.
type Service struct {
	repo     Repository
	users    UserDirectory
	handlers []EventHandler
	now      func() time.Time
}

// NewService creates a new incident service. Handlers receive lifecycle
// events after each successful operation.
func NewService(repo Repository, users UserDirectory, handlers ...EventHandler) *Service {
	return &Service{
		repo:     repo,
		users:    users,
		handlers: handlers,
		now:      time.Now,
	}
}

// CreateIncidentInput holds data for reporting an incident.
type CreateIncidentInput struct {
	Title             string
	Description       string
	Severity          domain.IncidentSeverity
	Priority          domain.IncidentPriority
	Category          string
	ImpactDescription *string
	AffectedSystems   []string
	DueDate           *time.Time
}

// UpdateIncidentInput holds field edits. Nil fields are left unchanged.
type UpdateIncidentInput struct {
	Title             *string
	Description       *string
	Category          *string
	ImpactDescription *string
	AffectedSystems   []string
	DueDate           *time.Time
	ResolutionNotes   *string
	Severity          *domain.IncidentSeverity
	Priority          *domain.IncidentPriority
}

// Create reports a new incident. The incident number, the row itself and the
// initial audit entry are written in one transaction; a duplicate-number
// conflict is retried once.
func (s *Service) Create(ctx context.Context, input CreateIncidentInput, actor domain.Actor) (*domain.Incident, error) {
	if !policy.CanCreate(actor) {
		return nil, fmt.Errorf("%w: create incident", ErrForbidden)
	}

	if input.Severity == "" {
		input.Severity = domain.SeverityMedium
	}
	if input.Priority == "" {
		input.Priority = domain.PriorityNormal
	}
	if input.Category == "" {
		input.Category = "other"
	}
	if !input.Severity.IsValid() {
		return nil, fmt.Errorf("invalid severity: %s", input.Severity)
	}
	if !input.Priority.IsValid() {
		return nil, fmt.Errorf("invalid priority: %s", input.Priority)
	}

	inc, err := s.createOnce(ctx, input, actor)
	if errors.Is(err, ErrDuplicateNumber) {
		// The unique constraint is the last line of defense against a
		// number race; one bounded retry re-reads the counter.
		inc, err = s.createOnce(ctx, input, actor)
	}
	if err != nil {
		return nil, err
	}

	incidentsCreatedTotal.WithLabelValues(string(inc.Severity)).Inc()
	s.emitCreated(ctx, inc)

	return inc, nil
}

func (s *Service) createOnce(ctx context.Context, input CreateIncidentInput, actor domain.Actor) (*domain.Incident, error) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	day := s.now().UTC()
	seq, err := tx.NextSequence(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("next incident sequence: %w", err)
	}

	inc := &domain.Incident{
		Number:            FormatNumber(day, seq),
		Title:             input.Title,
		Description:       input.Description,
		Severity:          input.Severity,
		Status:            domain.IncidentStatusOpen,
		Priority:          input.Priority,
		Category:          input.Category,
		ReportedBy:        actor.ID,
		ImpactDescription: input.ImpactDescription,
		AffectedSystems:   input.AffectedSystems,
		DueDate:           input.DueDate,
	}

	if err := tx.CreateIncident(ctx, inc); err != nil {
		return nil, err
	}

	if err := tx.CreateUpdate(ctx, commentEntry(inc.ID, actor.ID, initialCommentText, false)); err != nil {
		return nil, fmt.Errorf("create initial audit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return s.repo.GetIncident(ctx, inc.ID)
}

// FormatNumber renders the human-readable incident number for a day and
// sequence value, e.g. INC-20250114-0007.
func FormatNumber(day time.Time, seq int) string {
	return fmt.Sprintf("INC-%s-%04d", day.Format("20060102"), seq)
}

// Get returns an incident if the actor may view it.
func (s *Service) Get(ctx context.Context, id int64, actor domain.Actor) (*domain.Incident, error) {
	inc, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.CanView(actor, inc) {
		return nil, fmt.Errorf("%w: view incident", ErrForbidden)
	}
	return inc, nil
}

// GetByNumber returns an incident by its human-readable number.
func (s *Service) GetByNumber(ctx context.Context, number string, actor domain.Actor) (*domain.Incident, error) {
	inc, err := s.repo.GetIncidentByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if !policy.CanView(actor, inc) {
		return nil, fmt.Errorf("%w: view incident", ErrForbidden)
	}
	return inc, nil
}

// List returns incidents visible to the actor, filtered and sorted, plus the
// total row count for pagination.
func (s *Service) List(ctx context.Context, actor domain.Actor, filters Filters) ([]*domain.Incident, int, error) {
	return s.repo.ListIncidents(ctx, policy.ScopeFor(actor), filters)
}

// Update applies whitelisted field edits. Severity and priority changes are
// recorded with dedicated audit entries carrying the before/after values;
// any other change produces one generic edit entry. Nothing is written when
// no field actually changed.
func (s *Service) Update(ctx context.Context, id int64, input UpdateIncidentInput, actor domain.Actor) (*domain.Incident, error) {
	inc, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.CanUpdate(actor, inc) {
		return nil, fmt.Errorf("%w: update incident", ErrForbidden)
	}

	if input.Severity != nil && !input.Severity.IsValid() {
		return nil, fmt.Errorf("invalid severity: %s", *input.Severity)
	}
	if input.Priority != nil && !input.Priority.IsValid() {
		return nil, fmt.Errorf("invalid priority: %s", *input.Priority)
	}

	var entries []*domain.IncidentUpdate
	edited := false

	if input.Title != nil && *input.Title != inc.Title {
		inc.Title = *input.Title
		edited = true
	}
	if input.Description != nil && *input.Description != inc.Description {
		inc.Description = *input.Description
		edited = true
	}
	if input.Category != nil && *input.Category != inc.Category {
		inc.Category = *input.Category
		edited = true
	}
	if input.ImpactDescription != nil {
		inc.ImpactDescription = input.ImpactDescription
		edited = true
	}
	if input.AffectedSystems != nil {
		inc.AffectedSystems = input.AffectedSystems
		edited = true
	}
	if input.DueDate != nil {
		inc.DueDate = input.DueDate
		edited = true
	}
	if input.ResolutionNotes != nil {
		inc.ResolutionNotes = input.ResolutionNotes
		edited = true
	}

	if input.Severity != nil && *input.Severity != inc.Severity {
		prev := string(inc.Severity)
		next := string(*input.Severity)
		entries = append(entries, fieldEditEntry(inc.ID, actor.ID, domain.ActionSeverityChange, &prev, &next, nil))
		inc.Severity = *input.Severity
	}
	if input.Priority != nil && *input.Priority != inc.Priority {
		prev := string(inc.Priority)
		next := string(*input.Priority)
		entries = append(entries, fieldEditEntry(inc.ID, actor.ID, domain.ActionPriorityChange, &prev, &next, nil))
		inc.Priority = *input.Priority
	}
	if edited {
		summary := "Incident details updated."
		entries = append(entries, fieldEditEntry(inc.ID, actor.ID, domain.ActionEdit, nil, nil, &summary))
	}

	if len(entries) == 0 {
		return inc, nil
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	// Audit entries are written before the value change is applied.
	for _, e := range entries {
		if err := tx.CreateUpdate(ctx, e); err != nil {
			return nil, fmt.Errorf("create audit entry: %w", err)
		}
	}
	if err := tx.UpdateIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return s.repo.GetIncident(ctx, inc.ID)
}

// UpdateStatus moves the incident through its lifecycle. The transition must
// be permitted by the state machine; entering resolved additionally requires
// non-empty resolution notes, supplied here or already stored. Failure paths
// leave the incident and its audit trail untouched.
func (s *Service) UpdateStatus(ctx context.Context, id int64, target domain.IncidentStatus, notes *string, actor domain.Actor) (*domain.Incident, error) {
	inc, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.CanUpdateStatus(actor, inc) {
		return nil, fmt.Errorf("%w: update status", ErrForbidden)
	}

	previous := inc.Status
	if !previous.CanTransitionTo(target) {
		return nil, &InvalidTransitionError{From: previous, To: target}
	}

	hasNotes := notes != nil && *notes != ""
	if target == domain.IncidentStatusResolved && !hasNotes && !inc.HasResolutionNotes() {
		return nil, ErrMissingResolutionNotes
	}

	now := s.now()
	inc.Status = target
	switch target {
	case domain.IncidentStatusResolved:
		if inc.ResolvedAt == nil {
			inc.ResolvedAt = &now
		}
	case domain.IncidentStatusClosed:
		if inc.ClosedAt == nil {
			inc.ClosedAt = &now
		}
	}
	if hasNotes {
		inc.ResolutionNotes = notes
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	if err := tx.UpdateIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}
	if err := tx.CreateUpdate(ctx, statusChangeEntry(inc.ID, actor.ID, previous, target, notes)); err != nil {
		return nil, fmt.Errorf("create audit entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	statusTransitionsTotal.WithLabelValues(string(previous), string(target)).Inc()
	s.emitStatusChanged(ctx, inc, previous, target, actor)

	return s.repo.GetIncident(ctx, inc.ID)
}

// Assign sets or clears the assigned operator. Passing nil unassigns.
// Assignment changes are rejected once the incident is closed.
func (s *Service) Assign(ctx context.Context, id int64, operatorID *int64, actor domain.Actor) (*domain.Incident, error) {
	inc, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.CanAssign(actor, inc) {
		return nil, fmt.Errorf("%w: assign incident", ErrForbidden)
	}
	if inc.IsClosed() {
		return nil, fmt.Errorf("%w: assignment cannot change", ErrIncidentClosed)
	}

	var previousName *string
	if inc.Assignee != nil {
		previousName = &inc.Assignee.Name
	}

	var newName *string
	var assignee *domain.UserRef
	if operatorID != nil {
		role, err := s.users.GetUserRole(ctx, *operatorID)
		if err != nil {
			return nil, ErrAssigneeNotFound
		}
		if !role.CanManageIncidents() {
			return nil, ErrAssigneeNotOperator
		}
		assignee, err = s.users.GetUserRef(ctx, *operatorID)
		if err != nil {
			return nil, ErrAssigneeNotFound
		}
		newName = &assignee.Name
	}

	inc.AssignedTo = operatorID
	inc.Assignee = assignee

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	if err := tx.UpdateIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}
	if err := tx.CreateUpdate(ctx, assignmentChangeEntry(inc.ID, actor.ID, previousName, newName, nil)); err != nil {
		return nil, fmt.Errorf("create audit entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	// No event on unassignment or self-assignment.
	if operatorID != nil && *operatorID != actor.ID {
		s.emitAssigned(ctx, inc, assignee, actor)
	}

	return s.repo.GetIncident(ctx, inc.ID)
}

// AddComment appends a comment to the audit trail. A reporter requesting an
// internal note gets a public comment instead of an error.
func (s *Service) AddComment(ctx context.Context, id int64, text string, isInternal bool, actor domain.Actor) (*domain.IncidentUpdate, error) {
	inc, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.CanComment(actor, inc) {
		return nil, fmt.Errorf("%w: comment on incident", ErrForbidden)
	}

	if isInternal && !policy.CanAddInternalNote(actor, inc) {
		isInternal = false
	}

	entry := commentEntry(inc.ID, actor.ID, text, isInternal)

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	if err := tx.CreateUpdate(ctx, entry); err != nil {
		return nil, fmt.Errorf("create audit entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.emitCommentAdded(ctx, inc, actor)

	return entry, nil
}

// ListUpdates returns the incident's audit trail, newest first, with internal
// entries filtered out for reporter viewers.
func (s *Service) ListUpdates(ctx context.Context, id int64, actor domain.Actor) ([]*domain.IncidentUpdate, error) {
	inc, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.CanView(actor, inc) {
		return nil, fmt.Errorf("%w: view incident", ErrForbidden)
	}

	return s.repo.ListUpdates(ctx, inc.ID, policy.ScopeFor(actor).SeeInternal)
}

// RecentActivity returns the latest audit entries across incidents visible
// to the actor.
func (s *Service) RecentActivity(ctx context.Context, actor domain.Actor, limit int) ([]*domain.IncidentUpdate, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListRecentActivity(ctx, policy.ScopeFor(actor), limit)
}

// ValidTransitions returns the statuses reachable from the incident's
// current status.
func (s *Service) ValidTransitions(ctx context.Context, id int64, actor domain.Actor) ([]domain.IncidentStatus, error) {
	inc, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return inc.Status.ValidTransitions(), nil
}

// Delete removes the incident and, by cascade, its updates and attachments.
// Irreversible.
func (s *Service) Delete(ctx context.Context, id int64, actor domain.Actor) error {
	inc, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return err
	}
	if !policy.CanDelete(actor, inc) {
		return fmt.Errorf("%w: delete incident", ErrForbidden)
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	if err := tx.DeleteIncident(ctx, inc.ID); err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}
	return tx.Commit(ctx)
}

func rollback(ctx context.Context, tx Tx) {
	if err := tx.Rollback(ctx); err != nil {
		slog.Error("failed to rollback transaction", "error", err)
	}
}

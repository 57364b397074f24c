package incidents

import (
	"context"
	"log/slog"

	"github.com/opsdesk/opsdesk/internal/domain"
)

// EventHandler receives lifecycle events after the originating transaction
// committed. Handlers are invoked synchronously in registration order; a
// handler error is logged and never fails the operation that raised the
// event.
type EventHandler interface {
	OnIncidentCreated(ctx context.Context, inc *domain.Incident) error
	OnIncidentStatusChanged(ctx context.Context, inc *domain.Incident, previous, next domain.IncidentStatus, actor domain.Actor) error
	OnIncidentAssigned(ctx context.Context, inc *domain.Incident, assignee *domain.UserRef, actor domain.Actor) error
	OnCommentAdded(ctx context.Context, inc *domain.Incident, actor domain.Actor) error
}

func (s *Service) emitCreated(ctx context.Context, inc *domain.Incident) {
	for _, h := range s.handlers {
		if err := h.OnIncidentCreated(ctx, inc); err != nil {
			slog.Error("incident created handler failed", "incident_id", inc.ID, "error", err)
		}
	}
}

func (s *Service) emitStatusChanged(ctx context.Context, inc *domain.Incident, previous, next domain.IncidentStatus, actor domain.Actor) {
	for _, h := range s.handlers {
		if err := h.OnIncidentStatusChanged(ctx, inc, previous, next, actor); err != nil {
			slog.Error("status changed handler failed", "incident_id", inc.ID, "error", err)
		}
	}
}

func (s *Service) emitAssigned(ctx context.Context, inc *domain.Incident, assignee *domain.UserRef, actor domain.Actor) {
	for _, h := range s.handlers {
		if err := h.OnIncidentAssigned(ctx, inc, assignee, actor); err != nil {
			slog.Error("assignment handler failed", "incident_id", inc.ID, "error", err)
		}
	}
}

func (s *Service) emitCommentAdded(ctx context.Context, inc *domain.Incident, actor domain.Actor) {
	for _, h := range s.handlers {
		if err := h.OnCommentAdded(ctx, inc, actor); err != nil {
			slog.Error("comment handler failed", "incident_id", inc.ID, "error", err)
		}
	}
}

// Package attachments manages files attached to incidents.
package attachments

import (
	"context"

	"github.com/opsdesk/opsdesk/internal/domain"
)

// Repository defines the interface for attachment metadata access.
type Repository interface {
	CreateAttachment(ctx context.Context, att *domain.Attachment) error
	GetAttachment(ctx context.Context, id int64) (*domain.Attachment, error)
	ListByIncident(ctx context.Context, incidentID int64) ([]*domain.Attachment, error)
	DeleteAttachment(ctx context.Context, id int64) error
}

package attachments

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/opsdesk/opsdesk/internal/domain"
	"github.com/opsdesk/opsdesk/internal/incidents"
	"github.com/opsdesk/opsdesk/internal/policy"
)

// MaxFileSize is the upload size limit.
const MaxFileSize = 10 << 20 // 10 MiB

// allowedContentTypes is the upload type allowlist. Anything else is
// rejected regardless of extension.
var allowedContentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
	"text/plain":      true,
	"text/csv":        true,
	"application/zip": true,
}

// IncidentGetter resolves an incident with the actor's visibility applied.
// Implemented by incidents.Service.
type IncidentGetter interface {
	Get(ctx context.Context, id int64, actor domain.Actor) (*domain.Incident, error)
}

// Service implements attachment operations.
type Service struct {
	repo      Repository
	incidents IncidentGetter
	storage   Storage
	now       func() time.Time
}

// NewService creates a new attachments service.
func NewService(repo Repository, inc IncidentGetter, storage Storage) *Service {
	return &Service{
		repo:      repo,
		incidents: inc,
		storage:   storage,
		now:       time.Now,
	}
}

// Upload stores a file against an incident. The blob is written under an
// opaque generated name; the client-supplied name is metadata only.
func (s *Service) Upload(ctx context.Context, actor domain.Actor, incidentID int64, fileName, contentType string, r io.Reader) (*domain.Attachment, error) {
	inc, err := s.incidents.Get(ctx, incidentID, actor)
	if err != nil {
		return nil, err
	}
	if !policy.CanUploadAttachment(actor, inc) {
		return nil, ErrForbidden
	}
	if inc.IsClosed() {
		return nil, incidents.ErrIncidentClosed
	}
	if !allowedContentTypes[contentType] {
		return nil, ErrUnsupportedType
	}

	storageName := uuid.New().String()

	// Read one byte past the limit to tell "exactly at limit" from "over".
	written, err := s.storage.Save(storageName, io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("store attachment: %w", err)
	}
	if written == 0 {
		s.removeBlob(storageName)
		return nil, ErrEmptyFile
	}
	if written > MaxFileSize {
		s.removeBlob(storageName)
		return nil, ErrFileTooLarge
	}

	att := &domain.Attachment{
		IncidentID:  incidentID,
		UploadedBy:  actor.ID,
		FileName:    filepath.Base(fileName),
		ContentType: contentType,
		Size:        written,
		StoragePath: storageName,
		CreatedAt:   s.now(),
	}
	if err := s.repo.CreateAttachment(ctx, att); err != nil {
		s.removeBlob(storageName)
		return nil, fmt.Errorf("create attachment: %w", err)
	}
	return att, nil
}

// List returns the attachments of an incident the actor may see.
func (s *Service) List(ctx context.Context, actor domain.Actor, incidentID int64) ([]*domain.Attachment, error) {
	if _, err := s.incidents.Get(ctx, incidentID, actor); err != nil {
		return nil, err
	}
	return s.repo.ListByIncident(ctx, incidentID)
}

// Download returns attachment metadata and a reader over its blob.
// The caller owns the reader.
func (s *Service) Download(ctx context.Context, actor domain.Actor, id int64) (*domain.Attachment, io.ReadSeekCloser, error) {
	att, err := s.repo.GetAttachment(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.incidents.Get(ctx, att.IncidentID, actor); err != nil {
		return nil, nil, err
	}

	blob, err := s.storage.Open(att.StoragePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open attachment: %w", err)
	}
	return att, blob, nil
}

// Delete removes an attachment. Only the uploader or an admin may delete.
// The metadata row goes first; a leftover blob is logged, not fatal.
func (s *Service) Delete(ctx context.Context, actor domain.Actor, id int64) error {
	att, err := s.repo.GetAttachment(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.incidents.Get(ctx, att.IncidentID, actor); err != nil {
		return err
	}
	if !policy.CanDeleteAttachment(actor, att) {
		return ErrForbidden
	}

	if err := s.repo.DeleteAttachment(ctx, id); err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	s.removeBlob(att.StoragePath)
	return nil
}

func (s *Service) removeBlob(name string) {
	if err := s.storage.Remove(name); err != nil {
		slog.Error("failed to remove attachment blob", "name", name, "error", err)
	}
}

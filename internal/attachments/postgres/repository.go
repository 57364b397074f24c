// Package postgres provides PostgreSQL implementation of attachments repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsdesk/opsdesk/internal/attachments"
	"github.com/opsdesk/opsdesk/internal/domain"
)

// Repository implements attachments.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateAttachment inserts attachment metadata.
func (r *Repository) CreateAttachment(ctx context.Context, att *domain.Attachment) error {
	query := `
		INSERT INTO incident_attachments (incident_id, uploaded_by, file_name, content_type, size, storage_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		att.IncidentID,
		att.UploadedBy,
		att.FileName,
		att.ContentType,
		att.Size,
		att.StoragePath,
		att.CreatedAt,
	).Scan(&att.ID)
	if err != nil {
		return fmt.Errorf("create attachment: %w", err)
	}
	return nil
}

// GetAttachment retrieves attachment metadata by ID.
func (r *Repository) GetAttachment(ctx context.Context, id int64) (*domain.Attachment, error) {
	query := `
		SELECT id, incident_id, uploaded_by, file_name, content_type, size, storage_path, created_at
		FROM incident_attachments
		WHERE id = $1
	`
	var att domain.Attachment
	err := r.db.QueryRow(ctx, query, id).Scan(
		&att.ID,
		&att.IncidentID,
		&att.UploadedBy,
		&att.FileName,
		&att.ContentType,
		&att.Size,
		&att.StoragePath,
		&att.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, attachments.ErrAttachmentNotFound
		}
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return &att, nil
}

// ListByIncident retrieves all attachments of an incident, newest first.
func (r *Repository) ListByIncident(ctx context.Context, incidentID int64) ([]*domain.Attachment, error) {
	query := `
		SELECT id, incident_id, uploaded_by, file_name, content_type, size, storage_path, created_at
		FROM incident_attachments
		WHERE incident_id = $1
		ORDER BY created_at DESC, id DESC
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.Attachment, 0)
	for rows.Next() {
		var att domain.Attachment
		err := rows.Scan(
			&att.ID,
			&att.IncidentID,
			&att.UploadedBy,
			&att.FileName,
			&att.ContentType,
			&att.Size,
			&att.StoragePath,
			&att.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, &att)
	}
	return items, rows.Err()
}

// DeleteAttachment removes attachment metadata.
func (r *Repository) DeleteAttachment(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM incident_attachments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return attachments.ErrAttachmentNotFound
	}
	return nil
}

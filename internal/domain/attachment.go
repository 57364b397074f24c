package domain

import "time"

// Attachment is a file attached to an incident. Metadata is immutable once
// created; the row is deletable by the uploader or an admin.
type Attachment struct {
	ID          int64     `json:"id"`
	IncidentID  int64     `json:"incident_id"`
	UploadedBy  int64     `json:"uploaded_by"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	StoragePath string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

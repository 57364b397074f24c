package attachments

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opsdesk/opsdesk/internal/incidents"
	"github.com/opsdesk/opsdesk/internal/pkg/httputil"
)

// Handler handles HTTP requests for attachments.
type Handler struct {
	service *Service
}

// NewHandler creates a new attachments handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers attachment routes. All routes require auth.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/incidents/{id}/attachments", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Upload)
	})
	r.Route("/attachments/{id}", func(r chi.Router) {
		r.Get("/download", h.Download)
		r.Delete("/", h.Delete)
	})
}

// Upload accepts a multipart form with a single "file" part.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	actor := httputil.GetActor(r.Context())

	incidentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid incident id")
		return
	}

	// Hard cap on the request body; the service enforces the exact limit.
	r.Body = http.MaxBytesReader(w, r.Body, MaxFileSize+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "missing file upload")
		return
	}
	defer func() { _ = file.Close() }()

	contentType := header.Header.Get("Content-Type")

	att, err := h.service.Upload(r.Context(), actor, incidentID, header.Filename, contentType, file)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusCreated, att)
}

// List returns the attachments of an incident.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor := httputil.GetActor(r.Context())

	incidentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid incident id")
		return
	}

	items, err := h.service.List(r.Context(), actor, incidentID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusOK, items)
}

// Download streams an attachment blob with its original file name.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	actor := httputil.GetActor(r.Context())

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid attachment id")
		return
	}

	att, blob, err := h.service.Download(r.Context(), actor, id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	defer func() { _ = blob.Close() }()

	w.Header().Set("Content-Type", att.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.FileName))
	http.ServeContent(w, r, att.FileName, att.CreatedAt, blob)
}

// Delete removes an attachment.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	actor := httputil.GetActor(r.Context())

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid attachment id")
		return
	}

	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAttachmentNotFound):
		httputil.Error(w, http.StatusNotFound, "attachment not found")
	case errors.Is(err, incidents.ErrIncidentNotFound):
		httputil.Error(w, http.StatusNotFound, "incident not found")
	case errors.Is(err, ErrForbidden), errors.Is(err, incidents.ErrForbidden):
		httputil.Error(w, http.StatusForbidden, "operation not permitted")
	case errors.Is(err, incidents.ErrIncidentClosed):
		httputil.Error(w, http.StatusConflict, "incident is closed")
	case errors.Is(err, ErrFileTooLarge):
		httputil.Error(w, http.StatusRequestEntityTooLarge, "file exceeds the size limit")
	case errors.Is(err, ErrUnsupportedType):
		httputil.Error(w, http.StatusUnsupportedMediaType, "file type is not allowed")
	case errors.Is(err, ErrEmptyFile):
		httputil.Error(w, http.StatusUnprocessableEntity, "file is empty")
	default:
		slog.Error("attachments handler error", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
	}
}

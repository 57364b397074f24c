package notifications

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opsdesk/opsdesk/internal/pkg/httputil"
)

// Pagination limits.
const (
	DefaultNotificationsLimit = 20
	MaxNotificationsLimit     = 100
)

// Handler handles HTTP requests for notifications.
type Handler struct {
	service *Service
}

// NewHandler creates a new notifications handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers notification routes. All routes require auth.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/unread-count", h.UnreadCount)
		r.Post("/read-all", h.MarkAllRead)
		r.Post("/{id}/read", h.MarkRead)
	})
}

// List returns the authenticated user's notifications, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())
	unreadOnly := r.URL.Query().Get("unread") == "true"

	limit := DefaultNotificationsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > MaxNotificationsLimit {
			httputil.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.Error(w, http.StatusBadRequest, "invalid offset")
			return
		}
		offset = n
	}

	items, total, err := h.service.List(r.Context(), userID, unreadOnly, limit, offset)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]any{
		"notifications": items,
		"total":         total,
		"limit":         limit,
		"offset":        offset,
	})
}

// UnreadCount returns the number of unread notifications.
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())
	count, err := h.service.UnreadCount(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]int{"unread": count})
}

// MarkRead marks a single notification as read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.service.MarkRead(r.Context(), id, userID); err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead marks all of the user's notifications as read.
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())
	if err := h.service.MarkAllRead(r.Context(), userID); err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotificationNotFound):
		httputil.Error(w, http.StatusNotFound, "notification not found")
	default:
		slog.Error("notifications handler error", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
	}
}

package export

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opsdesk/opsdesk/internal/domain"
	"github.com/opsdesk/opsdesk/internal/incidents"
	"github.com/opsdesk/opsdesk/internal/pkg/httputil"
)

// Handler handles CSV export requests.
type Handler struct {
	service *Service
}

// NewHandler creates a new export handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers export routes. All routes require auth; the
// users export is additionally admin-gated by the service.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/export", func(r chi.Router) {
		r.Get("/incidents", h.Incidents)
		r.Get("/users", h.Users)
	})
}

// Incidents streams the actor's visible incidents as CSV.
func (h *Handler) Incidents(w http.ResponseWriter, r *http.Request) {
	actor := httputil.GetActor(r.Context())

	filters, err := parseFilters(r)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	writeCSVHeaders(w, fmt.Sprintf("incidents-%s.csv", time.Now().UTC().Format("20060102")))

	if err := h.service.WriteIncidentsCSV(r.Context(), w, actor, filters); err != nil {
		// Headers are gone; all we can do is log and cut the stream.
		slog.Error("incidents export failed", "error", err)
	}
}

// Users streams all user accounts as CSV. Admin only.
func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	actor := httputil.GetActor(r.Context())

	if actor.Role != domain.RoleAdmin {
		httputil.Error(w, http.StatusForbidden, "operation not permitted")
		return
	}

	writeCSVHeaders(w, fmt.Sprintf("users-%s.csv", time.Now().UTC().Format("20060102")))

	if err := h.service.WriteUsersCSV(r.Context(), w, actor); err != nil {
		if errors.Is(err, ErrForbidden) {
			return
		}
		slog.Error("users export failed", "error", err)
	}
}

func writeCSVHeaders(w http.ResponseWriter, filename string) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
}

// parseFilters accepts the same filter params as the incidents list
// endpoint, minus pagination: the export pages internally. Rows come out
// oldest first so repeated exports diff cleanly.
func parseFilters(r *http.Request) (incidents.Filters, error) {
	q := r.URL.Query()
	f := incidents.Filters{SortBy: incidents.SortByCreatedAt}

	if v := q.Get("status"); v != "" {
		status := domain.IncidentStatus(v)
		if !status.IsValid() {
			return f, errors.New("invalid status filter")
		}
		f.Status = &status
	}
	if v := q.Get("severity"); v != "" {
		severity := domain.IncidentSeverity(v)
		if !severity.IsValid() {
			return f, errors.New("invalid severity filter")
		}
		f.Severity = &severity
	}
	if v := q.Get("priority"); v != "" {
		priority := domain.IncidentPriority(v)
		if !priority.IsValid() {
			return f, errors.New("invalid priority filter")
		}
		f.Priority = &priority
	}
	if v := q.Get("category"); v != "" {
		f.Category = &v
	}
	if v := q.Get("search"); v != "" {
		f.Search = v
	}
	if v := q.Get("date_from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return f, errors.New("invalid date_from")
		}
		f.DateFrom = &t
	}
	if v := q.Get("date_to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return f, errors.New("invalid date_to")
		}
		f.DateTo = &t
	}

	return f, nil
}

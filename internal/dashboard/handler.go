package dashboard

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opsdesk/opsdesk/internal/pkg/httputil"
)

// Handler handles HTTP requests for the dashboard.
type Handler struct {
	service *Service
}

// NewHandler creates a new dashboard handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers dashboard routes. All routes require auth.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/dashboard", func(r chi.Router) {
		r.Get("/stats", h.Stats)
		r.Get("/trends", h.Trends)
		r.Get("/mttr", h.MTTR)
		r.Get("/performance", h.Performance)
		r.Get("/escalations", h.Escalations)
	})
}

// Stats returns status counts and breakdowns.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	actor := httputil.GetActor(r.Context())

	overview, err := h.service.Overview(r.Context(), actor)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusOK, overview)
}

// Trends returns the daily created/resolved series.
func (h *Handler) Trends(w http.ResponseWriter, r *http.Request) {
	actor := httputil.GetActor(r.Context())

	days := DefaultTrendDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > MaxTrendDays {
			httputil.Error(w, http.StatusBadRequest, "invalid days")
			return
		}
		days = n
	}

	points, err := h.service.Trends(r.Context(), actor, days)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusOK, points)
}

// MTTR returns mean time to resolution.
func (h *Handler) MTTR(w http.ResponseWriter, r *http.Request) {
	actor := httputil.GetActor(r.Context())

	report, err := h.service.MTTR(r.Context(), actor)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusOK, report)
}

// Performance returns per-operator workload and throughput.
func (h *Handler) Performance(w http.ResponseWriter, r *http.Request) {
	actor := httputil.GetActor(r.Context())

	rows, err := h.service.OperatorPerformance(r.Context(), actor)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusOK, rows)
}

// Escalations returns unresolved incidents ranked by risk.
func (h *Handler) Escalations(w http.ResponseWriter, r *http.Request) {
	actor := httputil.GetActor(r.Context())

	alerts, err := h.service.Escalations(r.Context(), actor)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusOK, alerts)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		httputil.Error(w, http.StatusForbidden, "operation not permitted")
	default:
		slog.Error("dashboard handler error", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
	}
}

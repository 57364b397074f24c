package incidents

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/opsdesk/opsdesk/internal/domain"
	"github.com/opsdesk/opsdesk/internal/pkg/httputil"
)

// Pagination constants.
const (
	DefaultIncidentsLimit = 20
	MaxIncidentsLimit     = 100
	DefaultActivityLimit  = 20
	MaxActivityLimit      = 50
)

// Handler handles HTTP requests for the incidents module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new incidents handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers incident routes. All of them require
// authentication; per-incident authorization happens in the service.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/incidents", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/number/{number}", h.GetByNumber)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
		r.Post("/{id}/status", h.UpdateStatus)
		r.Get("/{id}/transitions", h.ValidTransitions)
		r.Post("/{id}/assign", h.Assign)
		r.Get("/{id}/updates", h.ListUpdates)
		r.Post("/{id}/updates", h.AddComment)
	})

	r.Get("/activity", h.RecentActivity)
}

// CreateIncidentRequest represents the request body for reporting an incident.
type CreateIncidentRequest struct {
	Title             string   `json:"title" validate:"required,min=1,max=255"`
	Description       string   `json:"description" validate:"required,min=1"`
	Severity          string   `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	Priority          string   `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	Category          string   `json:"category"`
	ImpactDescription *string  `json:"impact_description"`
	AffectedSystems   []string `json:"affected_systems"`
	DueDate           *string  `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
}

// UpdateIncidentRequest represents the request body for editing incident
// fields. Absent fields are left unchanged.
type UpdateIncidentRequest struct {
	Title             *string  `json:"title" validate:"omitempty,min=1,max=255"`
	Description       *string  `json:"description" validate:"omitempty,min=1"`
	Severity          *string  `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	Priority          *string  `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	Category          *string  `json:"category"`
	ImpactDescription *string  `json:"impact_description"`
	AffectedSystems   []string `json:"affected_systems"`
	DueDate           *string  `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	ResolutionNotes   *string  `json:"resolution_notes"`
}

// UpdateStatusRequest represents the request body for a status transition.
type UpdateStatusRequest struct {
	Status string  `json:"status" validate:"required,oneof=open investigating resolved closed"`
	Notes  *string `json:"notes"`
}

// AssignRequest represents the request body for assigning an incident.
// A null assigned_to unassigns.
type AssignRequest struct {
	AssignedTo *int64 `json:"assigned_to"`
}

// AddCommentRequest represents the request body for adding a comment.
type AddCommentRequest struct {
	Comment    string `json:"comment" validate:"required,min=1"`
	IsInternal bool   `json:"is_internal"`
}

// Create handles POST /incidents request.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	input := CreateIncidentInput{
		Title:             req.Title,
		Description:       req.Description,
		Severity:          domain.IncidentSeverity(req.Severity),
		Priority:          domain.IncidentPriority(req.Priority),
		Category:          req.Category,
		ImpactDescription: req.ImpactDescription,
		AffectedSystems:   req.AffectedSystems,
	}
	if req.DueDate != nil {
		due, err := time.Parse("2006-01-02", *req.DueDate)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "due_date must be YYYY-MM-DD")
			return
		}
		input.DueDate = &due
	}

	inc, err := h.service.Create(r.Context(), input, httputil.GetActor(r.Context()))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusCreated, inc)
}

// Get handles GET /incidents/{id} request.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.incidentID(w, r)
	if !ok {
		return
	}

	inc, err := h.service.Get(r.Context(), id, httputil.GetActor(r.Context()))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusOK, inc)
}

// GetByNumber handles GET /incidents/number/{number} request.
func (h *Handler) GetByNumber(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	inc, err := h.service.GetByNumber(r.Context(), number, httputil.GetActor(r.Context()))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusOK, inc)
}

// List handles GET /incidents request.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filters, ok := h.parseFilters(w, r)
	if !ok {
		return
	}

	incidents, total, err := h.service.List(r.Context(), httputil.GetActor(r.Context()), filters)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	if incidents == nil {
		incidents = make([]*domain.Incident, 0)
	}

	httputil.Success(w, http.StatusOK, map[string]interface{}{
		"incidents": incidents,
		"total":     total,
		"limit":     filters.Limit,
		"offset":    filters.Offset,
	})
}

// Update handles PATCH /incidents/{id} request.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.incidentID(w, r)
	if !ok {
		return
	}

	var req UpdateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	input := UpdateIncidentInput{
		Title:             req.Title,
		Description:       req.Description,
		Category:          req.Category,
		ImpactDescription: req.ImpactDescription,
		AffectedSystems:   req.AffectedSystems,
		ResolutionNotes:   req.ResolutionNotes,
	}
	if req.Severity != nil {
		sev := domain.IncidentSeverity(*req.Severity)
		input.Severity = &sev
	}
	if req.Priority != nil {
		prio := domain.IncidentPriority(*req.Priority)
		input.Priority = &prio
	}
	if req.DueDate != nil {
		due, err := time.Parse("2006-01-02", *req.DueDate)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "due_date must be YYYY-MM-DD")
			return
		}
		input.DueDate = &due
	}

	inc, err := h.service.Update(r.Context(), id, input, httputil.GetActor(r.Context()))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusOK, inc)
}

// UpdateStatus handles POST /incidents/{id}/status request.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.incidentID(w, r)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	inc, err := h.service.UpdateStatus(r.Context(), id, domain.IncidentStatus(req.Status), req.Notes, httputil.GetActor(r.Context()))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusOK, inc)
}

// ValidTransitions handles GET /incidents/{id}/transitions request.
func (h *Handler) ValidTransitions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.incidentID(w, r)
	if !ok {
		return
	}

	transitions, err := h.service.ValidTransitions(r.Context(), id, httputil.GetActor(r.Context()))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	if transitions == nil {
		transitions = make([]domain.IncidentStatus, 0)
	}

	httputil.Success(w, http.StatusOK, transitions)
}

// Assign handles POST /incidents/{id}/assign request.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.incidentID(w, r)
	if !ok {
		return
	}

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	inc, err := h.service.Assign(r.Context(), id, req.AssignedTo, httputil.GetActor(r.Context()))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusOK, inc)
}

// AddComment handles POST /incidents/{id}/updates request.
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.incidentID(w, r)
	if !ok {
		return
	}

	var req AddCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	upd, err := h.service.AddComment(r.Context(), id, req.Comment, req.IsInternal, httputil.GetActor(r.Context()))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	httputil.Success(w, http.StatusCreated, upd)
}

// ListUpdates handles GET /incidents/{id}/updates request.
func (h *Handler) ListUpdates(w http.ResponseWriter, r *http.Request) {
	id, ok := h.incidentID(w, r)
	if !ok {
		return
	}

	updates, err := h.service.ListUpdates(r.Context(), id, httputil.GetActor(r.Context()))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	if updates == nil {
		updates = make([]*domain.IncidentUpdate, 0)
	}

	httputil.Success(w, http.StatusOK, updates)
}

// RecentActivity handles GET /activity request.
func (h *Handler) RecentActivity(w http.ResponseWriter, r *http.Request) {
	limit := DefaultActivityLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed > MaxActivityLimit {
			parsed = MaxActivityLimit
		}
		limit = parsed
	}

	activity, err := h.service.RecentActivity(r.Context(), httputil.GetActor(r.Context()), limit)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	if activity == nil {
		activity = make([]*domain.IncidentUpdate, 0)
	}

	httputil.Success(w, http.StatusOK, activity)
}

// Delete handles DELETE /incidents/{id} request.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.incidentID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id, httputil.GetActor(r.Context())); err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) incidentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		httputil.Error(w, http.StatusBadRequest, "invalid incident id")
		return 0, false
	}
	return id, true
}

func (h *Handler) parseFilters(w http.ResponseWriter, r *http.Request) (Filters, bool) {
	q := r.URL.Query()
	filters := Filters{
		Limit:  DefaultIncidentsLimit,
		Search: q.Get("search"),
		SortBy: SortField(q.Get("sort_by")),
	}

	if filters.SortBy == "" {
		filters.SortBy = SortByCreatedAt
		filters.SortDesc = true
	} else if !filters.SortBy.IsValid() {
		httputil.Error(w, http.StatusBadRequest, "invalid sort_by field")
		return Filters{}, false
	} else {
		filters.SortDesc = q.Get("sort_dir") != "asc"
	}

	if v := q.Get("status"); v != "" {
		status := domain.IncidentStatus(v)
		if !status.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid status filter")
			return Filters{}, false
		}
		filters.Status = &status
	}
	if v := q.Get("severity"); v != "" {
		severity := domain.IncidentSeverity(v)
		if !severity.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid severity filter")
			return Filters{}, false
		}
		filters.Severity = &severity
	}
	if v := q.Get("priority"); v != "" {
		priority := domain.IncidentPriority(v)
		if !priority.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid priority filter")
			return Filters{}, false
		}
		filters.Priority = &priority
	}
	if v := q.Get("category"); v != "" {
		filters.Category = &v
	}
	if v := q.Get("assigned_to"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "assigned_to must be an integer")
			return Filters{}, false
		}
		filters.AssignedTo = &id
	}
	if v := q.Get("reported_by"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "reported_by must be an integer")
			return Filters{}, false
		}
		filters.ReportedBy = &id
	}
	if v := q.Get("date_from"); v != "" {
		from, err := time.Parse("2006-01-02", v)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "date_from must be YYYY-MM-DD")
			return Filters{}, false
		}
		filters.DateFrom = &from
	}
	if v := q.Get("date_to"); v != "" {
		to, err := time.Parse("2006-01-02", v)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "date_to must be YYYY-MM-DD")
			return Filters{}, false
		}
		filters.DateTo = &to
	}

	if l := q.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return Filters{}, false
		}
		if parsed > MaxIncidentsLimit {
			parsed = MaxIncidentsLimit
		}
		filters.Limit = parsed
	}
	if o := q.Get("offset"); o != "" {
		parsed, err := strconv.Atoi(o)
		if err != nil || parsed < 0 {
			httputil.Error(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return Filters{}, false
		}
		filters.Offset = parsed
	}

	return filters, true
}

func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	var invalidTransition *InvalidTransitionError

	switch {
	case errors.Is(err, ErrIncidentNotFound):
		httputil.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		httputil.Error(w, http.StatusForbidden, err.Error())
	case errors.As(err, &invalidTransition):
		httputil.Error(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrMissingResolutionNotes):
		httputil.Error(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrIncidentClosed):
		httputil.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrAssigneeNotFound), errors.Is(err, ErrAssigneeNotOperator):
		httputil.Error(w, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.Error("internal error", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal error")
	}
}

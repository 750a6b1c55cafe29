package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/opslink/opslink/internal/domain"
	"github.com/opslink/opslink/internal/security/middleware"
	"github.com/opslink/opslink/internal/service"
)

// CreateIncidentRequest is the POST /api/incidents body.
type CreateIncidentRequest struct {
	IncidentID string   `json:"incidentId" validate:"required,min=3"`
	Type       string   `json:"type" validate:"required,min=2"`
	Priority   string   `json:"priority" validate:"omitempty,oneof=1 2 3"`
	Address    string   `json:"address" validate:"required,min=3"`
	Lat        *float64 `json:"lat,omitempty"`
	Lng        *float64 `json:"lng,omitempty"`
}

// AssignUnitsRequest is the POST /api/incidents/{id}/assign body.
type AssignUnitsRequest struct {
	Units []string `json:"units" validate:"required,min=1,dive,min=1"`
}

// SetIncidentStatusRequest is the POST /api/incidents/{id}/status body.
type SetIncidentStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// AddNoteRequest is the POST /api/incidents/{id}/notes body.
type AddNoteRequest struct {
	Text string `json:"text" validate:"required,min=1"`
}

// IncidentHandler serves the incident API.
type IncidentHandler struct {
	incidents *service.IncidentService
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewIncidentHandler creates a new incident handler
func NewIncidentHandler(incidents *service.IncidentService, logger *slog.Logger) *IncidentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IncidentHandler{
		incidents: incidents,
		validate:  validator.New(),
		logger:    logger,
	}
}

// Create handles POST /api/incidents
func (h *IncidentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateIncidentRequest
	if !h.decode(w, r, &req) {
		return
	}

	identity := middleware.GetIdentityFromContext(r.Context())
	incident, err := h.incidents.Create(r.Context(), identity, service.CreateIncidentInput{
		Number:   req.IncidentID,
		Type:     req.Type,
		Priority: domain.Priority(req.Priority),
		Location: domain.Location{Address: req.Address, Lat: req.Lat, Lng: req.Lng},
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, "incident", incident)
}

// Assign handles POST /api/incidents/{id}/assign
func (h *IncidentHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req AssignUnitsRequest
	if !h.decode(w, r, &req) {
		return
	}

	identity := middleware.GetIdentityFromContext(r.Context())
	incident, err := h.incidents.AssignUnits(
		r.Context(),
		identity,
		middleware.OriginFromRequest(r),
		r.PathValue("id"),
		req.Units,
	)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, "incident", incident)
}

// SetStatus handles POST /api/incidents/{id}/status
func (h *IncidentHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req SetIncidentStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	identity := middleware.GetIdentityFromContext(r.Context())
	incident, err := h.incidents.SetStatus(
		r.Context(),
		identity,
		middleware.OriginFromRequest(r),
		r.PathValue("id"),
		domain.IncidentStatus(req.Status),
	)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, "incident", incident)
}

// AddNote handles POST /api/incidents/{id}/notes
func (h *IncidentHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	var req AddNoteRequest
	if !h.decode(w, r, &req) {
		return
	}

	identity := middleware.GetIdentityFromContext(r.Context())
	incident, err := h.incidents.AddNote(
		r.Context(),
		identity,
		middleware.OriginFromRequest(r),
		r.PathValue("id"),
		req.Text,
	)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, "incident", incident)
}

// Get handles GET /api/incidents/{id}
func (h *IncidentHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentityFromContext(r.Context())
	incident, err := h.incidents.Get(r.Context(), identity, r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, "incident", incident)
}

// List handles GET /api/incidents?status=&limit=
func (h *IncidentHandler) List(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentityFromContext(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, h.logger, domain.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}

	incidents, err := h.incidents.List(
		r.Context(),
		identity,
		domain.IncidentStatus(r.URL.Query().Get("status")),
		limit,
	)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if incidents == nil {
		incidents = []*domain.Incident{}
	}
	writeJSON(w, http.StatusOK, "incidents", incidents)
}

// decode parses and validates a JSON body, writing the failure itself when
// the body is malformed.
func (h *IncidentHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, h.logger, domain.Validation("invalid request body"))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, h.logger, domain.Validation(validationMessage(err)))
		return false
	}
	return true
}

package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/opslink/opslink/internal/domain"
	"github.com/opslink/opslink/internal/security/middleware"
	"github.com/opslink/opslink/internal/service"
)

// CreateUnitRequest is the POST /api/units body.
type CreateUnitRequest struct {
	UnitID    string   `json:"unitId" validate:"required,min=2"`
	Callsign  string   `json:"callsign" validate:"omitempty,min=2"`
	Type      string   `json:"type" validate:"omitempty,oneof=ENGINE LADDER RESCUE AMBULANCE COMMAND"`
	Personnel []string `json:"personnel,omitempty"`
}

// SetUnitStatusRequest is the POST /api/units/{unitId}/status body.
type SetUnitStatusRequest struct {
	Status   string `json:"status" validate:"required"`
	Location string `json:"location,omitempty"`
}

// UnitHandler serves the unit API.
type UnitHandler struct {
	units    *service.UnitService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewUnitHandler creates a new unit handler
func NewUnitHandler(units *service.UnitService, logger *slog.Logger) *UnitHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UnitHandler{
		units:    units,
		validate: validator.New(),
		logger:   logger,
	}
}

// Create handles POST /api/units
func (h *UnitHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateUnitRequest
	if !h.decode(w, r, &req) {
		return
	}

	identity := middleware.GetIdentityFromContext(r.Context())
	unit, err := h.units.Create(r.Context(), identity, service.CreateUnitInput{
		UnitID:    req.UnitID,
		Callsign:  req.Callsign,
		Type:      domain.UnitType(req.Type),
		Personnel: req.Personnel,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, "unit", unit)
}

// SetStatus handles POST /api/units/{unitId}/status
func (h *UnitHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req SetUnitStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	identity := middleware.GetIdentityFromContext(r.Context())
	unit, err := h.units.SetStatus(
		r.Context(),
		identity,
		middleware.OriginFromRequest(r),
		r.PathValue("unitId"),
		domain.UnitStatus(req.Status),
		req.Location,
	)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, "unit", unit)
}

// List handles GET /api/units
func (h *UnitHandler) List(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentityFromContext(r.Context())
	units, err := h.units.List(r.Context(), identity)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if units == nil {
		units = []*domain.Unit{}
	}
	writeJSON(w, http.StatusOK, "units", units)
}

func (h *UnitHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
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

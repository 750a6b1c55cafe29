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

// LoginRequest is the POST /api/auth/login body.
type LoginRequest struct {
	Username string `json:"username" validate:"required,min=2"`
	Password string `json:"password" validate:"required,min=3"`
}

// BootstrapRequest is the POST /api/auth/bootstrap body.
type BootstrapRequest struct {
	AgencyName  string `json:"agencyName" validate:"required,min=2"`
	AgencyCode  string `json:"agencyCode" validate:"required,min=2"`
	Timezone    string `json:"timezone" validate:"omitempty"`
	Username    string `json:"username" validate:"required,min=2"`
	DisplayName string `json:"displayName" validate:"required,min=2"`
	Password    string `json:"password" validate:"required,min=6"`
}

// ChangePasswordRequest is the POST /api/auth/change-password body.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8"`
}

// AuthHandler serves login, bootstrap, and account endpoints.
type AuthHandler struct {
	auth     *service.AuthService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(auth *service.AuthService, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		auth:     auth,
		validate: validator.New(),
		logger:   logger,
	}
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeOK(w, http.StatusOK, map[string]any{
		"token":      result.Token,
		"expires_in": result.ExpiresIn,
		"token_type": result.TokenType,
		"user":       result.User,
		"agency":     result.Agency,
	})
}

// Bootstrap handles POST /api/auth/bootstrap
func (h *AuthHandler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	var req BootstrapRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.auth.Bootstrap(r.Context(), service.BootstrapInput{
		AgencyName:       req.AgencyName,
		AgencyCode:       req.AgencyCode,
		Timezone:         req.Timezone,
		AdminUsername:    req.Username,
		AdminDisplayName: req.DisplayName,
		AdminPassword:    req.Password,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeOK(w, http.StatusCreated, map[string]any{
		"agency": result.Agency,
		"user":   result.User,
	})
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentityFromContext(r.Context())
	user, agency, err := h.auth.Me(r.Context(), identity)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeOK(w, http.StatusOK, map[string]any{
		"user":   user,
		"agency": agency,
	})
}

// ChangePassword handles POST /api/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	identity := middleware.GetIdentityFromContext(r.Context())
	if err := h.auth.ChangePassword(r.Context(), identity, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}

// GetAgency handles GET /api/agency/{id}
func (h *AuthHandler) GetAgency(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentityFromContext(r.Context())
	agency, err := h.auth.GetAgency(r.Context(), identity, r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, "agency", agency)
}

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
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

package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/opslink/opslink/internal/domain"
	"github.com/opslink/opslink/internal/security/middleware"
	"github.com/opslink/opslink/internal/service"
)

// ActivityHandler serves the activity stream.
type ActivityHandler struct {
	activity *service.ActivityService
	logger   *slog.Logger
}

// NewActivityHandler creates a new activity handler
func NewActivityHandler(activity *service.ActivityService, logger *slog.Logger) *ActivityHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivityHandler{activity: activity, logger: logger}
}

// List handles GET /api/activity?limit=
func (h *ActivityHandler) List(w http.ResponseWriter, r *http.Request) {
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

	entries, err := h.activity.List(r.Context(), identity, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if entries == nil {
		entries = []*domain.ActivityEntry{}
	}
	writeJSON(w, http.StatusOK, "activity", entries)
}

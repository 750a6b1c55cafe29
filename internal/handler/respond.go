package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/opslink/opslink/internal/domain"
)

// errorBody is the wire shape of a failure.
type errorBody struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// envelope is the uniform response wrapper: {"ok":true,...} on success,
// {"ok":false,"error":{...}} on failure.
type envelope struct {
	OK    bool       `json:"ok"`
	Error *errorBody `json:"error,omitempty"`
}

// writeJSON writes a success envelope with the payload merged in under its
// field name, e.g. {"ok":true,"incident":{...}}.
func writeJSON(w http.ResponseWriter, status int, field string, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := map[string]any{"ok": true}
	if field != "" {
		body[field] = payload
	}
	_ = json.NewEncoder(w).Encode(body)
}

// writeOK writes a bare success envelope, optionally with extra fields.
func writeOK(w http.ResponseWriter, status int, extra map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := map[string]any{"ok": true}
	for k, v := range extra {
		body[k] = v
	}
	_ = json.NewEncoder(w).Encode(body)
}

// statusForKind maps the error taxonomy onto HTTP status codes.
func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindAuthRequired:
		return http.StatusUnauthorized
	case domain.KindPermissionDenied:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a typed failure to its status code and public message.
// Internal detail never crosses the wire.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusForKind(domain.KindOf(err))
	message := domain.PublicMessage(err)

	if status == http.StatusInternalServerError {
		logger.Error("request failed", slog.String("error", err.Error()))
		message = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		OK:    false,
		Error: &errorBody{Message: message, Status: status},
	})
}

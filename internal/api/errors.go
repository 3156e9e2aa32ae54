package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/akuvox-access-core/internal/device"
	"github.com/nerrad567/akuvox-access-core/internal/reconcile"
	"github.com/nerrad567/akuvox-access-core/internal/registry"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeConflict    = "conflict"
	ErrCodeInternal    = "internal_error"
	ErrCodeValidation  = "validation_error"
	ErrCodeUnavailable = "unavailable"
	ErrCodeDeviceError = "device_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeDomainError maps registry, device and reconcile errors onto HTTP
// responses. Anything unrecognised is logged and reported as a 500.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrUserNotFound),
		errors.Is(err, registry.ErrGroupNotFound),
		errors.Is(err, registry.ErrScheduleNotFound),
		errors.Is(err, registry.ErrKeyNotFound),
		errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, reconcile.ErrDeviceNotFound):
		writeNotFound(w, err.Error())

	case errors.Is(err, registry.ErrGroupExists),
		errors.Is(err, registry.ErrProtectedGroup),
		errors.Is(err, registry.ErrProtectedSchedule),
		errors.Is(err, reconcile.ErrNotParticipating):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())

	case errors.Is(err, registry.ErrInvalidUserID),
		errors.Is(err, registry.ErrInvalidUser),
		errors.Is(err, registry.ErrInvalidGroup),
		errors.Is(err, registry.ErrInvalidSchedule),
		errors.Is(err, registry.ErrInvalidSettings),
		errors.Is(err, device.ErrInvalidRelayRole),
		errors.Is(err, device.ErrInvalidDevice):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())

	case errors.Is(err, reconcile.ErrSchedulerStopped):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())

	default:
		s.logger.Error("request failed", "error", err)
		writeInternalError(w, "internal server error")
	}
}

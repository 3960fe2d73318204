package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/noema-dev/noema-engine/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// ServiceError maps a service-layer error onto the right HTTP status and
// error code. Unknown errors become a 500 with the fallback code.
func ServiceError(w http.ResponseWriter, err error, fallbackCode string) error {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return ErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperrors.ErrValidation):
		return ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, apperrors.ErrNotPending):
		return ErrorResponse(w, http.StatusConflict, "not_pending", err.Error())
	case errors.Is(err, apperrors.ErrVersionConflict):
		return ErrorResponse(w, http.StatusConflict, "version_conflict", err.Error())
	case errors.Is(err, apperrors.ErrPolicyDenied):
		return ErrorResponse(w, http.StatusForbidden, "policy_denied", err.Error())
	default:
		return ErrorResponse(w, http.StatusInternalServerError, fallbackCode, err.Error())
	}
}

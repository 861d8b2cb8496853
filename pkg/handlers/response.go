package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ekaya-inc/auto-dw/pkg/apperrors"
)

// ApiResponse is the envelope of every successful JSON response.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

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

// statusForError maps pipeline errors onto an HTTP status and error code.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrInvalidIdentifier),
		errors.Is(err, apperrors.ErrUnknownColumnRole):
		return http.StatusUnprocessableEntity, "invalid_classification"
	case errors.Is(err, apperrors.ErrSchemaDecode):
		return http.StatusUnprocessableEntity, "schema_decode_failed"
	case errors.Is(err, apperrors.ErrCatalogInconsistent):
		return http.StatusConflict, "catalog_inconsistent"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

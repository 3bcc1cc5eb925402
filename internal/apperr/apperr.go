// Package apperr defines the error taxonomy shared by the serviceability
// packages and its mapping onto HTTP responses.
package apperr

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Error classes. Domain errors wrap one of these with %w so callers can
// branch with errors.Is without knowing the concrete error.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidGeometry = errors.New("invalid geometry")
	ErrConflict        = errors.New("conflict")
	ErrDataIntegrity   = errors.New("data integrity")
)

// Status returns the HTTP status code for err.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrDataIntegrity):
		// Stored geometry that no longer parses is our defect, not the caller's,
		// even though it also wraps ErrInvalidGeometry.
		return http.StatusInternalServerError
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidGeometry):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Write sends err as a JSON body of the form {"error": "..."}.
// Internal errors are not echoed back to the client.
func Write(w http.ResponseWriter, err error) {
	status := Status(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	WriteMessage(w, status, msg)
}

// WriteMessage sends a JSON error body with the given status.
func WriteMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// RespondJSON writes payload as JSON with the given status.
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Failed to marshal JSON response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/breezeboot/breeze/pkg/accesserr"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error     string         `json:"error"`
	Code      accesserr.Code `json:"code,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteInternalError writes a generic 500 without leaking err
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
}

// WriteAccessError writes an access-control error with the status its code
// maps to. Causes wrapped inside the error are not exposed.
func WriteAccessError(w http.ResponseWriter, err error) {
	var e *accesserr.Error
	if !errors.As(err, &e) {
		WriteInternalError(w)
		return
	}
	if e.Retryable {
		w.Header().Set("Retry-After", "1")
	}
	_ = WriteJSON(w, StatusFor(err), ErrorResponse{
		Error:     e.Message,
		Code:      e.Code,
		Retryable: e.Retryable,
	})
}

// StatusFor maps an error to an HTTP status code
func StatusFor(err error) int {
	switch accesserr.CodeOf(err) {
	case accesserr.CodeAuthenticationRequired:
		return http.StatusUnauthorized
	case accesserr.CodeForbidden:
		return http.StatusForbidden
	case accesserr.CodeRoleNotFound, accesserr.CodeDepartmentNotFound:
		return http.StatusNotFound
	case accesserr.CodeDepartmentNotEmpty, accesserr.CodeCycleDetected:
		return http.StatusConflict
	case accesserr.CodeMalformedRule, accesserr.CodeInvalidParameter:
		return http.StatusUnprocessableEntity
	case accesserr.CodeDependencyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

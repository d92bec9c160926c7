// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrReference    = errors.New("referenced resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrStorage      = errors.New("storage failure")
)

// StatusFor maps a domain error onto an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrConflict):
		return http.StatusConflict
	// Dangling references are a caller input problem, not a missing resource.
	case errors.Is(err, ErrValidation), errors.Is(err, ErrReference):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	switch status {
	case http.StatusNotFound:
		Problem(w, status, "Not Found", err.Error())
	case http.StatusConflict:
		Problem(w, status, "Conflict", err.Error())
	case http.StatusBadRequest:
		Problem(w, status, "Validation Failed", err.Error())
	case http.StatusForbidden:
		Problem(w, status, "Forbidden", err.Error())
	case http.StatusUnauthorized:
		Problem(w, status, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// Package httputil holds JSON response helpers shared by HTTP handlers.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	dErrors "shelfcheck/pkg/domain-errors"
	"shelfcheck/pkg/platform/sentinel"
)

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error to a status and JSON body. Internal errors
// never expose their description.
func WriteError(w http.ResponseWriter, err error) {
	code, msg := classify(err)
	body := errorBody{Error: string(code)}
	status := StatusFor(code)
	if status != http.StatusInternalServerError {
		body.ErrorDescription = msg
	}
	WriteJSON(w, status, body)
}

// StatusOf returns the status WriteError would send for err.
func StatusOf(err error) int {
	code, _ := classify(err)
	return StatusFor(code)
}

func classify(err error) (dErrors.Code, string) {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return de.Code, de.Message
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.CodeNotFound, "resource not found"
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.CodeConflict, "concurrent update, retry"
	case errors.Is(err, sentinel.ErrUnavailable), errors.Is(err, sentinel.ErrClosed):
		return dErrors.CodeUnavailable, "service unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.CodeTimeout, "request timed out"
	}
	return dErrors.CodeInternal, ""
}

// StatusFor maps an error code to an HTTP status.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeValidation:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Package http provides the JSON API over the calendar service.
//
// This file implements a small builder for JSON responses and the mapping
// from domain errors to API errors.

package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"homecal/internal/core"
	"homecal/internal/services"
	"homecal/internal/store"
)

// Error codes returned in the "error" field of error bodies.
const (
	CodeBadRequest      = "bad_request"
	CodeInvalid         = "invalid"
	CodeNotFound        = "not_found"
	CodeMissingCategory = "missing_category"
	CodeUnknownCategory = "unknown_category"
	CodeUnavailable     = "unavailable"
	CodeRateLimited     = "rate_limited"
	CodeInternal        = "internal"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	body       any
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}

	payload, err := json.Marshal(b.body)
	if err != nil {
		slog.Error("Failed to encode response", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal","message":"failed to encode response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(append(payload, '\n'))
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	EventID    *int   `json:"event_id,omitempty"`
	CategoryID *int   `json:"category_id,omitempty"`
}

// ErrorResponse creates an error response.
func ErrorResponse(statusCode int, code, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Body(ErrorBody{Error: code, Message: message})
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, CodeBadRequest, message)
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, CodeNotFound, message)
}

// ServiceUnavailableError creates a 503 Service Unavailable error response.
func ServiceUnavailableError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusServiceUnavailable, CodeUnavailable, message)
}

// errorResponseFor maps err to its API response.
func errorResponseFor(err error) *JSONResponseBuilder {
	var (
		missing *core.MissingCategoryError
		badReq  *badRequestError
	)
	switch {
	case errors.As(err, &missing):
		body := ErrorBody{
			Error:      CodeMissingCategory,
			Message:    missing.Error(),
			EventID:    &missing.EventID,
			CategoryID: &missing.CategoryID,
		}
		return NewJSONResponse().Status(http.StatusConflict).Body(body)
	case errors.As(err, &badReq):
		return BadRequestError(badReq.msg)
	case errors.Is(err, store.ErrNotFound):
		return NotFoundError(err.Error())
	case errors.Is(err, services.ErrUnknownCategory):
		return ErrorResponse(http.StatusUnprocessableEntity, CodeUnknownCategory, err.Error())
	case errors.Is(err, store.ErrInvalid), errors.Is(err, core.ErrInvalidDuration):
		return ErrorResponse(http.StatusUnprocessableEntity, CodeInvalid, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ServiceUnavailableError("request timed out")
	default:
		return ErrorResponse(http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

// writeError logs err and writes its API response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponseFor(err)
	if resp.statusCode >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		slog.WarnContext(r.Context(), "Request rejected", "method", r.Method, "path", r.URL.Path, "status", resp.statusCode, "error", err)
	}
	resp.Write(w)
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"homecal/internal/core"
	"homecal/internal/services"
	"homecal/internal/store"
)

func TestJSONResponseBuilder(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/events/7").
		Body(map[string]int{"id": 7}).
		Write(w)

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("content type = %q", got)
	}
	if got := w.Header().Get("Location"); got != "/api/events/7" {
		t.Errorf("location = %q", got)
	}
	var body map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["id"] != 7 {
		t.Errorf("unexpected body %q: %v", w.Body.String(), err)
	}
}

func TestJSONResponseBuilderWithoutBody(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Fatalf("expected empty 204, got %d %q", w.Code, w.Body.String())
	}
}

func TestJSONResponseBuilderEncodeFailure(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Body(map[string]any{"bad": make(chan int)}).Write(w)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for an unencodable body, got %d", w.Code)
	}
}

func TestErrorResponseFor(t *testing.T) {
	missing := &core.MissingCategoryError{EventID: 4, CategoryID: 9}
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"missing category", fmt.Errorf("query: %w", missing), http.StatusConflict, CodeMissingCategory},
		{"bad request", badRequest("bad date"), http.StatusBadRequest, CodeBadRequest},
		{"not found", fmt.Errorf("delete event: %w", store.ErrNotFound), http.StatusNotFound, CodeNotFound},
		{"unknown category", fmt.Errorf("category 9: %w", services.ErrUnknownCategory), http.StatusUnprocessableEntity, CodeUnknownCategory},
		{"invalid", fmt.Errorf("%w: description is required", store.ErrInvalid), http.StatusUnprocessableEntity, CodeInvalid},
		{"invalid duration", core.ErrInvalidDuration, http.StatusUnprocessableEntity, CodeInvalid},
		{"timeout", context.DeadlineExceeded, http.StatusServiceUnavailable, CodeUnavailable},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			errorResponseFor(tt.err).Write(w)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body ErrorBody
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Error != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Error, tt.wantCode)
			}
			if body.Message == "" {
				t.Errorf("expected a message")
			}
		})
	}
}

func TestErrorResponseForMissingCategoryCarriesIDs(t *testing.T) {
	w := httptest.NewRecorder()
	errorResponseFor(&core.MissingCategoryError{EventID: 4, CategoryID: 9}).Write(w)

	var body ErrorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.EventID == nil || *body.EventID != 4 || body.CategoryID == nil || *body.CategoryID != 9 {
		t.Fatalf("unexpected ids in %s", w.Body.String())
	}
}

func TestErrorResponseHidesInternalDetails(t *testing.T) {
	w := httptest.NewRecorder()
	errorResponseFor(errors.New("open /var/lib/homecal/db: permission denied")).Write(w)
	var body ErrorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Message != "internal error" {
		t.Fatalf("internal error leaked: %q", body.Message)
	}
}

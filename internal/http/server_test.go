package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"homecal/internal/amqp"
	"homecal/internal/cache"
	"homecal/internal/core"
	"homecal/internal/ics"
	"homecal/internal/log"
	"homecal/internal/metrics"
	"homecal/internal/services"
	"homecal/internal/store/memory"
)

type fakePublisher struct {
	requests []string
	err      error
}

func (p *fakePublisher) PublishImportRequest(_ context.Context, sourceID string) (*amqp.ImportRequestMessage, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.requests = append(p.requests, sourceID)
	return amqp.NewImportRequestMessage(sourceID), nil
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	st := memory.New(
		[]core.Category{core.NewCategory(1, "Work"), core.NewCategory(2, "Fun", core.CategoryHoliday)},
		[]core.Event{
			core.MustEvent(1, time.Date(2026, 1, 20, 14, 0, 0, 0, time.UTC), 1, 60, "Review"),
			core.MustEvent(2, time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC), 1, 30, "Standup"),
			core.MustEvent(3, time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC), 2, 45, "Swim"),
		},
	)
	m := metrics.New()
	opts.Calendar = services.NewCalendarService(st, cache.NewLRUCache[any](32, time.Minute), m)
	opts.Metrics = m
	opts.Location = time.UTC
	opts.Logger = log.Discard()
	srv := NewServer(":0", opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestServerQueries(t *testing.T) {
	h := newTestServer(t, Options{}).Handler

	w := do(t, h, http.MethodGet, "/api/items?start=2026-01-01&end=2026-01-20", "")
	if w.Code != http.StatusOK {
		t.Fatalf("items status %d: %s", w.Code, w.Body.String())
	}
	items := decode[[]core.CalendarItem](t, w)
	if len(items) != 2 || items[0].EventID != 2 || items[1].EventID != 1 {
		t.Fatalf("expected the end day to be inclusive, got %+v", items)
	}

	w = do(t, h, http.MethodGet, "/api/items/by-month", "")
	months := decode[[]core.CalendarItemsByMonth](t, w)
	if len(months) != 2 || months[0].Month != "January 2026" || months[0].TotalBusyTime != 90 {
		t.Fatalf("unexpected months %+v", months)
	}

	w = do(t, h, http.MethodGet, "/api/items/by-category?category=2", "")
	cats := decode[[]core.CalendarItemsByCategory](t, w)
	if len(cats) != 1 || cats[0].Category != "Fun" || cats[0].TotalBusyTime != 45 {
		t.Fatalf("unexpected categories %+v", cats)
	}

	w = do(t, h, http.MethodGet, "/api/summary", "")
	records := decode[[]map[string]any](t, w)
	if len(records) != 2 {
		t.Fatalf("expected two months, got %+v", records)
	}
	if records[0]["Month"] != "January 2026" || records[0]["Work"] != 90.0 {
		t.Fatalf("unexpected January record %+v", records[0])
	}
	if _, ok := records[0]["Fun"]; ok {
		t.Fatalf("categories without items must not be listed: %+v", records[0])
	}
}

func TestServerRejectsBadFilters(t *testing.T) {
	h := newTestServer(t, Options{}).Handler
	for _, target := range []string{
		"/api/items?start=yesterday",
		"/api/items/by-month?end=2026-02-30",
		"/api/summary?category=work",
		"/calendar.ics?category=",
	} {
		w := do(t, h, http.MethodGet, target, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", target, w.Code)
			continue
		}
		if body := decode[ErrorBody](t, w); body.Error != CodeBadRequest {
			t.Errorf("%s: code %q", target, body.Error)
		}
	}
}

func TestServerCategoryLifecycle(t *testing.T) {
	h := newTestServer(t, Options{}).Handler

	w := do(t, h, http.MethodPost, "/api/categories", `{"description":"Chores","type":"availability"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", w.Code, w.Body.String())
	}
	created := decode[categoryResponse](t, w)
	if created.ID != 3 || created.Type != "Availability" {
		t.Fatalf("unexpected category %+v", created)
	}

	w = do(t, h, http.MethodPost, "/api/categories", `{"description":"Party","type":"rave"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown type, got %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/api/categories", "")
	list := decode[[]categoryResponse](t, w)
	if len(list) != 3 || list[1].Type != "Holiday" {
		t.Fatalf("unexpected list %+v", list)
	}

	if w := do(t, h, http.MethodDelete, "/api/categories/3", ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete status %d", w.Code)
	}
	if w := do(t, h, http.MethodDelete, "/api/categories/3", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", w.Code)
	}
	if w := do(t, h, http.MethodDelete, "/api/categories/abc", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a non-numeric id, got %d", w.Code)
	}
}

func TestServerEventLifecycle(t *testing.T) {
	h := newTestServer(t, Options{}).Handler

	w := do(t, h, http.MethodPost, "/api/events", `{"start":"2026-03-02T10:00","category_id":2,"duration_minutes":30,"details":"Yoga"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", w.Code, w.Body.String())
	}
	ev := decode[eventResponse](t, w)
	if ev.ID != 4 || !ev.Start.Equal(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected event %+v", ev)
	}

	w = do(t, h, http.MethodPost, "/api/events", `{"start":"2026-03-02","category_id":42,"duration_minutes":30}`)
	if w.Code != http.StatusUnprocessableEntity || decode[ErrorBody](t, w).Error != CodeUnknownCategory {
		t.Fatalf("expected unknown_category, got %d %s", w.Code, w.Body.String())
	}
	// Negative durations are unusual but valid.
	w = do(t, h, http.MethodPost, "/api/events", `{"start":"2026-03-02","category_id":1,"duration_minutes":-5}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 for negative duration, got %d %s", w.Code, w.Body.String())
	}
	if neg := decode[eventResponse](t, w); neg.ID != 5 || neg.DurationMinutes != -5 {
		t.Fatalf("unexpected event %+v", neg)
	}
	if w := do(t, h, http.MethodDelete, "/api/events/5", ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete status %d", w.Code)
	}
	w = do(t, h, http.MethodPost, "/api/events", `{"category_id":1}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without start, got %d", w.Code)
	}

	w = do(t, h, http.MethodPatch, "/api/events/4", `{"duration_minutes":90}`)
	if w.Code != http.StatusOK || decode[eventResponse](t, w).DurationMinutes != 90 {
		t.Fatalf("patch: %d %s", w.Code, w.Body.String())
	}
	if w := do(t, h, http.MethodPatch, "/api/events/4", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an empty patch, got %d", w.Code)
	}
	if w := do(t, h, http.MethodPatch, "/api/events/99", `{"details":"x"}`); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a missing event, got %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/api/items?start=2026-03-01", "")
	items := decode[[]core.CalendarItem](t, w)
	if len(items) != 1 || items[0].BusyTime != 90 {
		t.Fatalf("write not visible to queries: %+v", items)
	}

	if w := do(t, h, http.MethodDelete, "/api/events/4", ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete status %d", w.Code)
	}
}

func TestServerMissingCategory(t *testing.T) {
	h := newTestServer(t, Options{}).Handler

	if w := do(t, h, http.MethodDelete, "/api/categories/2", ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete status %d", w.Code)
	}
	w := do(t, h, http.MethodGet, "/api/summary?category=1", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", w.Code, w.Body.String())
	}
	body := decode[ErrorBody](t, w)
	if body.Error != CodeMissingCategory || body.EventID == nil || *body.EventID != 3 {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestServerImports(t *testing.T) {
	sources := []ics.Source{{ID: "school", URL: "https://school.example/cal.ics"}}

	t.Run("not configured", func(t *testing.T) {
		h := newTestServer(t, Options{Sources: sources}).Handler
		w := do(t, h, http.MethodPost, "/api/imports", `{"source":"school"}`)
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", w.Code)
		}
	})

	t.Run("queued", func(t *testing.T) {
		pub := &fakePublisher{}
		h := newTestServer(t, Options{Sources: sources, Publisher: pub}).Handler

		w := do(t, h, http.MethodPost, "/api/imports", `{"source":"school"}`)
		if w.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d %s", w.Code, w.Body.String())
		}
		resp := decode[importResponse](t, w)
		if resp.MessageID == "" || resp.Source != "school" {
			t.Fatalf("unexpected response %+v", resp)
		}

		if w := do(t, h, http.MethodPost, "/api/imports", ""); w.Code != http.StatusAccepted {
			t.Fatalf("expected 202 for import of every source, got %d", w.Code)
		}
		if len(pub.requests) != 2 || pub.requests[0] != "school" || pub.requests[1] != "" {
			t.Fatalf("unexpected published requests %q", pub.requests)
		}

		if w := do(t, h, http.MethodPost, "/api/imports", `{"source":"gym"}`); w.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for an unknown source, got %d", w.Code)
		}
	})

	t.Run("broker down", func(t *testing.T) {
		pub := &fakePublisher{err: errors.New("publish: circuit breaker is open")}
		h := newTestServer(t, Options{Sources: sources, Publisher: pub}).Handler
		if w := do(t, h, http.MethodPost, "/api/imports", `{}`); w.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", w.Code)
		}
	})
}

func TestServerExport(t *testing.T) {
	h := newTestServer(t, Options{CalendarName: "Family"}).Handler

	w := do(t, h, http.MethodGet, "/calendar.ics?category=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Fatalf("content type %q", ct)
	}
	parsed, err := ics.Parse(w.Body.Bytes(), time.UTC)
	if err != nil {
		t.Fatalf("parse export: %v", err)
	}
	if len(parsed) != 1 || parsed[0].Summary != "Swim" {
		t.Fatalf("unexpected exported events %+v", parsed)
	}
}

func TestServerRateLimitsWrites(t *testing.T) {
	h := newTestServer(t, Options{WriteRateLimit: 2}).Handler

	for i := range 2 {
		if w := do(t, h, http.MethodPost, "/api/categories", `{"description":"C"}`); w.Code != http.StatusCreated {
			t.Fatalf("write %d: status %d", i, w.Code)
		}
	}
	w := do(t, h, http.MethodPost, "/api/categories", `{"description":"C"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" || decode[ErrorBody](t, w).Error != CodeRateLimited {
		t.Fatalf("unexpected rate limit response %v %s", w.Header(), w.Body.String())
	}

	if w := do(t, h, http.MethodGet, "/api/categories", ""); w.Code != http.StatusOK {
		t.Fatalf("reads must not be limited, got %d", w.Code)
	}
}

func TestServerAmbientRoutes(t *testing.T) {
	h := newTestServer(t, Options{}).Handler

	w := do(t, h, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("healthz status %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Errorf("expected a request id header")
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("expected security headers, got %v", w.Header())
	}

	if w := do(t, h, http.MethodGet, "/readyz", ""); w.Code != http.StatusOK {
		t.Fatalf("readyz status %d", w.Code)
	}

	do(t, h, http.MethodGet, "/api/items", "")
	w = do(t, h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `path="GET /api/items"`) {
		t.Fatalf("expected the request to be recorded by route")
	}

	if w := do(t, h, http.MethodPut, "/api/items", ""); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

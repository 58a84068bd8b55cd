package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"homecal/internal/core"
	"homecal/internal/ics"
	"homecal/internal/services"
)

type categoryResponse struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

func newCategoryResponse(c core.Category) categoryResponse {
	return categoryResponse{ID: c.ID(), Description: c.Description(), Type: c.Type().String()}
}

type eventResponse struct {
	ID              int       `json:"id"`
	Start           time.Time `json:"start"`
	CategoryID      int       `json:"category_id"`
	DurationMinutes float64   `json:"duration_minutes"`
	Details         string    `json:"details"`
}

func newEventResponse(e core.Event) eventResponse {
	return eventResponse{
		ID:              e.ID(),
		Start:           e.StartDateTime(),
		CategoryID:      e.CategoryID(),
		DurationMinutes: e.DurationInMinutes(),
		Details:         e.Details(),
	}
}

type importResponse struct {
	MessageID   string    `json:"message_id"`
	Source      string    `json:"source,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func (s *Server) filter(w http.ResponseWriter, r *http.Request) (core.Filter, bool) {
	f, err := ParseFilter(r.URL.Query(), s.loc)
	if err != nil {
		writeError(w, r, err)
		return core.Filter{}, false
	}
	return f, true
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	f, ok := s.filter(w, r)
	if !ok {
		return
	}
	items, err := s.calendar.Items(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(items).Write(w)
}

func (s *Server) handleByMonth(w http.ResponseWriter, r *http.Request) {
	f, ok := s.filter(w, r)
	if !ok {
		return
	}
	months, err := s.calendar.ByMonth(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(months).Write(w)
}

func (s *Server) handleByCategory(w http.ResponseWriter, r *http.Request) {
	f, ok := s.filter(w, r)
	if !ok {
		return
	}
	cats, err := s.calendar.ByCategory(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(cats).Write(w)
}

// handleSummary returns the month by category pivot flattened to one record
// per month, e.g. {"Month": "January 2026", "Work": 90}.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	f, ok := s.filter(w, r)
	if !ok {
		return
	}
	summary, err := s.calendar.Summary(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(core.Records(summary)).Write(w)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.calendar.Categories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]categoryResponse, 0, len(cats))
	for _, c := range cats {
		out = append(out, newCategoryResponse(c))
	}
	NewJSONResponse().Body(out).Write(w)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	desc, typ, err := req.parse()
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.calendar.AddCategory(r.Context(), desc, typ)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(newCategoryResponse(c)).Write(w)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.calendar.DeleteCategory(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	draft, err := req.draft(s.loc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ev, err := s.calendar.AddEvent(r.Context(), draft)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(newEventResponse(ev)).Write(w)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req eventPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	patch, err := req.patch()
	if err != nil {
		writeError(w, r, err)
		return
	}
	ev, err := s.calendar.UpdateEvent(r.Context(), id, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(newEventResponse(ev)).Write(w)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.calendar.DeleteEvent(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCreateImport queues an import of one configured source, or of every
// source when the body is empty or names none.
func (s *Server) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	if s.publisher == nil {
		ServiceUnavailableError("imports are not configured").Write(w)
		return
	}

	var req importRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	req.Source = strings.TrimSpace(req.Source)
	if req.Source != "" {
		if _, ok := services.Find(s.sources, req.Source); !ok {
			NotFoundError("unknown import source " + req.Source).Write(w)
			return
		}
	}

	msg, err := s.publisher.PublishImportRequest(r.Context(), req.Source)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to queue import request", "source_id", req.Source, "error", err)
		ServiceUnavailableError("could not queue import request").Write(w)
		return
	}
	NewJSONResponse().
		Status(http.StatusAccepted).
		Body(importResponse{MessageID: msg.ID, Source: msg.SourceID, RequestedAt: msg.RequestedAt}).
		Write(w)
}

// handleExport serves the filtered items as an iCalendar feed.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	f, ok := s.filter(w, r)
	if !ok {
		return
	}
	items, err := s.calendar.Items(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calendar.ics"`)
	_, _ = w.Write([]byte(ics.Export(s.calendarName, items, time.Now())))
}

// Package http provides the JSON API over the calendar service.
//
// This file parses query filters and decodes request bodies.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"homecal/internal/core"
	"homecal/internal/store"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

const dateLayout = "2006-01-02"

// badRequestError marks input the API could not parse.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

// ParseFilter reads start, end and category from query parameters. Dates are
// YYYY-MM-DD in loc. A category parameter turns category filtering on.
func ParseFilter(query url.Values, loc *time.Location) (core.Filter, error) {
	var f core.Filter
	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{{"start", &f.Start}, {"end", &f.End}} {
		v := strings.TrimSpace(query.Get(bound.name))
		if v == "" {
			continue
		}
		t, err := parseDate(v, loc)
		if err != nil {
			return core.Filter{}, badRequest("invalid %s date %q: want YYYY-MM-DD", bound.name, v)
		}
		*bound.dst = &t
	}

	if query.Has("category") {
		v := strings.TrimSpace(query.Get("category"))
		id, err := strconv.Atoi(v)
		if err != nil {
			return core.Filter{}, badRequest("invalid category %q: want a number", v)
		}
		f.FilterByCategory = true
		f.CategoryID = id
	}
	return f, nil
}

func parseDate(v string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(dateLayout, v, loc)
}

// parseStart accepts RFC 3339, a local date-time without zone, or a bare date.
func parseStart(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", dateLayout} {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, badRequest("invalid start %q: want RFC 3339, YYYY-MM-DDTHH:MM or YYYY-MM-DD", v)
}

func pathID(r *http.Request, name string) (int, error) {
	v := r.PathValue(name)
	id, err := strconv.Atoi(v)
	if err != nil || id < 0 {
		return 0, badRequest("invalid %s %q", name, v)
	}
	return id, nil
}

// decodeJSON reads a single JSON object into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return badRequest("request body is empty")
		case errors.As(err, &maxErr):
			return badRequest("request body exceeds %d bytes", maxBodyBytes)
		default:
			return badRequest("invalid JSON body: %v", err)
		}
	}
	if dec.More() {
		return badRequest("request body must contain a single JSON object")
	}
	return nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
}

type categoryRequest struct {
	Description string `json:"description"`
	Type        string `json:"type"`
}

func (req categoryRequest) parse() (string, core.CategoryType, error) {
	desc := sanitizeInput(req.Description)
	if desc == "" {
		return "", 0, fmt.Errorf("%w: description is required", store.ErrInvalid)
	}
	typ, err := core.ParseCategoryType(req.Type)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}
	return desc, typ, nil
}

type eventRequest struct {
	Start           string  `json:"start"`
	CategoryID      int     `json:"category_id"`
	DurationMinutes float64 `json:"duration_minutes"`
	Details         string  `json:"details"`
}

func (req eventRequest) draft(loc *time.Location) (core.EventDraft, error) {
	if strings.TrimSpace(req.Start) == "" {
		return core.EventDraft{}, badRequest("start is required")
	}
	start, err := parseStart(req.Start, loc)
	if err != nil {
		return core.EventDraft{}, err
	}
	return core.EventDraft{
		StartDateTime:     start,
		CategoryID:        req.CategoryID,
		DurationInMinutes: req.DurationMinutes,
		Details:           sanitizeInput(req.Details),
	}, nil
}

type eventPatchRequest struct {
	DurationMinutes *float64 `json:"duration_minutes"`
	Details         *string  `json:"details"`
}

func (req eventPatchRequest) patch() (store.EventPatch, error) {
	if req.DurationMinutes == nil && req.Details == nil {
		return store.EventPatch{}, badRequest("nothing to update: send duration_minutes or details")
	}
	p := store.EventPatch{DurationInMinutes: req.DurationMinutes}
	if req.Details != nil {
		d := sanitizeInput(*req.Details)
		p.Details = &d
	}
	return p, nil
}

type importRequest struct {
	Source string `json:"source"`
}

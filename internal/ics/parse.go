// Package ics imports iCalendar feeds into calendar events and exports
// calendar items back out as a VCALENDAR.
package ics

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

// ErrEmptyBody is returned when a feed has no content.
var ErrEmptyBody = errors.New("empty ICS body")

const (
	propCategories   ical.ComponentProperty = "CATEGORIES"
	propDuration     ical.ComponentProperty = "DURATION"
	propRecurrenceID ical.ComponentProperty = "RECURRENCE-ID"
)

// ParsedEvent is one VEVENT before recurrence expansion.
type ParsedEvent struct {
	UID         string
	Summary     string
	Description string
	Categories  []string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule string
	ExDates  []time.Time
	// Recurrence is the RECURRENCE-ID of an override instance.
	Recurrence *time.Time
}

// IsOverride reports whether the VEVENT replaces one instance of a recurring event.
func (p ParsedEvent) IsOverride() bool { return p.Recurrence != nil }

// Parse reads every VEVENT in body. Floating times and dates are read in loc.
// VEVENTs that cannot be read are skipped and logged.
func Parse(body []byte, loc *time.Location) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyBody
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	events := make([]ParsedEvent, 0)
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(ve, loc)
		if err != nil {
			slog.Warn("Skipping unreadable VEVENT", "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	var out ParsedEvent

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = unescapeText(p.Value)
	}
	for _, p := range ve.GetProperties(propCategories) {
		for _, c := range strings.Split(p.Value, ",") {
			if c = strings.TrimSpace(unescapeText(c)); c != "" {
				out.Categories = append(out.Categories, c)
			}
		}
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, fmt.Errorf("%s: missing DTSTART", out.UID)
	}
	start, allDay, err := propTime(dtStart, loc)
	if err != nil {
		if start, err = ve.GetStartAt(); err != nil {
			return out, fmt.Errorf("%s: DTSTART: %w", out.UID, err)
		}
	}
	out.Start, out.AllDay = start, allDay

	switch {
	case ve.GetProperty(ical.ComponentPropertyDtEnd) != nil:
		end, _, err := propTime(ve.GetProperty(ical.ComponentPropertyDtEnd), loc)
		if err != nil {
			if end, err = ve.GetEndAt(); err != nil {
				return out, fmt.Errorf("%s: DTEND: %w", out.UID, err)
			}
		}
		out.End = end
	case ve.GetProperty(propDuration) != nil:
		d, err := parseDuration(ve.GetProperty(propDuration).Value)
		if err != nil {
			return out, fmt.Errorf("%s: DURATION: %w", out.UID, err)
		}
		out.End = out.Start.Add(d)
	case allDay:
		out.End = out.Start.AddDate(0, 0, 1)
	default:
		out.End = out.Start
	}
	if out.End.Before(out.Start) {
		out.End = out.Start
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		tz := paramValue(p, "TZID")
		for _, part := range strings.Split(p.Value, ",") {
			if t, _, err := parseICSTime(strings.TrimSpace(part), tz, loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}
	if p := ve.GetProperty(propRecurrenceID); p != nil {
		if t, _, err := propTime(p, loc); err == nil {
			out.Recurrence = &t
		}
	}
	return out, nil
}

func propTime(p *ical.IANAProperty, loc *time.Location) (time.Time, bool, error) {
	t, dateOnly, err := parseICSTime(p.Value, paramValue(p, "TZID"), loc)
	if err != nil {
		return t, false, err
	}
	if strings.EqualFold(paramValue(p, "VALUE"), "DATE") {
		dateOnly = true
	}
	return t, dateOnly, nil
}

func paramValue(p *ical.IANAProperty, name string) string {
	if p == nil || p.ICalParameters == nil {
		return ""
	}
	if vs := p.ICalParameters[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// parseICSTime reads DATE, local DATE-TIME and UTC DATE-TIME forms. tzid, when
// loadable, overrides loc for local forms.
func parseICSTime(v, tzid string, loc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}
	if tzid != "" {
		if l, err := time.LoadLocation(strings.Trim(tzid, `"`)); err == nil {
			loc = l
		}
	}

	switch {
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	case strings.Contains(v, "T"):
		t, err := time.ParseInLocation("20060102T150405", v, loc)
		return t, false, err
	default:
		t, err := time.ParseInLocation("20060102", v, loc)
		return t, true, err
	}
}

var durationPattern = regexp.MustCompile(`^([+-])?P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// parseDuration reads an RFC 5545 DURATION value such as PT1H30M or P1D.
func parseDuration(v string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(strings.TrimSpace(v))
	if m == nil || v == "P" || strings.HasSuffix(v, "T") {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	units := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute, time.Second}
	var d time.Duration
	for i, u := range units {
		if m[i+2] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+2])
		if err != nil {
			return 0, err
		}
		d += time.Duration(n) * u
	}
	if m[1] == "-" {
		d = -d
	}
	return d, nil
}

var textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

func unescapeText(s string) string {
	return textUnescaper.Replace(s)
}

package ics

import (
	"errors"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/teambition/rrule-go"
)

// MaxOccurrencesPerEvent caps the expansion of a single recurring VEVENT.
const MaxOccurrencesPerEvent = 5000

// Occurrence is one concrete instance of a VEVENT.
type Occurrence struct {
	UID         string
	Summary     string
	Description string
	Categories  []string
	Start       time.Time
	End         time.Time
	AllDay      bool
}

// Duration returns the length of the occurrence.
func (o Occurrence) Duration() time.Duration { return o.End.Sub(o.Start) }

// Expand turns parsed events into the occurrences that start within
// [from, to]. RRULE, EXDATE and RECURRENCE-ID overrides are applied and
// results are converted to loc, ordered by start time.
func Expand(events []ParsedEvent, from, to time.Time, loc *time.Location) ([]Occurrence, error) {
	if to.Before(from) {
		return nil, errors.New("expand: window end is before start")
	}
	if loc == nil {
		loc = time.Local
	}

	overrides := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		}
	}

	out := make([]Occurrence, 0, len(events))
	for _, ev := range events {
		if ev.IsOverride() {
			continue
		}
		if ev.RawRRule == "" {
			if inWindow(ev.Start, from, to) {
				out = append(out, occurrence(ev, ev.Start, ev.End, loc))
			}
			continue
		}
		out = append(out, expandRecurring(ev, overrides[ev.UID], from, to, loc)...)
	}

	// Overrides whose master is missing from the feed still count on their own.
	for uid, ovs := range overrides {
		if slices.ContainsFunc(events, func(e ParsedEvent) bool { return e.UID == uid && !e.IsOverride() }) {
			continue
		}
		for _, o := range ovs {
			if inWindow(o.Start, from, to) {
				out = append(out, occurrence(o, o.Start, o.End, loc))
			}
		}
	}

	slices.SortStableFunc(out, func(a, b Occurrence) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		if a.UID < b.UID {
			return -1
		}
		if a.UID > b.UID {
			return 1
		}
		return 0
	})
	return out, nil
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, from, to time.Time, loc *time.Location) []Occurrence {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		slog.Warn("Skipping event with invalid RRULE", "uid", ev.UID, "rrule", ev.RawRRule, "error", err)
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	starts := set.Between(from.In(ev.Start.Location()), to.In(ev.Start.Location()), true)
	if len(starts) > MaxOccurrencesPerEvent {
		slog.Warn("Truncating recurring event", "uid", ev.UID, "cap", MaxOccurrencesPerEvent)
		starts = starts[:MaxOccurrencesPerEvent]
	}

	length := ev.End.Sub(ev.Start)
	out := make([]Occurrence, 0, len(starts))
	for _, s := range starts {
		if o, ok := findOverride(overrides, s); ok {
			out = append(out, occurrence(o, o.Start, o.End, loc))
			continue
		}
		end := s.Add(length)
		if ev.AllDay {
			end = s.AddDate(0, 0, int(math.Round(length.Hours()/24)))
		}
		out = append(out, occurrence(ev, s, end, loc))
	}
	return out
}

func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, o := range overrides {
		if o.Recurrence != nil && o.Recurrence.Equal(start) {
			return o, true
		}
	}
	return ParsedEvent{}, false
}

func occurrence(ev ParsedEvent, start, end time.Time, loc *time.Location) Occurrence {
	if ev.AllDay {
		// Dates are calendar days, not instants; keep the wall date.
		start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)
	} else {
		start, end = start.In(loc), end.In(loc)
	}
	return Occurrence{
		UID:         ev.UID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Categories:  slices.Clone(ev.Categories),
		Start:       start,
		End:         end,
		AllDay:      ev.AllDay,
	}
}

func inWindow(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

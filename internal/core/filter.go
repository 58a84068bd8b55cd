package core

import "time"

// Filter selects calendar items. Nil bounds impose no constraint and
// CategoryID is ignored unless FilterByCategory is set.
type Filter struct {
	Start            *time.Time
	End              *time.Time
	FilterByCategory bool
	CategoryID       int
}

// Matches reports whether item falls within the filter.
func (f Filter) Matches(item CalendarItem) bool {
	return Matches(item, f.Start, f.End, f.FilterByCategory, f.CategoryID)
}

// Inverted reports whether both bounds are set and the start day is after the end day.
// Such a filter matches nothing.
func (f Filter) Inverted() bool {
	if f.Start == nil || f.End == nil {
		return false
	}
	return !startOfDay(*f.Start).Before(nextDay(*f.End))
}

// Matches is the date range and category predicate.
//
// The start bound is floored to midnight of its day. The end bound covers its
// whole calendar day, so an item at 23:59 on the end date is included.
func Matches(item CalendarItem, start, end *time.Time, filterByCategory bool, categoryID int) bool {
	if start != nil && item.StartDateTime.Before(startOfDay(*start)) {
		return false
	}
	if end != nil && !item.StartDateTime.Before(nextDay(*end)) {
		return false
	}
	if filterByCategory && item.CategoryID != categoryID {
		return false
	}
	return true
}

// Day returns a pointer to midnight of the given date in loc, for building filters.
func Day(year int, month time.Month, day int, loc *time.Location) *time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, loc)
	return &t
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func nextDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

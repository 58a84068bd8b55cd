package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	CategoryEvent CategoryType = iota
	CategoryAllDayEvent
	CategoryHoliday
	CategoryAvailability
)

type (
	// CategoryType classifies what kind of time a category represents.
	CategoryType int

	// Category groups events. Values are immutable once built.
	Category struct {
		id          int
		description string
		typ         CategoryType
	}

	// Event is a single dated entry referencing a category by id.
	// The reference is not checked when the event is built.
	Event struct {
		id         int
		start      time.Time
		categoryID int
		duration   float64
		details    string
	}

	// EventDraft describes an event whose id is assigned by a store.
	EventDraft struct {
		StartDateTime     time.Time
		CategoryID        int
		DurationInMinutes float64
		Details           string
	}
)

var (
	ErrInvalidDuration     = errors.New("invalid duration")
	ErrUnknownCategoryType = errors.New("unknown category type")
)

var categoryTypeNames = [...]string{
	CategoryEvent:        "Event",
	CategoryAllDayEvent:  "AllDayEvent",
	CategoryHoliday:      "Holiday",
	CategoryAvailability: "Availability",
}

// String returns the enum name, e.g. "AllDayEvent".
func (t CategoryType) String() string {
	if t < 0 || int(t) >= len(categoryTypeNames) {
		return fmt.Sprintf("CategoryType(%d)", int(t))
	}
	return categoryTypeNames[t]
}

// ParseCategoryType parses an enum name case-insensitively. Empty input yields CategoryEvent.
func ParseCategoryType(s string) (CategoryType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CategoryEvent, nil
	}
	for i, name := range categoryTypeNames {
		if strings.EqualFold(name, s) {
			return CategoryType(i), nil
		}
	}
	return CategoryEvent, fmt.Errorf("%w: %q", ErrUnknownCategoryType, s)
}

func (t CategoryType) MarshalText() ([]byte, error) {
	if t < 0 || int(t) >= len(categoryTypeNames) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCategoryType, int(t))
	}
	return []byte(t.String()), nil
}

func (t *CategoryType) UnmarshalText(b []byte) error {
	parsed, err := ParseCategoryType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// NewCategory builds a category. The type defaults to CategoryEvent when omitted.
func NewCategory(id int, description string, typ ...CategoryType) Category {
	c := Category{id: id, description: description, typ: CategoryEvent}
	if len(typ) > 0 {
		c.typ = typ[0]
	}
	return c
}

func (c Category) ID() int               { return c.id }
func (c Category) Description() string   { return c.description }
func (c Category) Type() CategoryType    { return c.typ }
func (c Category) String() string        { return c.description }
func (c Category) Equal(o Category) bool { return c.id == o.id }

// NewEvent builds an event. Negative durations are accepted; NaN and infinities are not.
func NewEvent(id int, start time.Time, categoryID int, durationInMinutes float64, details string) (Event, error) {
	if err := validateDuration(durationInMinutes); err != nil {
		return Event{}, err
	}
	return Event{
		id:         id,
		start:      start,
		categoryID: categoryID,
		duration:   durationInMinutes,
		details:    details,
	}, nil
}

// MustEvent is NewEvent for literals known to be valid. It panics otherwise.
func MustEvent(id int, start time.Time, categoryID int, durationInMinutes float64, details string) Event {
	e, err := NewEvent(id, start, categoryID, durationInMinutes, details)
	if err != nil {
		panic(err)
	}
	return e
}

func (e Event) ID() int                    { return e.id }
func (e Event) StartDateTime() time.Time   { return e.start }
func (e Event) CategoryID() int            { return e.categoryID }
func (e Event) DurationInMinutes() float64 { return e.duration }
func (e Event) Details() string            { return e.details }
func (e Event) Equal(o Event) bool         { return e.id == o.id }

// WithDuration returns a copy of e with a new duration.
func (e Event) WithDuration(durationInMinutes float64) (Event, error) {
	if err := validateDuration(durationInMinutes); err != nil {
		return Event{}, err
	}
	e.duration = durationInMinutes
	return e, nil
}

// WithDetails returns a copy of e with new details.
func (e Event) WithDetails(details string) Event {
	e.details = details
	return e
}

// Validate checks the draft the same way NewEvent checks an event.
func (d EventDraft) Validate() error {
	if d.StartDateTime.IsZero() {
		return errors.New("start date cannot be zero")
	}
	return validateDuration(d.DurationInMinutes)
}

// Event validates the draft and turns it into an event with the given id.
func (d EventDraft) Event(id int) (Event, error) {
	if err := d.Validate(); err != nil {
		return Event{}, err
	}
	return NewEvent(id, d.StartDateTime, d.CategoryID, d.DurationInMinutes, d.Details)
}

func validateDuration(d float64) error {
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidDuration, d)
	}
	return nil
}

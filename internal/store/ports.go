// Package store defines the persistence ports the calendar services depend on.
package store

import (
	"context"
	"errors"

	"homecal/internal/core"
)

var (
	// ErrNotFound is returned when an update or delete names an unknown id.
	ErrNotFound = errors.New("not found")
	// ErrInvalid is returned for input a store refuses to persist.
	ErrInvalid = errors.New("invalid input")
)

// Ports for outbound adapters.
type (
	CategoryStore interface {
		ListCategories(ctx context.Context) ([]core.Category, error)
		AddCategory(ctx context.Context, description string, typ core.CategoryType) (core.Category, error)
		DeleteCategory(ctx context.Context, id int) error
	}

	EventStore interface {
		ListEvents(ctx context.Context) ([]core.Event, error)
		AddEvent(ctx context.Context, draft core.EventDraft) (core.Event, error)
		UpdateEvent(ctx context.Context, id int, patch EventPatch) (core.Event, error)
		DeleteEvent(ctx context.Context, id int) error
	}

	// ImportStore keeps imported events grouped by the source they came from.
	ImportStore interface {
		// ReplaceSource drops every event previously imported from sourceID and
		// stores drafts in their place. It returns the number of events stored.
		ReplaceSource(ctx context.Context, sourceID string, drafts []core.EventDraft) (int, error)
	}

	// Store is the full persistence surface a backend provides.
	Store interface {
		CategoryStore
		EventStore
		ImportStore
		Close() error
	}
)

// EventPatch lists the event fields an update may change. Nil fields are kept.
type EventPatch struct {
	DurationInMinutes *float64
	Details           *string
}

// Apply returns e with the patch applied.
func (p EventPatch) Apply(e core.Event) (core.Event, error) {
	if p.DurationInMinutes != nil {
		var err error
		if e, err = e.WithDuration(*p.DurationInMinutes); err != nil {
			return core.Event{}, err
		}
	}
	if p.Details != nil {
		e = e.WithDetails(*p.Details)
	}
	return e, nil
}

// Snapshot is a full copy of a calendar, used to seed and persist stores.
type Snapshot struct {
	Categories []core.Category
	Events     []core.Event
	// Sources maps imported event ids to their source id.
	Sources map[int]string
}

package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"homecal/internal/core"
	"homecal/internal/store"
)

// PersistFunc receives the full calendar after every successful write.
// A failing PersistFunc rolls the write back.
type PersistFunc func(store.Snapshot) error

type Store struct {
	mu      sync.Mutex
	cats    []core.Category
	events  []core.Event
	sources map[int]string
	persist PersistFunc
}

func New(cats []core.Category, events []core.Event) *Store {
	return NewFromSnapshot(store.Snapshot{Categories: cats, Events: events})
}

// NewFromSnapshot seeds the store with a copy of snap.
func NewFromSnapshot(snap store.Snapshot) *Store {
	s := &Store{
		cats:    slices.Clone(snap.Categories),
		events:  slices.Clone(snap.Events),
		sources: maps.Clone(snap.Sources),
	}
	if s.sources == nil {
		s.sources = make(map[int]string)
	}
	return s
}

// WithPersist installs fn as the write-through hook and returns s.
func (s *Store) WithPersist(fn PersistFunc) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist = fn
	return s
}

// Snapshot returns a copy of the current calendar.
func (s *Store) Snapshot() store.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) ListCategories(_ context.Context) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.cats), nil
}

func (s *Store) AddCategory(_ context.Context, description string, typ core.CategoryType) (core.Category, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return core.Category{}, fmt.Errorf("%w: category description is empty", store.ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := 1
	for _, c := range s.cats {
		id = max(id, c.ID()+1)
	}
	c := core.NewCategory(id, description, typ)
	prev := s.cats
	s.cats = append(slices.Clone(s.cats), c)
	if err := s.flushLocked(); err != nil {
		s.cats = prev
		return core.Category{}, err
	}
	return c, nil
}

// DeleteCategory removes the category. Events that still reference it are
// kept and surface as missing-category errors at query time.
func (s *Store) DeleteCategory(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.cats, func(c core.Category) bool { return c.ID() == id })
	if i < 0 {
		return fmt.Errorf("category %d: %w", id, store.ErrNotFound)
	}
	prev := s.cats
	s.cats = slices.Delete(slices.Clone(s.cats), i, i+1)
	if err := s.flushLocked(); err != nil {
		s.cats = prev
		return err
	}
	return nil
}

func (s *Store) ListEvents(_ context.Context) ([]core.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events), nil
}

func (s *Store) AddEvent(_ context.Context, draft core.EventDraft) (core.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, err := draft.Event(s.nextEventIDLocked())
	if err != nil {
		return core.Event{}, fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}
	prev := s.events
	s.events = append(slices.Clone(s.events), ev)
	if err := s.flushLocked(); err != nil {
		s.events = prev
		return core.Event{}, err
	}
	return ev, nil
}

func (s *Store) UpdateEvent(_ context.Context, id int, patch store.EventPatch) (core.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.events, func(e core.Event) bool { return e.ID() == id })
	if i < 0 {
		return core.Event{}, fmt.Errorf("event %d: %w", id, store.ErrNotFound)
	}
	updated, err := patch.Apply(s.events[i])
	if err != nil {
		return core.Event{}, fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}
	prev := s.events
	s.events = slices.Clone(s.events)
	s.events[i] = updated
	if err := s.flushLocked(); err != nil {
		s.events = prev
		return core.Event{}, err
	}
	return updated, nil
}

func (s *Store) DeleteEvent(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.events, func(e core.Event) bool { return e.ID() == id })
	if i < 0 {
		return fmt.Errorf("event %d: %w", id, store.ErrNotFound)
	}
	prevEvents, prevSources := s.events, s.sources
	s.events = slices.Delete(slices.Clone(s.events), i, i+1)
	if _, ok := s.sources[id]; ok {
		s.sources = maps.Clone(s.sources)
		delete(s.sources, id)
	}
	if err := s.flushLocked(); err != nil {
		s.events, s.sources = prevEvents, prevSources
		return err
	}
	return nil
}

func (s *Store) ReplaceSource(_ context.Context, sourceID string, drafts []core.EventDraft) (int, error) {
	if sourceID == "" {
		return 0, fmt.Errorf("%w: source id is empty", store.ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prevEvents, prevSources := s.events, s.sources
	events := make([]core.Event, 0, len(s.events)+len(drafts))
	sources := make(map[int]string, len(s.sources)+len(drafts))
	for _, e := range s.events {
		if src, ok := s.sources[e.ID()]; ok && src == sourceID {
			continue
		}
		events = append(events, e)
	}
	for id, src := range s.sources {
		if src != sourceID {
			sources[id] = src
		}
	}

	s.events, s.sources = events, sources
	next := s.nextEventIDLocked()
	for _, d := range drafts {
		ev, err := d.Event(next)
		if err != nil {
			s.events, s.sources = prevEvents, prevSources
			return 0, fmt.Errorf("%w: %v", store.ErrInvalid, err)
		}
		s.events = append(s.events, ev)
		s.sources[next] = sourceID
		next++
	}
	if err := s.flushLocked(); err != nil {
		s.events, s.sources = prevEvents, prevSources
		return 0, err
	}
	return len(drafts), nil
}

func (s *Store) Close() error { return nil }

func (s *Store) nextEventIDLocked() int {
	id := 1
	for _, e := range s.events {
		id = max(id, e.ID()+1)
	}
	return id
}

func (s *Store) snapshotLocked() store.Snapshot {
	return store.Snapshot{
		Categories: slices.Clone(s.cats),
		Events:     slices.Clone(s.events),
		Sources:    maps.Clone(s.sources),
	}
}

func (s *Store) flushLocked() error {
	if s.persist == nil {
		return nil
	}
	if err := s.persist(s.snapshotLocked()); err != nil {
		return fmt.Errorf("persist calendar: %w", err)
	}
	return nil
}

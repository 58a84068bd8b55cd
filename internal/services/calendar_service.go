package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"homecal/internal/cache"
	"homecal/internal/core"
	"homecal/internal/metrics"
	"homecal/internal/store"
)

// Query views, also used as metric labels.
const (
	ViewItems      = "items"
	ViewByMonth    = "by_month"
	ViewByCategory = "by_category"
	ViewSummary    = "summary"
)

// loadTimeout bounds a snapshot load shared by concurrent callers.
const loadTimeout = 30 * time.Second

// ErrUnknownCategory is returned when a new event names a category that does not exist.
var ErrUnknownCategory = errors.New("unknown category")

// CalendarService runs calendar queries against the configured store and
// owns every write, so it can keep its result cache coherent. Every query
// returns a copy the caller may modify.
type CalendarService struct {
	store   store.Store
	cache   cache.Cache[any]
	metrics *metrics.Metrics

	group      singleflight.Group
	generation atomic.Uint64
}

// NewCalendarService wires a service. resultCache and m may be nil.
func NewCalendarService(st store.Store, resultCache cache.Cache[any], m *metrics.Metrics) *CalendarService {
	return &CalendarService{store: st, cache: resultCache, metrics: m}
}

// Items returns the filtered, time-ordered calendar items.
func (s *CalendarService) Items(ctx context.Context, f core.Filter) ([]core.CalendarItem, error) {
	return query(ctx, s, ViewItems, f, (*core.Engine).GetCalendarItems, slices.Clone[[]core.CalendarItem, core.CalendarItem])
}

// ByMonth returns the items grouped by month.
func (s *CalendarService) ByMonth(ctx context.Context, f core.Filter) ([]core.CalendarItemsByMonth, error) {
	return query(ctx, s, ViewByMonth, f, (*core.Engine).GetCalendarItemsByMonth, cloneByMonth)
}

// ByCategory returns the items grouped by category.
func (s *CalendarService) ByCategory(ctx context.Context, f core.Filter) ([]core.CalendarItemsByCategory, error) {
	return query(ctx, s, ViewByCategory, f, (*core.Engine).GetCalendarItemsByCategory, cloneByCategory)
}

// Summary returns the month by category busy time pivot.
func (s *CalendarService) Summary(ctx context.Context, f core.Filter) ([]core.MonthCategorySummary, error) {
	return query(ctx, s, ViewSummary, f, (*core.Engine).GetCalendarDictionaryByCategoryAndMonth, cloneSummary)
}

func query[T any](ctx context.Context, s *CalendarService, view string, f core.Filter, run func(*core.Engine, core.Filter) (T, error), clone func(T) T) (T, error) {
	var zero T
	started := time.Now()
	key := cacheKey(view, f, s.generation.Load())

	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			s.metrics.RecordCacheLookup(true)
			return clone(v.(T)), nil
		}
		s.metrics.RecordCacheLookup(false)
	}

	// The shared load must not die with whichever caller started it.
	ch := s.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		engine, err := s.engine(loadCtx)
		if err != nil {
			return nil, err
		}
		res, err := run(engine, f)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			s.cache.Set(key, res)
		}
		return res, nil
	})

	var (
		v      any
		err    error
		shared bool
	)
	select {
	case <-ctx.Done():
		s.metrics.QueryFailed(view, "canceled")
		return zero, ctx.Err()
	case r := <-ch:
		v, err, shared = r.Val, r.Err, r.Shared
	}
	if err != nil {
		reason := "store"
		if errors.Is(err, core.ErrMissingCategory) {
			reason = "missing_category"
		}
		s.metrics.QueryFailed(view, reason)
		slog.WarnContext(ctx, "Calendar query failed", "view", view, "reason", reason, "error", err)
		return zero, err
	}

	s.metrics.ObserveQuery(view, time.Since(started))
	slog.DebugContext(ctx, "Calendar query served", "view", view, "shared", shared, "duration_ms", time.Since(started).Milliseconds())
	return clone(v.(T)), nil
}

// Cached results are shared, so callers get deep copies.

func cloneByMonth(in []core.CalendarItemsByMonth) []core.CalendarItemsByMonth {
	out := slices.Clone(in)
	for i := range out {
		out[i].Items = slices.Clone(out[i].Items)
	}
	return out
}

func cloneByCategory(in []core.CalendarItemsByCategory) []core.CalendarItemsByCategory {
	out := slices.Clone(in)
	for i := range out {
		out[i].Items = slices.Clone(out[i].Items)
	}
	return out
}

func cloneSummary(in []core.MonthCategorySummary) []core.MonthCategorySummary {
	out := slices.Clone(in)
	for i := range out {
		out[i].Categories = slices.Clone(out[i].Categories)
		for j := range out[i].Categories {
			out[i].Categories[j].Items = slices.Clone(out[i].Categories[j].Items)
		}
	}
	return out
}

// engine loads categories and events concurrently and builds an engine over them.
func (s *CalendarService) engine(ctx context.Context) (*core.Engine, error) {
	var (
		cats   []core.Category
		events []core.Event
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cats, err = s.store.ListCategories(gctx)
		if err != nil {
			return fmt.Errorf("list categories: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		events, err = s.store.ListEvents(gctx)
		if err != nil {
			return fmt.Errorf("list events: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return core.NewEngine(core.EventList(events), core.NewCategorySet(cats)), nil
}

func cacheKey(view string, f core.Filter, generation uint64) string {
	bound := func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.Format(time.RFC3339Nano) + "@" + t.Location().String()
	}
	cat := "-"
	if f.FilterByCategory {
		cat = fmt.Sprint(f.CategoryID)
	}
	return fmt.Sprintf("%d|%s|%s|%s|%s", generation, view, bound(f.Start), bound(f.End), cat)
}

// Categories lists every category ordered by id.
func (s *CalendarService) Categories(ctx context.Context) ([]core.Category, error) {
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	cats = slices.Clone(cats)
	slices.SortFunc(cats, func(a, b core.Category) int { return a.ID() - b.ID() })
	return cats, nil
}

func (s *CalendarService) AddCategory(ctx context.Context, description string, typ core.CategoryType) (core.Category, error) {
	c, err := s.store.AddCategory(ctx, description, typ)
	s.written(ctx, "add_category", err)
	if err != nil {
		return core.Category{}, fmt.Errorf("add category: %w", err)
	}
	slog.InfoContext(ctx, "Category added", "category_id", c.ID(), "description", c.Description(), "type", c.Type().String())
	return c, nil
}

// DeleteCategory removes a category. Events still pointing at it make later
// queries fail with a MissingCategoryError until they are moved or deleted.
func (s *CalendarService) DeleteCategory(ctx context.Context, id int) error {
	err := s.store.DeleteCategory(ctx, id)
	s.written(ctx, "delete_category", err)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	slog.InfoContext(ctx, "Category deleted", "category_id", id)
	return nil
}

// AddEvent stores a new event. The category must exist.
func (s *CalendarService) AddEvent(ctx context.Context, draft core.EventDraft) (core.Event, error) {
	if err := draft.Validate(); err != nil {
		return core.Event{}, fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return core.Event{}, fmt.Errorf("list categories: %w", err)
	}
	if !slices.ContainsFunc(cats, func(c core.Category) bool { return c.ID() == draft.CategoryID }) {
		return core.Event{}, fmt.Errorf("category %d: %w", draft.CategoryID, ErrUnknownCategory)
	}

	ev, err := s.store.AddEvent(ctx, draft)
	s.written(ctx, "add_event", err)
	if err != nil {
		return core.Event{}, fmt.Errorf("add event: %w", err)
	}
	slog.InfoContext(ctx, "Event added", "event_id", ev.ID(), "category_id", ev.CategoryID(), "duration_minutes", ev.DurationInMinutes())
	return ev, nil
}

func (s *CalendarService) UpdateEvent(ctx context.Context, id int, patch store.EventPatch) (core.Event, error) {
	ev, err := s.store.UpdateEvent(ctx, id, patch)
	s.written(ctx, "update_event", err)
	if err != nil {
		return core.Event{}, fmt.Errorf("update event: %w", err)
	}
	slog.InfoContext(ctx, "Event updated", "event_id", id)
	return ev, nil
}

func (s *CalendarService) DeleteEvent(ctx context.Context, id int) error {
	err := s.store.DeleteEvent(ctx, id)
	s.written(ctx, "delete_event", err)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	slog.InfoContext(ctx, "Event deleted", "event_id", id)
	return nil
}

// Invalidate drops every cached result. Writes made directly against the
// store, such as imports, must call it.
func (s *CalendarService) Invalidate() {
	s.generation.Add(1)
	if s.cache != nil {
		s.cache.Purge()
	}
}

func (s *CalendarService) written(ctx context.Context, op string, err error) {
	s.metrics.RecordWrite(op, err)
	if err == nil {
		s.Invalidate()
		return
	}
	slog.WarnContext(ctx, "Calendar write failed", "operation", op, "error", err)
}

// Close releases the underlying store.
func (s *CalendarService) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"homecal/internal/cache"
	"homecal/internal/core"
	"homecal/internal/metrics"
	"homecal/internal/store"
	"homecal/internal/store/memory"
)

// countingStore counts event listings so tests can tell cache hits from misses.
type countingStore struct {
	*memory.Store
	listEvents atomic.Int32
	failList   error
}

func (c *countingStore) ListEvents(ctx context.Context) ([]core.Event, error) {
	c.listEvents.Add(1)
	if c.failList != nil {
		return nil, c.failList
	}
	return c.Store.ListEvents(ctx)
}

// slowStore blocks event listings until release is closed or the context ends.
type slowStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowStore) ListEvents(ctx context.Context) ([]core.Event, error) {
	s.once.Do(func() { close(s.entered) })
	select {
	case <-s.release:
		return s.Store.ListEvents(ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var (
	jan5  = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	jan20 = time.Date(2026, 1, 20, 14, 0, 0, 0, time.UTC)
	feb3  = time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC)
)

func newTestService(t *testing.T) (*CalendarService, *countingStore) {
	t.Helper()
	st := &countingStore{Store: memory.New(
		[]core.Category{core.NewCategory(1, "Work"), core.NewCategory(2, "Fun")},
		[]core.Event{
			core.MustEvent(1, jan20, 1, 60, "Review"),
			core.MustEvent(2, jan5, 1, 30, "Standup"),
			core.MustEvent(3, feb3, 2, 45, "Swim"),
		},
	)}
	return NewCalendarService(st, cache.NewLRUCache[any](32, time.Minute), metrics.New()), st
}

func TestCalendarServiceQueries(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	items, err := svc.Items(ctx, core.Filter{})
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if len(items) != 3 || items[0].EventID != 2 || items[2].EventID != 3 {
		t.Fatalf("unexpected items order: %+v", items)
	}

	months, err := svc.ByMonth(ctx, core.Filter{})
	if err != nil {
		t.Fatalf("ByMonth: %v", err)
	}
	if len(months) != 2 || months[0].TotalBusyTime != 90 || months[1].Month != "February 2026" {
		t.Fatalf("unexpected months: %+v", months)
	}

	cats, err := svc.ByCategory(ctx, core.Filter{FilterByCategory: true, CategoryID: 2})
	if err != nil {
		t.Fatalf("ByCategory: %v", err)
	}
	if len(cats) != 1 || cats[0].Category != "Fun" || cats[0].TotalBusyTime != 45 {
		t.Fatalf("unexpected categories: %+v", cats)
	}

	summary, err := svc.Summary(ctx, core.Filter{End: core.Day(2026, time.January, 31, time.UTC)})
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(summary) != 1 {
		t.Fatalf("expected one month, got %+v", summary)
	}
	if m, ok := summary[0].Minutes("Work"); !ok || m != 90 {
		t.Fatalf("expected 90 Work minutes, got %v %v", m, ok)
	}
}

func TestCalendarServiceCachesUntilWrite(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)

	for range 3 {
		if _, err := svc.Items(ctx, core.Filter{}); err != nil {
			t.Fatalf("Items: %v", err)
		}
	}
	if n := st.listEvents.Load(); n != 1 {
		t.Fatalf("expected one store read for repeated queries, got %d", n)
	}

	// A different filter is a different cache entry.
	if _, err := svc.Items(ctx, core.Filter{FilterByCategory: true, CategoryID: 1}); err != nil {
		t.Fatalf("Items: %v", err)
	}
	if n := st.listEvents.Load(); n != 2 {
		t.Fatalf("expected a store read for a new filter, got %d", n)
	}

	if _, err := svc.AddEvent(ctx, core.EventDraft{StartDateTime: feb3, CategoryID: 2, DurationInMinutes: 15, Details: "Walk"}); err != nil {
		t.Fatalf("AddEvent: %v", err)
	}
	items, err := svc.Items(ctx, core.Filter{})
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("expected the new event after a write, got %d items", len(items))
	}
	if n := st.listEvents.Load(); n != 3 {
		t.Fatalf("expected the write to invalidate the cache, got %d reads", n)
	}
}

func TestCalendarServiceWithoutCache(t *testing.T) {
	ctx := context.Background()
	st := &countingStore{Store: memory.New([]core.Category{core.NewCategory(1, "Work")}, nil)}
	svc := NewCalendarService(st, nil, nil)

	for range 2 {
		items, err := svc.Items(ctx, core.Filter{})
		if err != nil || len(items) != 0 {
			t.Fatalf("expected empty result, got %v %v", items, err)
		}
	}
	if n := st.listEvents.Load(); n != 2 {
		t.Fatalf("expected every query to hit the store, got %d", n)
	}
}

func TestCalendarServiceMissingCategory(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	if _, err := svc.Items(ctx, core.Filter{}); err != nil {
		t.Fatalf("Items: %v", err)
	}
	if err := svc.DeleteCategory(ctx, 2); err != nil {
		t.Fatalf("DeleteCategory: %v", err)
	}

	_, err := svc.Summary(ctx, core.Filter{FilterByCategory: true, CategoryID: 1})
	var missing *core.MissingCategoryError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingCategoryError, got %v", err)
	}
	if missing.EventID != 3 || missing.CategoryID != 2 {
		t.Fatalf("unexpected error fields: %+v", missing)
	}

	if err := svc.DeleteEvent(ctx, 3); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	if _, err := svc.Summary(ctx, core.Filter{}); err != nil {
		t.Fatalf("expected queries to recover once the event is gone, got %v", err)
	}
}

func TestCalendarServiceStoreError(t *testing.T) {
	svc, st := newTestService(t)
	boom := errors.New("disk on fire")
	st.failList = boom

	if _, err := svc.ByMonth(context.Background(), core.Filter{}); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestCalendarServiceWrites(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	c, err := svc.AddCategory(ctx, "Chores", core.CategoryAvailability)
	if err != nil || c.ID() != 3 {
		t.Fatalf("AddCategory: %v %v", c, err)
	}
	if _, err := svc.AddCategory(ctx, "  ", core.CategoryEvent); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for blank description, got %v", err)
	}

	cats, err := svc.Categories(ctx)
	if err != nil || len(cats) != 3 || cats[2].Description() != "Chores" {
		t.Fatalf("unexpected categories: %v %v", cats, err)
	}

	_, err = svc.AddEvent(ctx, core.EventDraft{StartDateTime: jan5, CategoryID: 99, DurationInMinutes: 10})
	if !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}
	_, err = svc.AddEvent(ctx, core.EventDraft{CategoryID: 1, DurationInMinutes: 10})
	if !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for a draft without start, got %v", err)
	}

	d := 120.0
	details := "Long review"
	ev, err := svc.UpdateEvent(ctx, 1, store.EventPatch{DurationInMinutes: &d, Details: &details})
	if err != nil || ev.DurationInMinutes() != 120 || ev.Details() != "Long review" {
		t.Fatalf("UpdateEvent: %+v %v", ev, err)
	}
	if _, err := svc.UpdateEvent(ctx, 404, store.EventPatch{Details: &details}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := svc.DeleteEvent(ctx, 404); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	items, err := svc.Items(ctx, core.Filter{FilterByCategory: true, CategoryID: 1})
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if items[1].EventID != 1 || items[1].BusyTime != 120 {
		t.Fatalf("update not visible in queries: %+v", items)
	}
}

func TestCalendarServiceConcurrentQueries(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			months, err := svc.ByMonth(ctx, core.Filter{})
			if err == nil && len(months) != 2 {
				err = errors.New("unexpected month count")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent query: %v", err)
		}
	}
}

func TestCacheKeyDistinguishesFilters(t *testing.T) {
	jan := core.Day(2026, time.January, 1, time.UTC)
	rome := core.Day(2026, time.January, 1, time.FixedZone("CET", 3600))
	keys := []string{
		cacheKey(ViewItems, core.Filter{}, 0),
		cacheKey(ViewItems, core.Filter{}, 1),
		cacheKey(ViewByMonth, core.Filter{}, 0),
		cacheKey(ViewItems, core.Filter{Start: jan}, 0),
		cacheKey(ViewItems, core.Filter{End: jan}, 0),
		cacheKey(ViewItems, core.Filter{Start: rome}, 0),
		cacheKey(ViewItems, core.Filter{FilterByCategory: true}, 0),
		cacheKey(ViewItems, core.Filter{FilterByCategory: true, CategoryID: 3}, 0),
	}
	seen := make(map[string]bool)
	for _, k := range keys {
		if seen[k] {
			t.Fatalf("duplicate cache key %q", k)
		}
		seen[k] = true
	}
	if cacheKey(ViewItems, core.Filter{CategoryID: 3}, 0) != cacheKey(ViewItems, core.Filter{}, 0) {
		t.Fatalf("category id without the flag must not change the key")
	}
}

func TestCalendarServiceCancelledCallerDoesNotFailOthers(t *testing.T) {
	st := &slowStore{
		Store: memory.New(
			[]core.Category{core.NewCategory(1, "Work")},
			[]core.Event{core.MustEvent(1, jan5, 1, 30, "Standup")},
		),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc := NewCalendarService(st, cache.NewLRUCache[any](8, time.Minute), nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Items(firstCtx, core.Filter{})
		firstErr <- err
	}()
	<-st.entered

	type result struct {
		items []core.CalendarItem
		err   error
	}
	second := make(chan result, 1)
	go func() {
		items, err := svc.Items(context.Background(), core.Filter{})
		second <- result{items, err}
	}()
	// Give the second caller time to join the in-flight load.
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the cancelled caller to see context.Canceled, got %v", err)
	}

	close(st.release)
	select {
	case r := <-second:
		if r.err != nil {
			t.Fatalf("second caller failed: %v", r.err)
		}
		if len(r.items) != 1 {
			t.Fatalf("expected one item, got %+v", r.items)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("second caller did not finish")
	}
}

func TestCalendarServiceResultsAreCopies(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)

	months, err := svc.ByMonth(ctx, core.Filter{})
	if err != nil {
		t.Fatalf("ByMonth: %v", err)
	}
	months[0].Items[0].Category = "tampered"
	months[0].TotalBusyTime = -1

	summary, err := svc.Summary(ctx, core.Filter{})
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	summary[0].Categories[0].Items[0].BusyTime = -1

	again, err := svc.ByMonth(ctx, core.Filter{})
	if err != nil {
		t.Fatalf("ByMonth: %v", err)
	}
	if again[0].Items[0].Category != "Work" || again[0].TotalBusyTime != 90 {
		t.Fatalf("cached result was modified through a returned value: %+v", again[0])
	}
	summaryAgain, err := svc.Summary(ctx, core.Filter{})
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summaryAgain[0].Categories[0].Items[0].BusyTime != 30 {
		t.Fatalf("cached summary was modified: %+v", summaryAgain[0].Categories[0].Items[0])
	}
	if n := st.listEvents.Load(); n != 2 {
		t.Fatalf("expected the repeated queries to be served from cache, got %d reads", n)
	}
}

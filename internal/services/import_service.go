package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"homecal/internal/ics"
	"homecal/internal/metrics"
	"homecal/internal/store"
)

// Fetcher reads the raw body of an ICS source.
type Fetcher interface {
	Fetch(ctx context.Context, src ics.Source) ([]byte, error)
}

// ImportOptions controls how feeds become events.
type ImportOptions struct {
	// Location is used for floating times and all-day dates.
	Location *time.Location
	// Window returns the range recurrences are expanded over.
	Window func(now time.Time) (time.Time, time.Time)
	// DefaultCategoryID receives occurrences that match no category when the
	// source names none. Zero drops them.
	DefaultCategoryID int
	Now               func() time.Time
}

// ImportResult describes one source import.
type ImportResult struct {
	SourceID    string
	Occurrences int
	Imported    int
	Dropped     int
}

// ImportService pulls ICS feeds into the store.
type ImportService struct {
	store      store.Store
	fetcher    Fetcher
	opts       ImportOptions
	metrics    *metrics.Metrics
	onImported func()
}

// NewImportService wires an importer. onImported runs after every source that
// changed the store, typically CalendarService.Invalidate.
func NewImportService(st store.Store, fetcher Fetcher, opts ImportOptions, m *metrics.Metrics, onImported func()) *ImportService {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Window == nil {
		opts.Window = func(now time.Time) (time.Time, time.Time) {
			return now.AddDate(0, 0, -90), now.AddDate(1, 0, 0)
		}
	}
	return &ImportService{store: st, fetcher: fetcher, opts: opts, metrics: m, onImported: onImported}
}

// ImportSource replaces every event previously imported from src with the
// occurrences its feed currently has inside the import window.
func (s *ImportService) ImportSource(ctx context.Context, src ics.Source) (res ImportResult, err error) {
	res.SourceID = src.ID
	started := s.opts.Now()
	defer func() {
		s.metrics.RecordImport(src.ID, res.Imported, err)
	}()

	body, err := s.fetcher.Fetch(ctx, src)
	if err != nil {
		return res, fmt.Errorf("source %s: %w", src.ID, err)
	}
	parsed, err := ics.Parse(body, s.opts.Location)
	if err != nil {
		return res, fmt.Errorf("source %s: %w", src.ID, err)
	}

	from, to := s.opts.Window(started.In(s.opts.Location))
	occs, err := ics.Expand(parsed, from, to, s.opts.Location)
	if err != nil {
		return res, fmt.Errorf("source %s: %w", src.ID, err)
	}
	res.Occurrences = len(occs)

	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return res, fmt.Errorf("source %s: list categories: %w", src.ID, err)
	}
	fallback := src.CategoryID
	if fallback == 0 {
		fallback = s.opts.DefaultCategoryID
	}
	drafts, dropped := ics.ToDrafts(occs, ics.NewCategoryResolver(cats, fallback))
	res.Dropped = dropped

	n, err := s.store.ReplaceSource(ctx, src.ID, drafts)
	if err != nil {
		return res, fmt.Errorf("source %s: replace events: %w", src.ID, err)
	}
	res.Imported = n
	if s.onImported != nil {
		s.onImported()
	}

	slog.InfoContext(ctx, "Imported ICS source",
		"source_id", src.ID,
		"source_url", ics.Redact(src.URL),
		"occurrences", res.Occurrences,
		"imported", res.Imported,
		"dropped", res.Dropped,
		"duration_ms", time.Since(started).Milliseconds())
	if dropped > 0 {
		slog.WarnContext(ctx, "Dropped ICS occurrences without a category",
			"source_id", src.ID, "dropped", dropped)
	}
	return res, nil
}

// ImportAll imports every source in turn. A failing source does not stop the
// others; their errors are joined.
func (s *ImportService) ImportAll(ctx context.Context, sources []ics.Source) ([]ImportResult, error) {
	results := make([]ImportResult, 0, len(sources))
	var errs []error
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := s.ImportSource(ctx, src)
		if err != nil {
			slog.ErrorContext(ctx, "ICS import failed", "source_id", src.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// Find returns the source with the given id.
func Find(sources []ics.Source, id string) (ics.Source, bool) {
	for _, src := range sources {
		if src.ID == id {
			return src, true
		}
	}
	return ics.Source{}, false
}

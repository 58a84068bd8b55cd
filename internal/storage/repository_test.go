package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"homecal/internal/core"
	"homecal/internal/store"
)

func newTestRepo(t *testing.T) (*SQLiteRepository, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "homecal.db")
	repo, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo, path
}

func TestMigrationsApplied(t *testing.T) {
	_, path := newTestRepo(t)
	v, dirty, err := SchemaVersion(path)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 1 || dirty {
		t.Fatalf("expected clean version 1, got %d dirty=%v", v, dirty)
	}
	// Running again is a no-op.
	if err := RunMigrations(path); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
}

func TestCategoriesRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	work, err := repo.AddCategory(ctx, "Work", core.CategoryEvent)
	if err != nil {
		t.Fatalf("AddCategory: %v", err)
	}
	hol, err := repo.AddCategory(ctx, "Canada Day", core.CategoryHoliday)
	if err != nil {
		t.Fatalf("AddCategory: %v", err)
	}
	if work.ID() != 1 || hol.ID() != 2 {
		t.Fatalf("expected ids 1 and 2, got %d and %d", work.ID(), hol.ID())
	}

	cats, err := repo.ListCategories(ctx)
	if err != nil {
		t.Fatalf("ListCategories: %v", err)
	}
	if len(cats) != 2 || cats[1].Type() != core.CategoryHoliday || cats[1].Description() != "Canada Day" {
		t.Fatalf("unexpected categories: %+v", cats)
	}

	if _, err := repo.AddCategory(ctx, "", core.CategoryEvent); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if err := repo.DeleteCategory(ctx, 42); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.DeleteCategory(ctx, work.ID()); err != nil {
		t.Fatalf("DeleteCategory: %v", err)
	}
}

func TestEventsRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	loc := time.FixedZone("EST", -5*3600)
	start := time.Date(2026, 1, 5, 9, 15, 30, 500, loc)
	ev, err := repo.AddEvent(ctx, core.EventDraft{StartDateTime: start, CategoryID: 7, DurationInMinutes: 62.5, Details: "Dentist"})
	if err != nil {
		t.Fatalf("AddEvent: %v", err)
	}
	if ev.ID() != 1 {
		t.Fatalf("expected id 1, got %d", ev.ID())
	}

	events, err := repo.ListEvents(ctx)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	got := events[0]
	if !got.StartDateTime().Equal(start) || got.CategoryID() != 7 || got.DurationInMinutes() != 62.5 || got.Details() != "Dentist" {
		t.Fatalf("unexpected event: start=%v cat=%d dur=%v details=%q", got.StartDateTime(), got.CategoryID(), got.DurationInMinutes(), got.Details())
	}
	if _, off := got.StartDateTime().Zone(); off != -5*3600 {
		t.Fatalf("expected original offset to survive, got %d", off)
	}

	details := "Dentist, follow-up"
	updated, err := repo.UpdateEvent(ctx, 1, store.EventPatch{Details: &details})
	if err != nil {
		t.Fatalf("UpdateEvent: %v", err)
	}
	if updated.Details() != details || updated.DurationInMinutes() != 62.5 {
		t.Fatalf("unexpected update result: %+v", updated)
	}
	if _, err := repo.UpdateEvent(ctx, 99, store.EventPatch{Details: &details}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := repo.DeleteEvent(ctx, 1); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	if err := repo.DeleteEvent(ctx, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestReplaceSource(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	if _, err := repo.AddEvent(ctx, core.EventDraft{StartDateTime: base, CategoryID: 1, DurationInMinutes: 30, Details: "manual"}); err != nil {
		t.Fatalf("AddEvent: %v", err)
	}
	drafts := []core.EventDraft{
		{StartDateTime: base.Add(time.Hour), CategoryID: 1, DurationInMinutes: 15, Details: "a"},
		{StartDateTime: base.Add(2 * time.Hour), CategoryID: 1, DurationInMinutes: 15, Details: "b"},
	}
	if n, err := repo.ReplaceSource(ctx, "work", drafts); err != nil || n != 2 {
		t.Fatalf("ReplaceSource: n=%d err=%v", n, err)
	}
	if n, err := repo.ReplaceSource(ctx, "work", drafts[:1]); err != nil || n != 1 {
		t.Fatalf("ReplaceSource again: n=%d err=%v", n, err)
	}

	events, err := repo.ListEvents(ctx)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected manual + 1 imported event, got %d", len(events))
	}

	run, err := repo.LastImport(ctx, "work")
	if err != nil {
		t.Fatalf("LastImport: %v", err)
	}
	if run.EventCount != 1 || run.ImportedAt.IsZero() {
		t.Fatalf("unexpected import run: %+v", run)
	}
	if _, err := repo.LastImport(ctx, "other"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	bad := []core.EventDraft{{CategoryID: 1, DurationInMinutes: 5}}
	if _, err := repo.ReplaceSource(ctx, "work", bad); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	events, _ = repo.ListEvents(ctx)
	if len(events) != 2 {
		t.Fatalf("failed import must leave the source untouched, got %d events", len(events))
	}
}

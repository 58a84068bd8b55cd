package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"homecal/internal/amqp"
	"homecal/internal/ics"
	"homecal/internal/services"
)

type fakeImporter struct {
	mu      sync.Mutex
	single  []string
	allRuns int
	err     error
}

func (f *fakeImporter) ImportSource(_ context.Context, src ics.Source) (services.ImportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.single = append(f.single, src.ID)
	return services.ImportResult{SourceID: src.ID, Imported: 2}, f.err
}

func (f *fakeImporter) ImportAll(_ context.Context, sources []ics.Source) ([]services.ImportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allRuns++
	out := make([]services.ImportResult, 0, len(sources))
	for _, s := range sources {
		out = append(out, services.ImportResult{SourceID: s.ID, Imported: 1})
	}
	return out, f.err
}

var testSources = []ics.Source{{ID: "work", URL: "https://example.com/work.ics"}, {ID: "school", URL: "/tmp/school.ics", CategoryID: 3}}

func TestHandleImportRequest(t *testing.T) {
	tests := []struct {
		name     string
		sourceID string
		wantAll  int
		wantOne  []string
	}{
		{name: "all sources", sourceID: "", wantAll: 1},
		{name: "single source", sourceID: "school", wantOne: []string{"school"}},
		{name: "unknown source is acknowledged", sourceID: "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			imp := &fakeImporter{}
			w := NewImportWorker(imp, testSources, 0)
			if err := w.HandleImportRequest(context.Background(), amqp.NewImportRequestMessage(tt.sourceID)); err != nil {
				t.Fatalf("HandleImportRequest: %v", err)
			}
			if imp.allRuns != tt.wantAll {
				t.Errorf("ImportAll runs = %d, want %d", imp.allRuns, tt.wantAll)
			}
			if len(imp.single) != len(tt.wantOne) || (len(tt.wantOne) > 0 && imp.single[0] != tt.wantOne[0]) {
				t.Errorf("ImportSource calls = %v, want %v", imp.single, tt.wantOne)
			}
		})
	}
}

func TestHandleImportRequestError(t *testing.T) {
	boom := errors.New("feed down")
	w := NewImportWorker(&fakeImporter{err: boom}, testSources, 0)
	if err := w.HandleImportRequest(context.Background(), amqp.NewImportRequestMessage("work")); !errors.Is(err, boom) {
		t.Fatalf("expected importer error, got %v", err)
	}
}

func TestRunAllWithoutSources(t *testing.T) {
	imp := &fakeImporter{}
	if err := NewImportWorker(imp, nil, 0).RunAll(context.Background()); err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if imp.allRuns != 0 {
		t.Fatalf("expected no import without sources")
	}
}

func TestSchedule(t *testing.T) {
	imp := &fakeImporter{}
	w := NewImportWorker(imp, testSources, 0)

	if _, err := w.Schedule(context.Background(), "not a schedule"); err == nil {
		t.Fatalf("expected error for invalid spec")
	}

	c, err := w.Schedule(context.Background(), "@every 1h")
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	entries := c.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected one scheduled job, got %d", len(entries))
	}
	entries[0].WrappedJob.Run()
	if imp.allRuns != 1 {
		t.Fatalf("expected the job to run every source, got %d runs", imp.allRuns)
	}
}

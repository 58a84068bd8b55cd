package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"homecal/internal/amqp"
	"homecal/internal/ics"
	"homecal/internal/services"
)

// Importer pulls ICS sources into the calendar store.
type Importer interface {
	ImportSource(ctx context.Context, src ics.Source) (services.ImportResult, error)
	ImportAll(ctx context.Context, sources []ics.Source) ([]services.ImportResult, error)
}

// ImportWorker runs ICS imports on a schedule and on request. Imports never
// overlap.
type ImportWorker struct {
	importer Importer
	sources  []ics.Source
	timeout  time.Duration

	mu sync.Mutex
}

// NewImportWorker creates a worker over the configured sources. timeout bounds
// a scheduled run; zero means ten minutes.
func NewImportWorker(importer Importer, sources []ics.Source, timeout time.Duration) *ImportWorker {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &ImportWorker{importer: importer, sources: sources, timeout: timeout}
}

// RunAll imports every configured source.
func (w *ImportWorker) RunAll(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.sources) == 0 {
		slog.DebugContext(ctx, "No ICS sources configured, skipping import")
		return nil
	}

	started := time.Now()
	results, err := w.importer.ImportAll(ctx, w.sources)
	imported := 0
	for _, r := range results {
		imported += r.Imported
	}
	slog.InfoContext(ctx, "Import run finished",
		"sources", len(w.sources),
		"succeeded", len(results),
		"imported", imported,
		"duration_ms", time.Since(started).Milliseconds())
	return err
}

// HandleImportRequest processes an import request from AMQP. Requests for
// unknown sources are logged and acknowledged.
func (w *ImportWorker) HandleImportRequest(ctx context.Context, msg *amqp.ImportRequestMessage) error {
	if msg.AllSources() {
		return w.RunAll(ctx)
	}

	src, ok := services.Find(w.sources, msg.SourceID)
	if !ok {
		slog.WarnContext(ctx, "Import requested for unknown source",
			"message_id", msg.ID,
			"source_id", msg.SourceID)
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.importer.ImportSource(ctx, src); err != nil {
		return fmt.Errorf("import %s: %w", src.ID, err)
	}
	return nil
}

// Schedule returns a stopped cron scheduler that runs RunAll on spec.
// Runs that would overlap a previous one are skipped.
func (w *ImportWorker) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug))
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	_, err := c.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, w.timeout)
		defer cancel()
		if err := w.RunAll(runCtx); err != nil {
			slog.ErrorContext(runCtx, "Scheduled import failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule imports %q: %w", spec, err)
	}
	return c, nil
}

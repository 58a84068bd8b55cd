package cli

import (
	"context"
	"fmt"
	"log/slog"

	"homecal/internal/backend"
	"homecal/internal/cache"
	"homecal/internal/config"
	"homecal/internal/ics"
	"homecal/internal/metrics"
	"homecal/internal/services"
)

// Calendar bundles the calendar service with the resources behind it.
type Calendar struct {
	Service *services.CalendarService
	Backend backend.Backend

	cacheManager *cache.Manager
	cleanup      backend.CleanupFunc
}

// OpenCalendar creates the configured backend and a calendar service over it.
// A zero CacheSize disables the query cache.
func OpenCalendar(ctx context.Context, logger *slog.Logger, cfg *config.Config, m *metrics.Metrics) (*Calendar, error) {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", bcfg.Type, err)
	}

	cal := &Calendar{Backend: res.Backend, cleanup: res.Cleanup}
	var resultCache cache.Cache[any]
	if cfg.CacheSize > 0 {
		lru := cache.NewLRUCache[any](cfg.CacheSize, cfg.CacheTTL)
		cal.cacheManager = cache.NewManager(func(removed int) {
			logger.Debug("Expired cached query results", "removed", removed)
		})
		cal.cacheManager.Register(lru)
		cal.cacheManager.StartCleanup(cfg.CacheTTL)
		resultCache = lru
	}
	cal.Service = services.NewCalendarService(res.Backend, resultCache, m)
	return cal, nil
}

// Close stops the cache sweeper and releases the backend.
func (c *Calendar) Close() error {
	if c.cacheManager != nil {
		c.cacheManager.Stop()
	}
	if c.cleanup != nil {
		return c.cleanup()
	}
	return nil
}

// Sources converts the configured ICS sources.
func Sources(cfg *config.Config) ([]ics.Source, error) {
	configured, err := cfg.Sources()
	if err != nil {
		return nil, err
	}
	out := make([]ics.Source, 0, len(configured))
	for _, s := range configured {
		out = append(out, ics.Source{ID: s.ID, URL: s.URL, CategoryID: s.CategoryID})
	}
	return out, nil
}

package http

import (
	"context"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"homecal/internal/amqp"
	"homecal/internal/core"
	"homecal/internal/ics"
	"homecal/internal/log"
	"homecal/internal/metrics"
	"homecal/internal/middleware/ratelimit"
	"homecal/internal/middleware/security"
	"homecal/internal/middleware/trace"
	"homecal/internal/store"
)

// Calendar is the calendar service the API serves.
type Calendar interface {
	Items(ctx context.Context, f core.Filter) ([]core.CalendarItem, error)
	ByMonth(ctx context.Context, f core.Filter) ([]core.CalendarItemsByMonth, error)
	ByCategory(ctx context.Context, f core.Filter) ([]core.CalendarItemsByCategory, error)
	Summary(ctx context.Context, f core.Filter) ([]core.MonthCategorySummary, error)
	Categories(ctx context.Context) ([]core.Category, error)
	AddCategory(ctx context.Context, description string, typ core.CategoryType) (core.Category, error)
	DeleteCategory(ctx context.Context, id int) error
	AddEvent(ctx context.Context, draft core.EventDraft) (core.Event, error)
	UpdateEvent(ctx context.Context, id int, patch store.EventPatch) (core.Event, error)
	DeleteEvent(ctx context.Context, id int) error
}

// ImportPublisher queues ICS import requests.
type ImportPublisher interface {
	PublishImportRequest(ctx context.Context, sourceID string) (*amqp.ImportRequestMessage, error)
}

// Options wires the server's collaborators. Only Calendar is required.
type Options struct {
	Calendar  Calendar
	Publisher ImportPublisher
	Sources   []ics.Source
	Metrics   *metrics.Metrics
	Logger    *log.Logger
	// Location is used to read query dates.
	Location *time.Location
	// CalendarName names the exported VCALENDAR.
	CalendarName string
	// WriteRateLimit caps state-changing requests per client per minute. Zero disables it.
	WriteRateLimit int
	TrustedProxies []netip.Prefix
}

type Server struct {
	http.Server
	calendar     Calendar
	publisher    ImportPublisher
	sources      []ics.Source
	metrics      *metrics.Metrics
	loc          *time.Location
	calendarName string
	limiter      *ratelimit.Limiter

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, opts Options) *Server {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.CalendarName == "" {
		opts.CalendarName = "homecal"
	}

	s := &Server{
		calendar:     opts.Calendar,
		publisher:    opts.Publisher,
		sources:      opts.Sources,
		metrics:      opts.Metrics,
		loc:          opts.Location,
		calendarName: opts.CalendarName,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics.Handler())
	}

	mux.HandleFunc("GET /api/items", s.handleItems)
	mux.HandleFunc("GET /api/items/by-month", s.handleByMonth)
	mux.HandleFunc("GET /api/items/by-category", s.handleByCategory)
	mux.HandleFunc("GET /api/summary", s.handleSummary)

	mux.HandleFunc("GET /api/categories", s.handleListCategories)
	mux.HandleFunc("POST /api/categories", s.handleCreateCategory)
	mux.HandleFunc("DELETE /api/categories/{id}", s.handleDeleteCategory)

	mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	mux.HandleFunc("PATCH /api/events/{id}", s.handleUpdateEvent)
	mux.HandleFunc("DELETE /api/events/{id}", s.handleDeleteEvent)

	mux.HandleFunc("POST /api/imports", s.handleCreateImport)
	mux.HandleFunc("GET /calendar.ics", s.handleExport)

	clientIP := security.NewClientIP(opts.TrustedProxies...)
	var handler http.Handler = mux
	if opts.WriteRateLimit > 0 {
		s.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.WriteRateLimit})
		handler = s.limiter.Writes(clientIP.Extract, func(w http.ResponseWriter, r *http.Request) {
			ErrorResponse(http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded, try again later").Write(w)
		})(handler)
	}
	handler = security.Headers(security.DefaultHeadersConfig())(handler)
	handler = trace.NewMiddleware(opts.Logger, clientIP.Extract, opts.Metrics).Handler(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Shutdown stops the rate limiter and gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.limiter != nil {
			s.limiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady reports ready once the store answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.calendar.Categories(ctx); err != nil {
		ServiceUnavailableError("store not ready").Write(w)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

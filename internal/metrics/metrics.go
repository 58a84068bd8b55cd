// Package metrics holds the Prometheus collectors for the calendar server and
// worker. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "homecal"

type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	queryErrors     *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	storeWrites     *prometheus.CounterVec
	importedEvents  *prometheus.CounterVec
	importRuns      *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Duration of calendar queries, cache misses only",
			Buckets:   prometheus.DefBuckets,
		}, []string{"view"}),
		queryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_errors_total",
			Help:      "Calendar queries that failed, by view and reason",
		}, []string{"view", "reason"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_cache_lookups_total",
			Help:      "Query cache lookups by result",
		}, []string{"result"}),
		storeWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_writes_total",
			Help:      "Calendar writes by operation and outcome",
		}, []string{"operation", "outcome"}),
		importedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imported_events_total",
			Help:      "Events stored by ICS imports, by source",
		}, []string{"source"}),
		importRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_runs_total",
			Help:      "ICS import runs by source and outcome",
		}, []string{"source", "outcome"}),
	}

	registry.MustRegister(
		m.requestDuration, m.requestTotal,
		m.queryDuration, m.queryErrors, m.cacheLookups,
		m.storeWrites, m.importedEvents, m.importRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler exposes the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	s := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, s).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, s).Inc()
}

func (m *Metrics) ObserveQuery(view string, duration time.Duration) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(view).Observe(duration.Seconds())
}

func (m *Metrics) QueryFailed(view, reason string) {
	if m == nil {
		return
	}
	m.queryErrors.WithLabelValues(view, reason).Inc()
}

func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordWrite(operation string, err error) {
	if m == nil {
		return
	}
	m.storeWrites.WithLabelValues(operation, outcome(err)).Inc()
}

func (m *Metrics) RecordImport(source string, events int, err error) {
	if m == nil {
		return
	}
	m.importRuns.WithLabelValues(source, outcome(err)).Inc()
	if err == nil {
		m.importedEvents.WithLabelValues(source).Add(float64(events))
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

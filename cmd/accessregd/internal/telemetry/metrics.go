package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ServerMetrics holds metric instruments for HTTP server telemetry.
type ServerMetrics struct {
	RequestCounter  metric.Int64Counter     // Total HTTP requests
	RequestDuration metric.Float64Histogram // HTTP request latency
	ErrorCounter    metric.Int64Counter     // Total HTTP errors (5xx)
}

// NewServerMetrics creates the HTTP server instruments.
func NewServerMetrics() (*ServerMetrics, error) {
	meter := otel.Meter("accessregd/http")

	requestCounter, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	// Buckets: 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s
	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"http.server.error.count",
		metric.WithDescription("Total number of HTTP server errors (5xx)"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &ServerMetrics{
		RequestCounter:  requestCounter,
		RequestDuration: requestDuration,
		ErrorCounter:    errorCounter,
	}, nil
}

// RecordRequest records an HTTP request with method, route, status, and duration.
func (m *ServerMetrics) RecordRequest(ctx context.Context, method, route, status string, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPRoute, route),
		attribute.String(AttrHTTPStatusCode, status),
	)

	m.RequestCounter.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, durationMs, attrs)
	if len(status) > 0 && status[0] == '5' {
		m.ErrorCounter.Add(ctx, 1, attrs)
	}
}

// Middleware records every request handled by next. The route label is the
// chi route pattern so ids do not explode cardinality.
func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RecordRequest(r.Context(), r.Method, route, strconv.Itoa(status),
			float64(time.Since(start).Microseconds())/1000)
	})
}

// CacheMetrics counts cache-aside outcomes.
type CacheMetrics struct {
	Lookups       metric.Int64Counter // lookups by status (HIT, MISS, BYPASS)
	Invalidations metric.Int64Counter // keys cleared by invalidation
	Degraded      metric.Int64Counter // failed cache operations
}

// NewCacheMetrics creates the cache instruments.
func NewCacheMetrics() (*CacheMetrics, error) {
	meter := otel.Meter("accessregd/cache")

	lookups, err := meter.Int64Counter(
		"cache.lookup.count",
		metric.WithDescription("Cache lookups by outcome"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	invalidations, err := meter.Int64Counter(
		"cache.invalidation.keys",
		metric.WithDescription("Cache keys cleared by invalidation"),
		metric.WithUnit("{key}"),
	)
	if err != nil {
		return nil, err
	}

	degraded, err := meter.Int64Counter(
		"cache.degraded.count",
		metric.WithDescription("Cache operations that failed and were skipped"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &CacheMetrics{
		Lookups:       lookups,
		Invalidations: invalidations,
		Degraded:      degraded,
	}, nil
}

// RecordLookup counts one cache lookup. Safe on a nil receiver.
func (c *CacheMetrics) RecordLookup(ctx context.Context, family, status string) {
	if c == nil {
		return
	}
	c.Lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrCacheFamily, family),
		attribute.String(AttrCacheStatus, status),
	))
}

// RecordInvalidation counts keys cleared for a family. Safe on a nil receiver.
func (c *CacheMetrics) RecordInvalidation(ctx context.Context, family string, keys int) {
	if c == nil {
		return
	}
	c.Invalidations.Add(ctx, int64(keys), metric.WithAttributes(attribute.String(AttrCacheFamily, family)))
}

// RecordDegraded counts one failed cache operation. Safe on a nil receiver.
func (c *CacheMetrics) RecordDegraded(ctx context.Context, operation string) {
	if c == nil {
		return
	}
	c.Degraded.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrCacheOperation, operation)))
}

// Metric attribute keys
const (
	AttrHTTPMethod     = "http.method"
	AttrHTTPRoute      = "http.route"
	AttrHTTPStatusCode = "http.status_code"

	AttrCacheFamily    = "cache.family"
	AttrCacheOperation = "cache.operation"
)

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a span for a service operation.
//
//	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerRegistry, "registry.UpsertGrant",
//	    attribute.String(telemetry.AttrAccountID, accountID),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records err on the span and marks the span failed. A nil err
// is ignored.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddEvent adds a named event to the span.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Tracer names
const (
	TracerRegistry = "accessregd/services/registry"
	TracerCache    = "accessregd/cache"
)

// Span attribute keys
const (
	AttrAccountID = "account.id"
	AttrSystemID  = "system.id"
	AttrGrantID   = "grant.id"
	AttrActor     = "lifecycle.actor"

	AttrCacheKey    = "cache.key"
	AttrCacheStatus = "cache.status"

	// Set on account deletes to the number of grants revoked with it
	AttrCascadeCount = "cascade.grants"
)

// Package correlation threads a correlation id from the request that emitted
// usage through the relay event that later bills it.
package correlation

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
)

// PayloadKey is the relay payload field that carries the correlation id.
const PayloadKey = "correlation_id"

type correlationKey struct{}

// ExtractCorrelationID fetches a correlation ID from the context if present.
func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(correlationKey{}).(string); ok {
		return val
	}
	return ""
}

// ContextWithCorrelationID sets the correlation ID onto the context.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// EnsureCorrelationID guarantees a correlation ID on the context, generating one when missing.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	cid := ExtractCorrelationID(ctx)
	if cid == "" {
		cid = ulid.Make().String()
	}
	return ContextWithCorrelationID(ctx, cid), cid
}

// InjectIntoPayload stamps the correlation and trace ids onto an event payload.
func InjectIntoPayload(ctx context.Context, payload map[string]any) {
	if payload == nil {
		return
	}
	if _, ok := payload[PayloadKey]; !ok {
		_, cid := EnsureCorrelationID(ctx)
		payload[PayloadKey] = cid
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		payload["trace_id"] = sc.TraceID().String()
	}
}

// ContextFromPayload restores the correlation id recorded by InjectIntoPayload.
func ContextFromPayload(ctx context.Context, payload map[string]any) context.Context {
	if cid, ok := payload[PayloadKey].(string); ok {
		return ContextWithCorrelationID(ctx, cid)
	}
	return ctx
}

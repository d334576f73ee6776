package telemetry

import (
	"context"
	"fmt"

	"github.com/delivery/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of every cashbox span
const TracerName = "cashbox"

// Span attribute keys
const (
	SpanAttrEntryID     = "cashbox.entry_id"
	SpanAttrEntryKind   = "cashbox.entry_kind"
	SpanAttrDirection   = "cashbox.direction"
	SpanAttrCategory    = "cashbox.category"
	SpanAttrActor       = "cashbox.actor"
	SpanAttrOrderID     = "cashbox.order_id"
	SpanAttrAmountUSD   = "cashbox.amount_usd"
	SpanAttrAmountLBP   = "cashbox.amount_lbp"
	SpanAttrRate        = "cashbox.rate"
	SpanAttrRule        = "cashbox.rule"
	SpanAttrAttempt     = "cashbox.attempt"
	SpanAttrErrorCode   = "error.code"
	SpanAttrMessageID   = "messaging.message.id"
	SpanAttrServiceName = "service.name"
	SpanAttrMethod      = "service.method"
)

// StartSpan starts a span from the global provider.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, name, opts...)
}

// StartServiceSpan starts an internal span named service.method.
func StartServiceSpan(ctx context.Context, service, method string) (context.Context, trace.Span) {
	return StartSpan(ctx, service+"."+method,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(SpanAttrServiceName, service),
			attribute.String(SpanAttrMethod, method),
		),
	)
}

// StartConsumerSpan starts a span for one stream message.
func StartConsumerSpan(ctx context.Context, stream, messageID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "consume "+stream,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "redis"),
			attribute.String("messaging.destination.name", stream),
			attribute.String(SpanAttrMessageID, messageID),
		),
	)
}

// SetAttributes sets key/value pairs on the span. Keys must be strings; odd tails are ignored.
func SetAttributes(span trace.Span, kv ...any) {
	if span == nil || !span.IsRecording() {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, toAttribute(key, kv[i+1]))
	}
	span.SetAttributes(attrs...)
}

// SetAmounts records both currencies of a movement on the span.
func SetAmounts(span trace.Span, usd, lbp decimal.Decimal) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.String(SpanAttrAmountUSD, usd.StringFixed(2)),
		attribute.String(SpanAttrAmountLBP, lbp.StringFixed(0)),
	)
}

// RecordError marks the span failed. Domain errors also carry their code.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if code := shared.CodeOf(err); code != "" {
		span.SetAttributes(attribute.String(SpanAttrErrorCode, code))
	}
}

// SetOK marks the span successful.
func SetOK(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds a named event with key/value attributes.
func AddEvent(span trace.Span, name string, kv ...any) {
	if span == nil || !span.IsRecording() {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			attrs = append(attrs, toAttribute(key, kv[i+1]))
		}
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// TraceID returns the trace id of the span in ctx, or an empty string.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// SpanID returns the span id of the span in ctx, or an empty string.
func SpanID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasSpanID() {
		return ""
	}
	return sc.SpanID().String()
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case decimal.Decimal:
		return attribute.String(key, v.String())
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

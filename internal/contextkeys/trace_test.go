package contextkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceIDFromContext(t *testing.T) {
	assert.Empty(t, TraceIDFromContext(context.Background()))

	ctx := ContextWithTraceID(context.Background(), "trace-1")
	assert.Equal(t, "trace-1", TraceIDFromContext(ctx))

	traceID := trace.TraceID{0x0a, 0x0b}
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: trace.SpanID{0x01}})
	ctx = trace.ContextWithSpanContext(context.Background(), spanCtx)
	assert.Equal(t, traceID.String(), TraceIDFromContext(ctx))

	// явно заданный trace_id важнее спана
	ctx = ContextWithTraceID(ctx, "trace-2")
	assert.Equal(t, "trace-2", TraceIDFromContext(ctx))
}

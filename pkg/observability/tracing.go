package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/foreman-dev/foreman"

// StartSpanFunc is the signature used to start trace spans; repositories
// take it as a dependency so tests can inject NoopStartSpan.
type StartSpanFunc func(ctx context.Context, name string) (context.Context, trace.Span)

// StartSpan starts a span using the globally registered tracer provider.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name)
}

// NoopStartSpan starts a span against a no-op tracer.
func NoopStartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return noop.NewTracerProvider().Tracer(tracerName).Start(ctx, name)
}

package commons

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/mysverse/worker-bank/pkg/commons/log"
	"github.com/mysverse/worker-bank/pkg/commons/opentelemetry/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type customContextKey string

// CustomContextKey is the context key under which request-scoped facilities
// are stored.
var CustomContextKey = customContextKey("custom_context")

// CustomContextKeyValue bundles the request-scoped facilities that travel
// with a context: correlation id, tracer, logger and metrics factory.
type CustomContextKeyValue struct {
	HeaderID      string
	Tracer        trace.Tracer
	Logger        log.Logger
	MetricFactory *metrics.MetricsFactory
}

// cloneContextValues copies the current bundle so setters never mutate a
// value shared with a parent context.
func cloneContextValues(ctx context.Context) CustomContextKeyValue {
	if prev, ok := ctx.Value(CustomContextKey).(*CustomContextKeyValue); ok && prev != nil {
		return *prev
	}

	return CustomContextKeyValue{}
}

// ContextWithLogger returns a child context carrying the given logger.
func ContextWithLogger(ctx context.Context, logger log.Logger) context.Context {
	values := cloneContextValues(ctx)
	values.Logger = logger

	return context.WithValue(ctx, CustomContextKey, &values)
}

// ContextWithTracer returns a child context carrying the given tracer.
func ContextWithTracer(ctx context.Context, tracer trace.Tracer) context.Context {
	values := cloneContextValues(ctx)
	values.Tracer = tracer

	return context.WithValue(ctx, CustomContextKey, &values)
}

// ContextWithHeaderID returns a child context carrying the given request id.
func ContextWithHeaderID(ctx context.Context, headerID string) context.Context {
	values := cloneContextValues(ctx)
	values.HeaderID = headerID

	return context.WithValue(ctx, CustomContextKey, &values)
}

// ContextWithMetricFactory returns a child context carrying the given
// metrics factory.
func ContextWithMetricFactory(ctx context.Context, factory *metrics.MetricsFactory) context.Context {
	values := cloneContextValues(ctx)
	values.MetricFactory = factory

	return context.WithValue(ctx, CustomContextKey, &values)
}

// NewLoggerFromContext extracts the logger from the context, falling back to
// the no-op logger so call sites never nil-check.
//
//nolint:ireturn
func NewLoggerFromContext(ctx context.Context) log.Logger {
	if values, ok := ctx.Value(CustomContextKey).(*CustomContextKeyValue); ok && values.Logger != nil {
		return values.Logger
	}

	return &log.NopLogger{}
}

// NewTrackingFromContext extracts logger, tracer, request id and metrics
// factory from the context. Every component falls back to a functional
// default, never nil: missing tracer resolves through the global provider,
// a missing request id gets a fresh UUID, metrics fall back to no-op.
//
//nolint:ireturn
func NewTrackingFromContext(ctx context.Context) (log.Logger, trace.Tracer, string, *metrics.MetricsFactory) {
	values, ok := ctx.Value(CustomContextKey).(*CustomContextKeyValue)
	if !ok || values == nil {
		return &log.NopLogger{}, otel.Tracer("worker-bank.default"), uuid.New().String(), metrics.NewNopFactory()
	}

	return resolveLogger(values.Logger),
		resolveTracer(values.Tracer),
		resolveHeaderID(values.HeaderID),
		resolveMetricFactory(values.MetricFactory)
}

//nolint:ireturn
func resolveLogger(logger log.Logger) log.Logger {
	if logger != nil {
		return logger
	}

	return &log.NopLogger{}
}

//nolint:ireturn
func resolveTracer(tracer trace.Tracer) trace.Tracer {
	if tracer != nil {
		return tracer
	}

	return otel.Tracer("worker-bank.default")
}

func resolveHeaderID(headerID string) string {
	if trimmed := strings.TrimSpace(headerID); trimmed != "" {
		return trimmed
	}

	return uuid.New().String()
}

func resolveMetricFactory(factory *metrics.MetricsFactory) *metrics.MetricsFactory {
	if factory != nil {
		return factory
	}

	return metrics.NewNopFactory()
}

package http

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mysverse/worker-bank/pkg/commons"
	"github.com/mysverse/worker-bank/pkg/commons/opentelemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMetricsCollectionInterval is the default interval for collecting
// system metrics. Override via METRICS_COLLECTION_INTERVAL.
const DefaultMetricsCollectionInterval = 5 * time.Second

var (
	metricsCollectorOnce     = &sync.Once{}
	metricsCollectorShutdown chan struct{}
	metricsCollectorMu       sync.Mutex
	metricsCollectorStarted  bool
)

// TelemetryMiddleware wires request tracing and the system metrics collector
// into the Fiber handler chain.
type TelemetryMiddleware struct {
	Telemetry *opentelemetry.Telemetry
}

// NewTelemetryMiddleware creates a new instance of TelemetryMiddleware.
func NewTelemetryMiddleware(tl *opentelemetry.Telemetry) *TelemetryMiddleware {
	return &TelemetryMiddleware{tl}
}

// WithTelemetry opens a server span per request, extracts any upstream trace
// context from the inbound headers, and plants tracer and metrics factory
// into the user context. Routes matching an excluded prefix are skipped.
func (tm *TelemetryMiddleware) WithTelemetry(excludedRoutes ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(excludedRoutes) > 0 && tm.isRouteExcluded(c, excludedRoutes) {
			return c.Next()
		}

		setRequestHeaderID(c)

		tracer := otel.Tracer(tm.Telemetry.LibraryName)
		spanName := c.Method() + " " + c.Route().Path

		traceCtx := opentelemetry.ExtractHTTPContext(c)

		ctx, span := tracer.Start(traceCtx, spanName, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		_, _, reqID, _ := commons.NewTrackingFromContext(ctx)

		span.SetAttributes(
			attribute.String("http.method", c.Method()),
			attribute.String("http.route", c.Route().Path),
			attribute.String("http.target", c.Path()),
			attribute.String("http.scheme", c.Protocol()),
			attribute.String("http.host", c.Hostname()),
			attribute.String("app.request.request_id", reqID),
		)

		ctx = commons.ContextWithTracer(ctx, tracer)
		ctx = commons.ContextWithMetricFactory(ctx, tm.Telemetry.MetricsFactory)

		c.SetUserContext(ctx)

		tm.ensureMetricsCollector()

		err := c.Next()

		span.SetAttributes(
			attribute.Int("http.status_code", c.Response().StatusCode()),
		)

		return err
	}
}

// EndTracingSpans ends any span still open on the user context after the
// handler chain returned.
func (tm *TelemetryMiddleware) EndTracingSpans(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if ctx == nil {
		return nil
	}

	err := c.Next()

	go func() {
		trace.SpanFromContext(ctx).End()
	}()

	return err
}

// getMetricsCollectionInterval returns the metrics collection interval,
// configurable via METRICS_COLLECTION_INTERVAL in Go duration format.
func getMetricsCollectionInterval() time.Duration {
	interval := commons.GetenvDurationOrDefault("METRICS_COLLECTION_INTERVAL", DefaultMetricsCollectionInterval)
	if interval <= 0 {
		return DefaultMetricsCollectionInterval
	}

	return interval
}

// ensureMetricsCollector starts the background CPU and memory gauge sampler
// on first use. The collector runs until StopMetricsCollector is called.
func (tm *TelemetryMiddleware) ensureMetricsCollector() {
	if tm.Telemetry == nil || tm.Telemetry.MetricsFactory == nil {
		return
	}

	metricsCollectorMu.Lock()
	defer metricsCollectorMu.Unlock()

	if metricsCollectorStarted {
		return
	}

	metricsCollectorOnce.Do(func() {
		factory := tm.Telemetry.MetricsFactory

		metricsCollectorShutdown = make(chan struct{})
		ticker := time.NewTicker(getMetricsCollectionInterval())

		go func() {
			ctx := context.Background()

			commons.GetCPUUsage(ctx, factory)
			commons.GetMemUsage(ctx, factory)

			for {
				select {
				case <-metricsCollectorShutdown:
					ticker.Stop()
					return
				case <-ticker.C:
					commons.GetCPUUsage(ctx, factory)
					commons.GetMemUsage(ctx, factory)
				}
			}
		}()

		metricsCollectorStarted = true
	})
}

// StopMetricsCollector stops the background metrics collector goroutine.
// Call during shutdown; the collector restarts on the next request, so the
// once guard is reset under the same mutex that Stop holds.
func StopMetricsCollector() {
	metricsCollectorMu.Lock()
	defer metricsCollectorMu.Unlock()

	if metricsCollectorStarted && metricsCollectorShutdown != nil {
		close(metricsCollectorShutdown)

		metricsCollectorStarted = false
		metricsCollectorOnce = &sync.Once{}
	}
}

func (tm *TelemetryMiddleware) isRouteExcluded(c *fiber.Ctx, excludedRoutes []string) bool {
	for _, route := range excludedRoutes {
		if strings.HasPrefix(c.Path(), route) {
			return true
		}
	}

	return false
}

// Package opentelemetry initializes the OTLP trace, metric and log pipelines
// and carries the span helpers used across the service.
package opentelemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/mysverse/worker-bank/pkg/commons/log"
	"github.com/mysverse/worker-bank/pkg/commons/opentelemetry/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNilTelemetryConfig indicates that a nil config was provided.
	ErrNilTelemetryConfig = errors.New("telemetry config cannot be nil")
	// ErrNilTelemetryLogger indicates that the config carries no logger.
	ErrNilTelemetryLogger = errors.New("telemetry config logger cannot be nil")
)

// TelemetryConfig describes the telemetry pipelines to build.
type TelemetryConfig struct {
	LibraryName               string
	ServiceName               string
	ServiceVersion            string
	DeploymentEnv             string
	CollectorExporterEndpoint string
	EnableTelemetry           bool
	Logger                    log.Logger
}

// Telemetry holds the initialized providers. When telemetry is disabled the
// providers are inert and shutdown is a no-op.
type Telemetry struct {
	TelemetryConfig
	TracerProvider *sdktrace.TracerProvider
	MetricProvider *sdkmetric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider
	MetricsFactory *metrics.MetricsFactory
	shutdown       func()
}

func (tl *TelemetryConfig) newResource() *sdkresource.Resource {
	return sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(tl.ServiceName),
		semconv.ServiceVersion(tl.ServiceVersion),
		semconv.DeploymentEnvironment(tl.DeploymentEnv),
		semconv.TelemetrySDKLanguageGo,
	)
}

func (tl *TelemetryConfig) newTracerExporter(ctx context.Context) (*otlptrace.Exporter, error) {
	return otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(tl.CollectorExporterEndpoint),
		otlptracegrpc.WithInsecure(),
	)
}

func (tl *TelemetryConfig) newMetricExporter(ctx context.Context) (*otlpmetricgrpc.Exporter, error) {
	return otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(tl.CollectorExporterEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
}

func (tl *TelemetryConfig) newLoggerExporter(ctx context.Context) (*otlploggrpc.Exporter, error) {
	return otlploggrpc.New(ctx,
		otlploggrpc.WithEndpoint(tl.CollectorExporterEndpoint),
		otlploggrpc.WithInsecure(),
	)
}

func (tl *TelemetryConfig) newTracerProvider(rsc *sdkresource.Resource, exp *otlptrace.Exporter) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(rsc),
	)
}

func (tl *TelemetryConfig) newMeterProvider(rsc *sdkresource.Resource, exp *otlpmetricgrpc.Exporter) *sdkmetric.MeterProvider {
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(rsc),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
	)
}

func (tl *TelemetryConfig) newLoggerProvider(rsc *sdkresource.Resource, exp *otlploggrpc.Exporter) *sdklog.LoggerProvider {
	return sdklog.NewLoggerProvider(
		sdklog.WithResource(rsc),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
	)
}

// InitializeTelemetryWithError builds the telemetry pipelines and registers
// the providers globally. With EnableTelemetry false it returns inert
// providers so call sites need no branching.
func InitializeTelemetryWithError(cfg *TelemetryConfig) (*Telemetry, error) {
	if cfg == nil {
		return nil, ErrNilTelemetryConfig
	}

	if cfg.Logger == nil {
		return nil, ErrNilTelemetryLogger
	}

	ctx := context.Background()
	logger := cfg.Logger

	if !cfg.EnableTelemetry {
		logger.Log(ctx, log.LevelWarn, "telemetry disabled")

		mp := sdkmetric.NewMeterProvider()
		tp := sdktrace.NewTracerProvider()
		lp := sdklog.NewLoggerProvider()

		factory, err := metrics.NewMetricsFactory(mp.Meter(cfg.LibraryName), logger)
		if err != nil {
			return nil, fmt.Errorf("can't build metrics factory: %w", err)
		}

		return &Telemetry{
			TelemetryConfig: *cfg,
			TracerProvider:  tp,
			MetricProvider:  mp,
			LoggerProvider:  lp,
			MetricsFactory:  factory,
			shutdown:        func() {},
		}, nil
	}

	logger.Log(ctx, log.LevelInfo, "initializing telemetry",
		log.String("endpoint", cfg.CollectorExporterEndpoint))

	rsc := cfg.newResource()

	tExp, err := cfg.newTracerExporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("can't initialize tracer exporter: %w", err)
	}

	mExp, err := cfg.newMetricExporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("can't initialize metric exporter: %w", err)
	}

	lExp, err := cfg.newLoggerExporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("can't initialize logger exporter: %w", err)
	}

	mp := cfg.newMeterProvider(rsc, mExp)
	otel.SetMeterProvider(mp)

	factory, err := metrics.NewMetricsFactory(mp.Meter(cfg.LibraryName), logger)
	if err != nil {
		return nil, fmt.Errorf("can't build metrics factory: %w", err)
	}

	tp := cfg.newTracerProvider(rsc, tExp)
	otel.SetTracerProvider(tp)

	lp := cfg.newLoggerProvider(rsc, lExp)
	global.SetLoggerProvider(lp)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	shutdownHandler := func() {
		for name, fn := range map[string]func(context.Context) error{
			"meter provider":  mp.Shutdown,
			"tracer provider": tp.Shutdown,
			"logger provider": lp.Shutdown,
		} {
			if err := fn(ctx); err != nil {
				logger.Log(ctx, log.LevelError, "can't shutdown "+name, log.Err(err))
			}
		}
	}

	logger.Log(ctx, log.LevelInfo, "telemetry initialized")

	return &Telemetry{
		TelemetryConfig: *cfg,
		TracerProvider:  tp,
		MetricProvider:  mp,
		LoggerProvider:  lp,
		MetricsFactory:  factory,
		shutdown:        shutdownHandler,
	}, nil
}

// ShutdownTelemetry flushes and stops the telemetry providers.
func (tl *Telemetry) ShutdownTelemetry() {
	if tl != nil && tl.shutdown != nil {
		tl.shutdown()
	}
}

// HandleSpanError records err on the span and marks its status as error.
func HandleSpanError(span *trace.Span, message string, err error) {
	if span != nil && err != nil {
		(*span).SetStatus(codes.Error, message+": "+err.Error())
		(*span).RecordError(err)
	}
}

// HandleSpanBusinessErrorEvent attaches a business failure as a span event
// without flipping the span status; business rejections are not transport
// errors.
func HandleSpanBusinessErrorEvent(span *trace.Span, eventName string, err error) {
	if span != nil && err != nil {
		(*span).AddEvent(eventName, trace.WithAttributes(attribute.String("error", err.Error())))
	}
}

// HandleSpanEvent attaches a plain event to the span.
func HandleSpanEvent(span *trace.Span, eventName string, attributes ...attribute.KeyValue) {
	if span != nil {
		(*span).AddEvent(eventName, trace.WithAttributes(attributes...))
	}
}

// InjectHTTPContext writes the current trace context into outgoing request
// headers.
func InjectHTTPContext(headers *http.Header, ctx context.Context) {
	carrier := propagation.HeaderCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	for k, v := range carrier {
		if len(v) > 0 {
			headers.Set(k, v[0])
		}
	}
}

// ExtractHTTPContext resolves the remote trace context from an incoming
// fiber request into the request's user context.
func ExtractHTTPContext(c *fiber.Ctx) context.Context {
	carrier := propagation.HeaderCarrier{}

	for key, values := range c.GetReqHeaders() {
		if len(values) > 0 {
			carrier.Set(key, values[0])
		}
	}

	return otel.GetTextMapPropagator().Extract(c.UserContext(), carrier)
}

// Package metrics wraps OpenTelemetry instruments behind a small factory so
// application code records metrics without holding meter plumbing.
package metrics

import (
	"context"
	"errors"
	"sync"

	"github.com/mysverse/worker-bank/pkg/commons/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// ErrNilMeter indicates that a nil OTel meter was provided.
var ErrNilMeter = errors.New("metric meter cannot be nil")

// MetricsFactory creates and caches instruments with lazy initialization.
// Safe for concurrent use.
type MetricsFactory struct {
	meter    metric.Meter
	counters sync.Map // string -> metric.Int64Counter
	gauges   sync.Map // string -> metric.Int64Gauge
	logger   log.Logger
}

// Metric describes an instrument to be created by the factory.
type Metric struct {
	Name        string
	Description string
	Unit        string
}

// Instruments recorded by the transaction gateway.
var (
	// MetricTransactionsCommitted counts transactions that reached the
	// committed terminal state.
	MetricTransactionsCommitted = Metric{
		Name:        "transactions_committed",
		Unit:        "1",
		Description: "Number of ledger transactions committed to the balance store.",
	}

	// MetricTransactionsRolledBack counts transactions that were compensated
	// after a commit failure.
	MetricTransactionsRolledBack = Metric{
		Name:        "transactions_rolled_back",
		Unit:        "1",
		Description: "Number of ledger transactions rolled back after a failed commit.",
	}

	// MetricNotificationsFailed counts downstream notification sends that
	// failed after a successful commit.
	MetricNotificationsFailed = Metric{
		Name:        "notifications_failed",
		Unit:        "1",
		Description: "Number of best-effort transaction notifications that failed to publish.",
	}
)

// NewMetricsFactory creates a factory bound to the given meter.
func NewMetricsFactory(meter metric.Meter, logger log.Logger) (*MetricsFactory, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}

	if logger == nil {
		logger = log.NewNop()
	}

	return &MetricsFactory{
		meter:  meter,
		logger: logger,
	}, nil
}

// NewNopFactory returns a factory backed by the no-op meter. Safe fallback
// when telemetry is disabled or not yet initialized.
func NewNopFactory() *MetricsFactory {
	return &MetricsFactory{
		meter:  noop.NewMeterProvider().Meter("nop"),
		logger: log.NewNop(),
	}
}

// Counter returns a fluent builder for the named counter, creating the
// instrument on first use.
func (f *MetricsFactory) Counter(m Metric) (*CounterBuilder, error) {
	counter, err := f.getOrCreateCounter(m)
	if err != nil {
		return nil, err
	}

	return &CounterBuilder{
		factory: f,
		counter: counter,
		name:    m.Name,
	}, nil
}

// Gauge returns a fluent builder for the named gauge, creating the
// instrument on first use.
func (f *MetricsFactory) Gauge(m Metric) (*GaugeBuilder, error) {
	gauge, err := f.getOrCreateGauge(m)
	if err != nil {
		return nil, err
	}

	return &GaugeBuilder{
		factory: f,
		gauge:   gauge,
		name:    m.Name,
	}, nil
}

// RecordSystemCPUUsage sets the system CPU usage gauge (percent).
func (f *MetricsFactory) RecordSystemCPUUsage(ctx context.Context, percent int64) error {
	gauge, err := f.Gauge(Metric{
		Name:        "system_cpu_usage",
		Unit:        "%",
		Description: "Current system CPU usage.",
	})
	if err != nil {
		return err
	}

	return gauge.Set(ctx, percent)
}

// RecordSystemMemUsage sets the system memory usage gauge (percent).
func (f *MetricsFactory) RecordSystemMemUsage(ctx context.Context, percent int64) error {
	gauge, err := f.Gauge(Metric{
		Name:        "system_mem_usage",
		Unit:        "%",
		Description: "Current system memory usage.",
	})
	if err != nil {
		return err
	}

	return gauge.Set(ctx, percent)
}

func (f *MetricsFactory) getOrCreateCounter(m Metric) (metric.Int64Counter, error) {
	if cached, ok := f.counters.Load(m.Name); ok {
		return cached.(metric.Int64Counter), nil
	}

	counter, err := f.meter.Int64Counter(m.Name,
		metric.WithDescription(m.Description),
		metric.WithUnit(m.Unit),
	)
	if err != nil {
		return nil, err
	}

	actual, _ := f.counters.LoadOrStore(m.Name, counter)

	return actual.(metric.Int64Counter), nil
}

func (f *MetricsFactory) getOrCreateGauge(m Metric) (metric.Int64Gauge, error) {
	if cached, ok := f.gauges.Load(m.Name); ok {
		return cached.(metric.Int64Gauge), nil
	}

	gauge, err := f.meter.Int64Gauge(m.Name,
		metric.WithDescription(m.Description),
		metric.WithUnit(m.Unit),
	)
	if err != nil {
		return nil, err
	}

	actual, _ := f.gauges.LoadOrStore(m.Name, gauge)

	return actual.(metric.Int64Gauge), nil
}

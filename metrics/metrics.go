// Package metrics wraps the OpenTelemetry meter provider the
// collector and supervisor report cycle, export and connection
// counters through. Metrics are opt-in: with an empty/zero
// Config every instrument resolves against a no-op meter
// provider and every Record* call is a safe no-op.
package metrics

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ExporterType selects which OpenTelemetry metrics exporter backs a
// Metrics instance.
type ExporterType string

const (
	ExporterNone     ExporterType = "none"
	ExporterStdout   ExporterType = "stdout"
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
)

// Config configures a Metrics instance. The zero value is metrics
// disabled.
type Config struct {
	Enabled      bool
	ServiceName  string
	Exporter     ExporterType
	OTLPEndpoint string
}

// Metrics is the meter facade the collector and supervisor packages
// depend on via collector.MetricsRecorder.
type Metrics struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	shutdown      func(context.Context) error

	cyclesCompleted metric.Int64Counter
	cyclesFailed    metric.Int64Counter
	recordsExported metric.Int64Counter
	exporterErrors  metric.Int64Counter

	connectedMu sync.Mutex
	connected   map[string]int64
	connGauge   metric.Int64ObservableGauge
}

// New builds a Metrics instance from cfg. A disabled configuration, or
// an exporter of "" or "none", gets a no-op meter provider; an enabled
// configuration naming an unknown exporter type returns an error.
func New(ctx context.Context, cfg Config) (*Metrics, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "modbustt"
	}

	m := &Metrics{connected: make(map[string]int64)}

	if !cfg.Enabled || cfg.Exporter == "" || cfg.Exporter == ExporterNone {
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		if err := m.registerInstruments(); err != nil {
			return nil, err
		}
		return m, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("metrics: create exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes("", semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("metrics: build resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	m.meterProvider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown

	if err := m.registerInstruments(); err != nil {
		return nil, err
	}
	return m, nil
}

func newExporter(ctx context.Context, cfg Config) (sdkmetric.Exporter, error) {
	switch cfg.Exporter {
	case ExporterStdout:
		return stdoutmetric.New()
	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown metrics exporter %q", cfg.Exporter)
	}
}

func (m *Metrics) registerInstruments() error {
	var err error

	m.cyclesCompleted, err = m.meter.Int64Counter(
		"modbustt.cycles.completed",
		metric.WithDescription("Acquisition cycles that read every configured register successfully"),
	)
	if err != nil {
		return fmt.Errorf("metrics: cycles.completed: %w", err)
	}

	m.cyclesFailed, err = m.meter.Int64Counter(
		"modbustt.cycles.failed",
		metric.WithDescription("Acquisition cycles dropped due to a register read failure"),
	)
	if err != nil {
		return fmt.Errorf("metrics: cycles.failed: %w", err)
	}

	m.recordsExported, err = m.meter.Int64Counter(
		"modbustt.records.exported",
		metric.WithDescription("Telemetry records successfully handed to an exporter"),
	)
	if err != nil {
		return fmt.Errorf("metrics: records.exported: %w", err)
	}

	m.exporterErrors, err = m.meter.Int64Counter(
		"modbustt.exporter.errors",
		metric.WithDescription("Exporter failures, including panics, isolated per exporter"),
	)
	if err != nil {
		return fmt.Errorf("metrics: exporter.errors: %w", err)
	}

	m.connGauge, err = m.meter.Int64ObservableGauge(
		"modbustt.collector.connected",
		metric.WithDescription("1 if the collector's device link is currently connected, else 0"),
	)
	if err != nil {
		return fmt.Errorf("metrics: collector.connected: %w", err)
	}

	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		m.connectedMu.Lock()
		defer m.connectedMu.Unlock()
		for deviceID, v := range m.connected {
			o.ObserveInt64(m.connGauge, v, metric.WithAttributes(attribute.String("device_id", deviceID)))
		}
		return nil
	}, m.connGauge)
	if err != nil {
		return fmt.Errorf("metrics: register connected callback: %w", err)
	}

	return nil
}

// RecordCycleCompleted implements collector.MetricsRecorder.
func (m *Metrics) RecordCycleCompleted(deviceID string) {
	m.cyclesCompleted.Add(context.Background(), 1, metric.WithAttributes(attribute.String("device_id", deviceID)))
}

// RecordCycleFailed implements collector.MetricsRecorder.
func (m *Metrics) RecordCycleFailed(deviceID, reason string) {
	m.cyclesFailed.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("device_id", deviceID),
		attribute.String("reason", reason),
	))
}

// RecordRecordExported implements collector.MetricsRecorder.
func (m *Metrics) RecordRecordExported(deviceID, exporterName string) {
	m.recordsExported.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("device_id", deviceID),
		attribute.String("exporter", exporterName),
	))
}

// RecordExporterError implements collector.MetricsRecorder.
func (m *Metrics) RecordExporterError(deviceID, exporterName string) {
	m.exporterErrors.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("device_id", deviceID),
		attribute.String("exporter", exporterName),
	))
}

// SetConnected implements collector.MetricsRecorder.
func (m *Metrics) SetConnected(deviceID string, connected bool) {
	v := int64(0)
	if connected {
		v = 1
	}
	m.connectedMu.Lock()
	m.connected[deviceID] = v
	m.connectedMu.Unlock()
}

// Shutdown flushes and releases the underlying meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

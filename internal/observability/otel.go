// Package observability wires OpenTelemetry for the engine: Prometheus
// metrics, OTLP traces and OTLP logs, plus the engine and security meters.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	defaultServiceName = "pg-engine"
	providerFlushLimit = 5 * time.Second
)

// Config describes the process to every provider. OTLPConfig is ignored by
// the meter provider, which is scraped over /metrics.
type Config struct {
	ServiceName      string
	ServiceVersion   string
	Environment      string
	TraceSampleRatio float64
	OTLPConfig       OTLPExporterConfig
}

// newResource carries no schema URL so merging with resource.Default
// cannot conflict.
func newResource(cfg Config) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes("",
		attribute.String("service.name", name),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// shutdownProvider flushes a provider within providerFlushLimit and logs
// the outcome under name.
func shutdownProvider(ctx context.Context, logger *slog.Logger, name string, shutdown func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, providerFlushLimit)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Error("failed to shutdown "+name, slog.String("error", err.Error()))
		return err
	}
	logger.Info(name + " shutdown successfully")
	return nil
}

// MeterProvider exposes engine metrics through a Prometheus reader.
type MeterProvider struct {
	provider *metric.MeterProvider
	exporter *prometheus.Exporter
}

// InitMeterProvider installs a global meter provider backed by Prometheus.
func InitMeterProvider(cfg Config) (*MeterProvider, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	return &MeterProvider{provider: provider, exporter: exporter}, nil
}

func (mp *MeterProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	return shutdownProvider(ctx, logger, "meter provider", mp.provider.Shutdown)
}

func (mp *MeterProvider) Exporter() *prometheus.Exporter {
	return mp.exporter
}

// TracerProvider batches spans to an OTLP collector.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// InitTracerProvider installs a global tracer provider exporting over OTLP.
func InitTracerProvider(cfg Config) (*TracerProvider, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}
	settings, err := resolveExport(cfg.OTLPConfig)
	if err != nil {
		return nil, err
	}
	exporter, err := newSpanExporter(context.Background(), settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(traceSamplerForRatio(cfg.TraceSampleRatio)),
	)
	otel.SetTracerProvider(provider)
	return &TracerProvider{provider: provider}, nil
}

// traceSamplerForRatio never samples at 0, always at 1 and otherwise
// follows the parent, sampling roots by ratio.
func traceSamplerForRatio(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0:
		return sdktrace.NeverSample()
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

func (tp *TracerProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	return shutdownProvider(ctx, logger, "tracer provider", tp.provider.Shutdown)
}

// LoggerProvider batches log records to an OTLP collector. It is not
// installed globally; the slog bridge takes it explicitly.
type LoggerProvider struct {
	provider *log.LoggerProvider
}

func InitLoggerProvider(cfg Config) (*LoggerProvider, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}
	settings, err := resolveExport(cfg.OTLPConfig)
	if err != nil {
		return nil, err
	}
	exporter, err := newLogExporter(context.Background(), settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
	}
	provider := log.NewLoggerProvider(
		log.WithResource(res),
		log.WithProcessor(log.NewBatchProcessor(exporter)),
	)
	return &LoggerProvider{provider: provider}, nil
}

func (lp *LoggerProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	return shutdownProvider(ctx, logger, "logger provider", lp.provider.Shutdown)
}

func (lp *LoggerProvider) Provider() *log.LoggerProvider {
	return lp.provider
}

// Package telemetry wires OpenTelemetry traces, metrics and logs.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bazaar/internal/config"
)

// Provider holds all telemetry providers for shutdown.
type Provider struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider
	Logger         *slog.Logger
}

// ParseLevel maps a config log level to a slog level. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup initializes OpenTelemetry traces, metrics and logs. Without an OTLP
// endpoint nothing is exported and logs go to stderr as JSON.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p := NewLocalProvider(os.Stderr, ParseLevel(cfg.LogLevel), res)
	if cfg.OTLPEndpoint != "" {
		if p, err = newOTLPProvider(ctx, cfg, res); err != nil {
			return nil, err
		}
	}
	otel.SetTracerProvider(p.TracerProvider)
	otel.SetMeterProvider(p.MeterProvider)
	return p, nil
}

// newOTLPProvider exports all three signals over OTLP/HTTP to cfg.OTLPEndpoint.
func newOTLPProvider(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource) (*Provider, error) {
	var (
		traceOpts  = []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
		metricOpts = []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint)}
		logOpts    = []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.OTLPEndpoint)}
	)
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
		logOpts = append(logOpts, otlploghttp.WithInsecure())
	}

	spans, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	measurements, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}
	records, err := otlploghttp.New(ctx, logOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating log exporter: %w", err)
	}

	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(records)),
		sdklog.WithResource(res),
	)
	return &Provider{
		TracerProvider: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(spans),
			sdktrace.WithResource(res),
		),
		MeterProvider: sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(measurements)),
			sdkmetric.WithResource(res),
		),
		LoggerProvider: lp,
		Logger:         otelslog.NewLogger(cfg.ServiceName, otelslog.WithLoggerProvider(lp)),
	}, nil
}

// NewLocalProvider returns providers that record spans and metrics in process
// only, with a JSON logger writing to w at level.
func NewLocalProvider(w io.Writer, level slog.Level, res *resource.Resource) *Provider {
	return &Provider{
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithResource(res)),
		MeterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)),
		LoggerProvider: sdklog.NewLoggerProvider(sdklog.WithResource(res)),
		Logger:         slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})),
	}
}

// Shutdown flushes and stops every provider, giving them ten seconds at most.
func (p *Provider) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return errors.Join(
		wrapShutdown("tracer", p.TracerProvider.Shutdown(ctx)),
		wrapShutdown("meter", p.MeterProvider.Shutdown(ctx)),
		wrapShutdown("logger", p.LoggerProvider.Shutdown(ctx)),
	)
}

func wrapShutdown(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s shutdown: %w", what, err)
}

// NewNopProvider returns providers that record nothing and a logger that
// discards everything.
func NewNopProvider() *Provider {
	return NewLocalProvider(io.Discard, slog.LevelError, resource.Empty())
}

// LogWithTrace returns a logger enriched with trace_id and span_id from the context.
func LogWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

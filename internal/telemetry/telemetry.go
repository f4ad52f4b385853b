// Package telemetry owns the process tracer provider. Components receive
// their tracer from Provider.Tracer instead of reaching for the otel global.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/trungvo-ux/windows97/internal/config"
)

const (
	instrumentationPrefix = "github.com/trungvo-ux/windows97/internal/"
	exporterInitTimeout   = 10 * time.Second
)

// Component names handed to Provider.Tracer.
const (
	ComponentAuth      = "service/auth"
	ComponentRateLimit = "ratelimit"
	ComponentGenAI     = "adapter/genai"
)

// Provider hands out per-component tracers and flushes spans on shutdown.
type Provider struct {
	tp       trace.TracerProvider
	shutdown func(ctx context.Context) error
}

// Tracer returns the tracer of component. A nil provider yields noop tracers.
func (p *Provider) Tracer(component string) trace.Tracer {
	if p == nil || p.tp == nil {
		return noop.NewTracerProvider().Tracer(instrumentationPrefix + component)
	}
	return p.tp.Tracer(instrumentationPrefix + component)
}

// Shutdown flushes exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// New installs the global tracer provider and propagators. Without an OTLP
// endpoint every tracer is a noop.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.TelemetryEndpoint == "" {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		logger.Debug("tracing disabled, no OTLP endpoint configured")
		return &Provider{tp: tp}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, exporterInitTimeout)
	defer cancel()

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ratio := clampRatio(cfg.TelemetrySampleRatio)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled",
		zap.String("endpoint", cfg.TelemetryEndpoint),
		zap.Float64("sample_ratio", ratio),
	)
	return &Provider{tp: tp, shutdown: tp.Shutdown}, nil
}

func newExporter(ctx context.Context, cfg config.Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.TelemetryEndpoint)}
	if cfg.TelemetryInsecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}
	return exp, nil
}

func newResource(ctx context.Context, cfg config.Config) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithProcess(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}
	return res, nil
}

func clampRatio(r float64) float64 {
	switch {
	case r <= 0:
		return 0
	case r >= 1:
		return 1
	}
	return r
}

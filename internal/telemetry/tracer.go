// Package telemetry installs the process-wide OpenTelemetry tracer provider
// and the W3C propagators used by the HTTP server and outbound clients.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"example.com/planwidget/internal/config"
)

// Options controls how spans are sampled, labelled and exported.
type Options struct {
	ServiceName string
	Environment string
	// SampleRatio is the fraction of new root traces recorded. Spans with a
	// sampled remote parent are always recorded.
	SampleRatio float64
	// Writer receives the exported spans; nil means stdout.
	Writer io.Writer
}

// OptionsFromConfig maps the telemetry config section onto Options.
func OptionsFromConfig(cfg config.TelemetryConfig) Options {
	return Options{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		SampleRatio: cfg.SampleRatio,
	}
}

// Setup installs the global tracer provider and propagators. The returned
// function flushes pending spans and must be called before exit.
func Setup(ctx context.Context, opts Options, logger *slog.Logger) (func(context.Context) error, error) {
	exporterOpts := []stdouttrace.Option{stdouttrace.WithoutTimestamps()}
	if opts.Writer != nil {
		exporterOpts = append(exporterOpts, stdouttrace.WithWriter(opts.Writer))
	}
	exporter, err := stdouttrace.New(exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("stdout exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			semconv.DeploymentEnvironment(opts.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("tracing enabled",
		"service", opts.ServiceName,
		"environment", opts.Environment,
		"sample_ratio", opts.SampleRatio,
	)
	return tp.Shutdown, nil
}

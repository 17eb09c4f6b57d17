package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

// Span exporters selectable for the voice daemon.
const (
	spansOTLP   = "otlp"
	spansStderr = "stderr"
	spansNone   = "none"
)

// observability owns the providers installed as otel globals for one run,
// plus the scrape handler over the daemon's own prometheus registry.
type observability struct {
	tracer  *sdktrace.TracerProvider
	meter   *sdkmetric.MeterProvider
	metrics http.Handler
	spans   string
}

func installObservability(ctx context.Context, cfg config.Config, logger *slog.Logger) (*observability, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.RuntimeName),
			semconv.ServiceInstanceID(cfg.Node.ID),
			semconv.DeploymentEnvironmentName(cfg.Environment),
			attribute.String("loqa.node.role", cfg.Node.Role),
			attribute.String("loqa.audio.mode", cfg.Audio.Mode),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	exporter, kind, err := spanExporter(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("span exporter %s: %w", kind, err)
	}
	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reader, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("prometheus reader: %w", err)
	}

	o := &observability{
		tracer:  sdktrace.NewTracerProvider(traceOpts...),
		meter:   sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res)),
		metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		spans:   kind,
	}
	otel.SetTracerProvider(o.tracer)
	otel.SetMeterProvider(o.meter)

	logger.Info("observability initialized",
		slog.String("spans", kind),
		slog.String("service", cfg.RuntimeName),
		slog.String("node_id", cfg.Node.ID))
	return o, nil
}

// spanExporter picks OTLP when an endpoint is configured, pretty spans on
// stderr at debug level, and no span export otherwise.
func spanExporter(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, string, error) {
	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		return exp, spansOTLP, err
	}
	if strings.EqualFold(cfg.LogLevel, "debug") {
		// stdout carries the JSON log.
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
		return exp, spansStderr, err
	}
	return nil, spansNone, nil
}

// Shutdown flushes pending spans and stops the meter.
func (o *observability) Shutdown(ctx context.Context) error {
	return errors.Join(o.meter.Shutdown(ctx), o.tracer.Shutdown(ctx))
}

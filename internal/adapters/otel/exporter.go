package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	serviceName    = "msplit"
	serviceVersion = "1.0.0"
)

// Exporter exports experiment counters to an OTEL Collector.
type Exporter struct {
	provider       *sdkmetric.MeterProvider
	participations metric.Int64Counter
	completions    metric.Int64Counter
	failovers      metric.Int64Counter
}

// NewExporter creates a new OTEL metrics exporter that pushes over OTLP/gRPC.
func NewExporter(ctx context.Context, cfg Config) (*Exporter, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return nil, fmt.Errorf("OTEL exporter is disabled or endpoint not configured")
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	return NewExporterWithReader(ctx, sdkmetric.NewPeriodicReader(exp))
}

// NewExporterWithReader builds the exporter on any metric reader. Tests pass a
// sdkmetric.ManualReader.
func NewExporterWithReader(ctx context.Context, reader sdkmetric.Reader) (*Exporter, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	participations, err := meter.Int64Counter(
		"msplit_participations_total",
		metric.WithDescription("Visitors newly assigned to an alternative"),
		metric.WithUnit("{visitor}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating participations counter: %w", err)
	}

	completions, err := meter.Int64Counter(
		"msplit_completions_total",
		metric.WithDescription("Conversions recorded for an alternative"),
		metric.WithUnit("{visitor}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating completions counter: %w", err)
	}

	failovers, err := meter.Int64Counter(
		"msplit_failovers_total",
		metric.WithDescription("Store failures absorbed by failover"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failovers counter: %w", err)
	}

	return &Exporter{
		provider:       provider,
		participations: participations,
		completions:    completions,
		failovers:      failovers,
	}, nil
}

func (e *Exporter) RecordParticipation(ctx context.Context, experiment, alternative string) {
	e.participations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("experiment", experiment),
		attribute.String("alternative", alternative),
	))
}

func (e *Exporter) RecordCompletion(ctx context.Context, experiment, alternative string) {
	e.completions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("experiment", experiment),
		attribute.String("alternative", alternative),
	))
}

func (e *Exporter) RecordFailover(ctx context.Context, experiment, operation string) {
	e.failovers.Add(ctx, 1, metric.WithAttributes(
		attribute.String("experiment", experiment),
		attribute.String("operation", operation),
	))
}

// Close shuts down the exporter and flushes any pending metrics.
func (e *Exporter) Close(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}

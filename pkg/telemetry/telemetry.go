package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// Exporter names accepted by WithExporter.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// ShutdownFunc is a function that cleans up telemetry resources.
type ShutdownFunc func(context.Context) error

type settings struct {
	exporter     string
	otlpEndpoint string
	otlpInsecure bool
	attrs        []attribute.KeyValue
}

// Option configures telemetry initialization.
type Option func(*settings)

// WithExporter selects the exporter: ExporterStdout or ExporterOTLP.
func WithExporter(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.exporter = name
		}
	}
}

// WithOTLPEndpoint sets the collector endpoint for the OTLP exporter.
func WithOTLPEndpoint(endpoint string) Option {
	return func(s *settings) { s.otlpEndpoint = endpoint }
}

// WithInsecureOTLP disables transport security on the OTLP connection.
func WithInsecureOTLP() Option {
	return func(s *settings) { s.otlpInsecure = true }
}

// WithResourceAttributes appends extra resource attributes, e.g. a
// deployment environment.
func WithResourceAttributes(attrs ...attribute.KeyValue) Option {
	return func(s *settings) { s.attrs = append(s.attrs, attrs...) }
}

// Init wires tracer and meter providers for the runtime and registers them
// globally. The default stdout exporter suits local runs; production
// deployments point the OTLP exporter at a collector.
func Init(serviceName, version string, opts ...Option) (ShutdownFunc, error) {
	s := settings{exporter: ExporterStdout}
	for _, opt := range opts {
		opt(&s)
	}

	attrs := append([]attribute.KeyValue{
		semconv.ServiceNamespace("praxis"),
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
	}, s.attrs...)
	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, attrs...))
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	spanExporter, metricExporter, err := s.exporters(context.Background())
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(spanExporter, trace.WithBatchTimeout(time.Second)),
		trace.WithResource(res),
	)
	mp := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(metricExporter, metric.WithInterval(time.Minute))),
		metric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func (s settings) exporters(ctx context.Context) (trace.SpanExporter, metric.Exporter, error) {
	switch s.exporter {
	case ExporterStdout:
		spanExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
		metricExporter, err := stdoutmetric.New()
		if err != nil {
			return nil, nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		return spanExporter, metricExporter, nil

	case ExporterOTLP:
		if s.otlpEndpoint == "" {
			return nil, nil, fmt.Errorf("otlp endpoint is required")
		}
		traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(s.otlpEndpoint)}
		metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(s.otlpEndpoint)}
		if s.otlpInsecure {
			traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
			metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		}
		spanExporter, err := otlptracegrpc.New(ctx, traceOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("create otlp trace exporter: %w", err)
		}
		metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("create otlp metric exporter: %w", err)
		}
		return spanExporter, metricExporter, nil

	default:
		return nil, nil, fmt.Errorf("unknown telemetry exporter %q", s.exporter)
	}
}

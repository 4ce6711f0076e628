package observability

import (
	"context"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
)

// ExporterKind names the span exporter chosen from the environment.
type ExporterKind string

const (
	ExporterNone   ExporterKind = "none"
	ExporterOTLP   ExporterKind = "otlp"
	ExporterStdout ExporterKind = "stdout"
)

// exporterFromEnv picks OTLP when an endpoint is set, stdout when OTEL_STDOUT is true.
func exporterFromEnv() ExporterKind {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		return ExporterOTLP
	}
	if on, _ := strconv.ParseBool(os.Getenv("OTEL_STDOUT")); on {
		return ExporterStdout
	}
	return ExporterNone
}

// InitTracer initializes an OpenTelemetry tracer.
// With no exporter configured the global no-op provider stays in place.
func InitTracer(ctx context.Context, serviceName string, log *zap.Logger) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter
	var err error

	kind := exporterFromEnv()
	switch kind {
	case ExporterOTLP:
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithInsecure())
		if err != nil {
			return nil, errors.Wrap(err, "failed to create OTLP exporter")
		}
	case ExporterStdout:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, errors.Wrap(err, "failed to create stdout exporter")
		}
	default:
		log.Debug("tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resource")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	log.Info("tracing enabled", zap.String("exporter", string(kind)))
	return tp.Shutdown, nil
}

package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/hive-corporation/cticollector/internal/logger"
)

// Options selects where spans go. An empty Endpoint keeps spans in process:
// they still carry valid trace ids for logs and NATS headers but are not
// exported.
type Options struct {
	Service  string
	Endpoint string // OTLP gRPC collector, host:port
	Insecure bool
}

// Init installs a global tracer provider and the W3C trace context
// propagator. Call the returned function on shutdown to flush spans.
func Init(ctx context.Context, opts Options) (func(context.Context) error, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", opts.Service),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build tracing resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if opts.Endpoint != "" {
		expOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Endpoint)}
		if opts.Insecure {
			expOpts = append(expOpts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, expOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter for %s: %w", opts.Endpoint, err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	if opts.Endpoint != "" {
		logger.Log().Infof("🔭 Tracing exported to %s", opts.Endpoint)
	} else {
		logger.Log().Debug("tracing enabled without exporter")
	}
	return tp.Shutdown, nil
}

// Flush runs shutdown with a short deadline of its own.
func Flush(ctx context.Context, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Log().WithError(err).Warn("⚠️ Failed to flush traces")
	}
}

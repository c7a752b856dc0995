package observability

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/fathima-sithara/jobboard-chat/internal/config"
)

// Shutdown flushes and releases the tracer provider.
type Shutdown func(ctx context.Context) error

// Setup installs the global tracer provider. Spans are exported over OTLP/HTTP
// when enabled, otherwise they are recorded and dropped.
func Setup(ctx context.Context, cfg config.OTelConfig, env string, logger *zap.SugaredLogger) (Shutdown, error) {
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("deployment.environment", env),
	))
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.Enabled && cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		insecure := cfg.Insecure
		switch {
		case strings.HasPrefix(endpoint, "http://"):
			endpoint, insecure = strings.TrimPrefix(endpoint, "http://"), true
		case strings.HasPrefix(endpoint, "https://"):
			endpoint, insecure = strings.TrimPrefix(endpoint, "https://"), false
		}
		exOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if insecure {
			exOpts = append(exOpts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, exOpts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter), sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())))
		logger.Infow("tracing enabled", "endpoint", cfg.Endpoint)
	} else {
		logger.Infow("tracing export disabled")
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

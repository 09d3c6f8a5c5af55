package tracing

import (
	"context"
	"fmt"
	"log"

	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ServiceName identifies this service in traces and HTTP spans
const ServiceName = "ldapauth"

// Config holds tracing configuration. Tracing is disabled when Endpoint is empty.
type Config struct {
	Endpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure bool   `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"false"`
}

// LoadConfig loads tracing configuration from environment variables
func LoadConfig() (*Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return nil, fmt.Errorf("failed to process tracing configuration: %w", err)
	}
	return &config, nil
}

// ShutdownFunc flushes and stops the tracer provider
type ShutdownFunc func(ctx context.Context) error

// Init installs the global tracer provider exporting spans over OTLP/gRPC.
// Without an endpoint the global no-op provider stays in place.
func Init(ctx context.Context, config *Config) (ShutdownFunc, error) {
	if config.Endpoint == "" {
		log.Println("[INFO] Tracing: Disabled (no OTLP endpoint configured)")
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", ServiceName))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Printf("[INFO] Tracing: Exporting spans to %s", config.Endpoint)
	return provider.Shutdown, nil
}

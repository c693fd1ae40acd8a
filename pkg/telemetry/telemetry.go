// Package telemetry builds the OpenTelemetry TracerProvider that traces login
// attempts. Each attempt gets its own provider; Shutdown flushes the spans
// before the host process regains control.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const (
	DefaultServiceName = "ssh-with-gh"

	// TracerName is the instrumentation scope of login spans.
	TracerName = "github.com/Paulkm2006/ssh-github-auth/pkg/login"

	shutdownTimeout = 3 * time.Second
)

type Options struct {
	// Enabled controls whether tracing is active. When false a no-op
	// provider is returned.
	Enabled bool

	ServiceName    string
	ServiceVersion string

	// Exporter selects the trace exporter: "otlp" (default), "stdout", or "none".
	Exporter string

	// Endpoint is the OTLP gRPC collector endpoint, e.g. "otel-collector:4317".
	Endpoint string

	// Insecure disables TLS for the OTLP connection.
	Insecure bool

	// SamplingRate is the probability of sampling an attempt (0.0-1.0).
	SamplingRate float64

	// Writer receives stdout exporter output. Defaults to os.Stderr, since
	// stdout may belong to the PAM application.
	Writer io.Writer

	Logger *zap.SugaredLogger
}

// ShutdownFunc flushes pending spans and releases the exporter.
type ShutdownFunc func(ctx context.Context) error

// Init returns a TracerProvider for one attempt. The provider is not
// installed globally.
func Init(ctx context.Context, opts Options) (trace.TracerProvider, ShutdownFunc, error) {
	if !opts.Enabled {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}

	if opts.ServiceName == "" {
		opts.ServiceName = DefaultServiceName
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.SamplingRate <= 0 || opts.SamplingRate > 1.0 {
		if opts.SamplingRate != 0 {
			log.Warnw("Tracing sampling rate out of range, sampling every attempt", "provided", opts.SamplingRate)
		}
		opts.SamplingRate = 1.0
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", opts.ServiceName),
			attribute.String("service.version", opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating OTel resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch opts.Exporter {
	case "otlp", "":
		grpcOpts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(opts.Endpoint),
		}
		if opts.Insecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("creating OTLP gRPC exporter: %w", err)
		}
	case "stdout":
		w := opts.Writer
		if w == nil {
			w = os.Stderr
		}
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
	case "none":
	default:
		return nil, nil, fmt.Errorf("unknown OTel exporter %q: supported values are otlp, stdout, none", opts.Exporter)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(
			sdktrace.TraceIDRatioBased(opts.SamplingRate),
		)),
	}
	if exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warnw("OpenTelemetry internal error", "error", err)
	}))
	log.Debugw("Tracing initialized", "exporter", opts.Exporter, "endpoint", opts.Endpoint,
		"samplingRate", opts.SamplingRate)

	shutdown := func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	}
	return tp, shutdown, nil
}

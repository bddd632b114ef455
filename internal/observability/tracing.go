package observability

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/lmux/antenna-coverage/core"
	"github.com/lmux/antenna-coverage/internal/logging"
)

// Service names reported by the coverage binaries.
const (
	ServiceServer = "coverage-server"
	ServiceCLI    = "coverage"
)

// TracingConfig governs how a coverage binary exports spans.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string // stdout | otlp
	Endpoint    string // used when Exporter == otlp
	SampleRatio float64

	// Writer receives stdout-exporter output; nil means os.Stdout.
	Writer io.Writer
	// Attributes are added to the tracer resource.
	Attributes []attribute.KeyValue
}

// TracingConfigFromEnv reads COVERAGE_TRACING_* variables. service names
// the binary when COVERAGE_TRACING_SERVICE_NAME is unset. An out-of-range
// COVERAGE_TRACING_SAMPLE_RATIO samples everything.
func TracingConfigFromEnv(service string) TracingConfig {
	cfg := TracingConfig{
		Enabled:     strings.EqualFold(os.Getenv("COVERAGE_TRACING_ENABLED"), "true"),
		ServiceName: cmp.Or(os.Getenv("COVERAGE_TRACING_SERVICE_NAME"), service),
		Exporter:    cmp.Or(strings.ToLower(os.Getenv("COVERAGE_TRACING_EXPORTER")), "stdout"),
		Endpoint:    os.Getenv("COVERAGE_OTLP_ENDPOINT"),
		SampleRatio: 1,
	}
	if r, err := strconv.ParseFloat(os.Getenv("COVERAGE_TRACING_SAMPLE_RATIO"), 64); err == nil && r >= 0 && r <= 1 {
		cfg.SampleRatio = r
	}
	return cfg
}

// TerrainAttributes describes the elevation source a binary was started
// with, for use as resource attributes.
func TerrainAttributes(source string, zoom int, strict bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("coverage.terrain.source", source),
		attribute.Int("coverage.terrain.zoom", zoom),
		attribute.Bool("coverage.terrain.strict", strict),
	}
}

// InitTracing installs the global tracer provider and propagators. The
// returned function flushes buffered spans and must run before exit.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	attrs := append([]attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "antenna-coverage"),
	}, cfg.Attributes...)
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "tracing enabled",
		logging.String("service_name", cfg.ServiceName),
		logging.String("exporter", cfg.Exporter),
		logging.Float("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

func newSpanExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "stdout", "":
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		return stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
	case "otlp", "otlpgrpc":
		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cmp.Or(cfg.Endpoint, "localhost:4317")),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
		return otlptrace.New(ctx, client)
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s", cfg.Exporter)
	}
}

// AnnotateRun tags span with a coverage run's identity and outcome.
func AnnotateRun(span trace.Span, siteID, runID string, stats core.CoverageStats, partial bool) {
	span.SetAttributes(
		attribute.String("coverage.site_id", siteID),
		attribute.String("coverage.run_id", runID),
		attribute.Bool("coverage.partial", partial),
		attribute.Int("coverage.rays", stats.Rays),
		attribute.Int("coverage.obstructed", stats.Obstructed),
		attribute.Int("coverage.unavailable", stats.Unavailable),
	)
}

// ShutdownWithTimeout flushes spans through shutdown, giving up after five
// seconds. Failures are logged, not returned.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}

// Package telemetry configures OpenTelemetry tracing for report runs and their dependencies.
package telemetry

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Mode selects how much of a report run is traced.
type Mode string

const (
	// ModeOff records nothing.
	ModeOff Mode = "off"
	// ModeErrors keeps a small share of traces, at least one percent.
	ModeErrors Mode = "errors"
	// ModeSampled keeps the configured ratio of traces.
	ModeSampled Mode = "sampled"
	// ModeDetailed keeps every trace and adds client spans around GitHub, Redis and Postgres.
	ModeDetailed Mode = "detailed"

	defaultServiceName  = "gitstats-report"
	instrumentationRoot = "gitstats-report/"
	minErrorsRatio      = 0.01
)

var currentMode atomic.Value

// ParseMode reads a configured trace mode. Unknown or empty text means ModeSampled.
func ParseMode(raw string) Mode {
	switch mode := Mode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case ModeOff, ModeErrors, ModeDetailed:
		return mode
	default:
		return ModeSampled
	}
}

func (m Mode) sampler(ratio float64) sdktrace.Sampler {
	ratio = math.Min(math.Max(ratio, 0), 1)
	switch m {
	case ModeOff:
		return sdktrace.NeverSample()
	case ModeDetailed:
		return sdktrace.AlwaysSample()
	case ModeErrors:
		ratio = math.Max(ratio, minErrorsRatio)
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// Config configures OpenTelemetry tracing setup.
type Config struct {
	Enabled          bool
	ServiceName      string
	ServiceVersion   string
	TraceMode        string
	TraceSampleRatio float64
	// Exporter receives finished spans synchronously. Nil keeps spans in process only.
	Exporter sdktrace.SpanExporter
}

// Runtime holds the installed tracer provider.
type Runtime struct {
	TracerProvider *sdktrace.TracerProvider
	Shutdown       func(ctx context.Context) error
}

// Setup installs the global tracer provider. Disabled tracing forces ModeOff whatever the
// configured mode.
func Setup(cfg Config) (Runtime, error) {
	mode := ParseMode(cfg.TraceMode)
	if !cfg.Enabled {
		mode = ModeOff
	}
	currentMode.Store(mode)

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(serviceName)}
	if version := strings.TrimSpace(cfg.ServiceVersion); version != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(version))
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return Runtime{}, fmt.Errorf("build telemetry resource: %w", err)
	}

	options := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(mode.sampler(cfg.TraceSampleRatio)),
		sdktrace.WithResource(res),
	}
	if cfg.Exporter != nil {
		options = append(options, sdktrace.WithSyncer(cfg.Exporter))
	}
	provider := sdktrace.NewTracerProvider(options...)
	otel.SetTracerProvider(provider)

	return Runtime{TracerProvider: provider, Shutdown: provider.Shutdown}, nil
}

// Tracer returns the tracer for one component, such as "internal/report".
func Tracer(component string) trace.Tracer {
	return otel.Tracer(instrumentationRoot + strings.TrimPrefix(component, "/"))
}

// CurrentMode reports the mode installed by the last Setup, ModeOff before any.
func CurrentMode() Mode {
	mode, ok := currentMode.Load().(Mode)
	if !ok {
		return ModeOff
	}
	return mode
}

// StartDependencySpan starts a client span around a call to GitHub, Redis or Postgres. Outside
// the detailed trace mode it returns ctx unchanged and a non-recording span, so callers can end
// the span unconditionally.
func StartDependencySpan(ctx context.Context, component, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if CurrentMode() != ModeDetailed {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return Tracer(component).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Package observability configures OpenTelemetry tracing for a swarm
// process and provides span helpers for the session operations.
package observability

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/aixgo-dev/swarm/pkg/config"
)

// DefaultServiceName is used when the configuration names none.
const DefaultServiceName = "swarm"

var (
	mu             sync.RWMutex
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
)

// Init installs the tracer provider selected by cfg.Tracing ("none",
// "stdout" or "otlp"). With "none" spans go to the global no-op provider.
// The otlp exporter honors OTEL_EXPORTER_OTLP_HEADERS when cfg has no headers.
func Init(ctx context.Context, cfg config.Observability, logger zerolog.Logger) error {
	name := cfg.ServiceName
	if name == "" {
		name = DefaultServiceName
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.Tracing {
	case "", "none":
		mu.Lock()
		tracer = otel.GetTracerProvider().Tracer(name)
		mu.Unlock()
		logger.Debug().Msg("tracing disabled")
		return nil
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		exporter, err = newOTLPExporter(ctx, cfg)
	default:
		return fmt.Errorf("unknown tracing exporter: %s", cfg.Tracing)
	}
	if err != nil {
		return fmt.Errorf("create %s exporter: %w", cfg.Tracing, err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)

	mu.Lock()
	tracerProvider = tp
	tracer = tp.Tracer(name)
	mu.Unlock()

	logger.Info().Str("exporter", cfg.Tracing).Str("service", name).Msg("tracing initialized")
	return nil
}

func newOTLPExporter(ctx context.Context, cfg config.Observability) (sdktrace.SpanExporter, error) {
	var opts []otlptracehttp.Option
	if cfg.OTLPEndpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint))
	}
	headers := cfg.OTLPHeaders
	if len(headers) == 0 {
		headers = parseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	}
	if len(headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(headers))
	}
	return otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
}

// Shutdown flushes and stops the tracer provider installed by Init.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := tracerProvider
	tracerProvider = nil
	mu.Unlock()
	if tp == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return tp.Shutdown(ctx)
}

func currentTracer() trace.Tracer {
	mu.RLock()
	t := tracer
	mu.RUnlock()
	if t == nil {
		return otel.GetTracerProvider().Tracer(DefaultServiceName)
	}
	return t
}

// Span wraps an OpenTelemetry span.
type Span struct {
	span  trace.Span
	name  string
	ended bool
}

// StartSpan starts a child span of ctx with attributes built from attrs.
func StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, *Span) {
	ctx, span := currentTracer().Start(ctx, name)
	if len(attrs) > 0 {
		kvs := make([]attribute.KeyValue, 0, len(attrs))
		for k, v := range attrs {
			kvs = append(kvs, convertToAttribute(k, v))
		}
		span.SetAttributes(kvs...)
	}
	return ctx, &Span{span: span, name: name}
}

// Name returns the span name.
func (s *Span) Name() string { return s.name }

// SetAttribute adds one attribute.
func (s *Span) SetAttribute(key string, value any) {
	s.span.SetAttributes(convertToAttribute(key, value))
}

// SetError records err and marks the span failed. A nil err is ignored.
func (s *Span) SetError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// End finishes the span; later calls are no-ops.
func (s *Span) End() {
	if !s.ended {
		s.span.End()
		s.ended = true
	}
}

// Ended reports whether End was called.
func (s *Span) Ended() bool { return s.ended }

func convertToAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case uint64:
		return attribute.Int64(key, int64(v))
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

// parseHeaders parses "k1=v1,k2=v2".
func parseHeaders(s string) map[string]string {
	if s == "" {
		return nil
	}
	headers := make(map[string]string)
	for pair := range strings.SplitSeq(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if k = strings.TrimSpace(k); ok && k != "" {
			headers[k] = strings.TrimSpace(v)
		}
	}
	return headers
}

package observability

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
)

const tracerName = "github.com/yungbote/tarotroom-backend"

type OtelConfig struct {
	ServiceName string
	Environment string
	Version     string
}

// otelEnv is the exporter configuration read from the standard OTEL_ variables.
type otelEnv struct {
	Enabled     bool              `env:"OTEL_ENABLED"`
	Endpoint    string            `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure    bool              `env:"OTEL_EXPORTER_OTLP_INSECURE"`
	Headers     map[string]string `env:"OTEL_EXPORTER_OTLP_HEADERS" envSeparator:"," envKeyValSeparator:"="`
	SampleRatio float64           `env:"OTEL_SAMPLER_RATIO" envDefault:"0.1"`
}

func loadOtelEnv() (otelEnv, error) {
	cfg, err := env.ParseAs[otelEnv]()
	if err != nil {
		return otelEnv{}, err
	}
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.SampleRatio = min(max(cfg.SampleRatio, 0), 1)
	return cfg, nil
}

var (
	otelOnce     sync.Once
	otelShutdown = func(context.Context) error { return nil }
)

// InitOTel installs the global tracer provider when OTEL_ENABLED is set.
// The returned shutdown func is always non-nil.
func InitOTel(ctx context.Context, log *logger.Logger, cfg OtelConfig) func(context.Context) error {
	if log == nil {
		log = logger.Nop()
	}
	otelOnce.Do(func() {
		oe, err := loadOtelEnv()
		if err != nil {
			log.Warn("otel env invalid, tracing disabled", "error", err)
			return
		}
		if !oe.Enabled {
			return
		}
		serviceName := strings.TrimSpace(cfg.ServiceName)
		if serviceName == "" {
			serviceName = "tarotroom"
		}
		res, err := resource.New(ctx, resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(strings.TrimSpace(cfg.Version)),
			attribute.String("deployment.environment", strings.TrimSpace(cfg.Environment)),
		))
		if err != nil {
			log.Warn("otel resource init failed (continuing)", "error", err)
		}

		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(oe.SampleRatio))),
			sdktrace.WithResource(res),
		}
		if exporter, err := newSpanExporter(ctx, oe); err != nil {
			log.Warn("otel exporter init failed (continuing)", "error", err)
		} else {
			opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)))
		}
		tp := sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
		otelShutdown = tp.Shutdown
		log.Info("otel tracing initialized", "service", serviceName, "endpoint", oe.Endpoint, "sample_ratio", oe.SampleRatio)
	})
	return otelShutdown
}

// newSpanExporter exports over OTLP/HTTP, or pretty-prints to stdout when no
// endpoint is configured.
func newSpanExporter(ctx context.Context, oe otelEnv) (sdktrace.SpanExporter, error) {
	if oe.Endpoint == "" {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(oe.Endpoint)}
	if oe.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(oe.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(oe.Headers))
	}
	return otlptracehttp.New(ctx, opts...)
}

// StartSpan opens a span on the global tracer, a no-op provider unless
// InitOTel enabled tracing.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on the span and ends it.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

package tracing

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config - параметры провайдера трасс
type Config struct {
	ServiceName string
	// OTLPEndpoint в формате host:port; пустой - экспортер не подключается
	OTLPEndpoint string
	// SampleRatio - доля корневых трасс, попадающих в выборку, от 0 до 1
	SampleRatio float64
	Insecure    bool
}

// NewTracerProvider собирает провайдер с ресурсом сервиса и сэмплером по доле.
// Дополнительные опции (например, WithSpanProcessor) добавляются после стандартных.
func NewTracerProvider(ctx context.Context, cfg Config, opts ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	if cfg.ServiceName == "" {
		return nil, errors.New("tracing: service name is required")
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return nil, fmt.Errorf("tracing: sample ratio must be within [0, 1], got %v", cfg.SampleRatio)
	}

	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))

	base := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}

	if cfg.OTLPEndpoint != "" {
		exporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
		}

		exporter, err := otlptracehttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("tracing: failed to create OTLP exporter: %w", err)
		}

		base = append(base, sdktrace.WithBatcher(exporter))
	}

	return sdktrace.NewTracerProvider(append(base, opts...)...), nil
}

// Install делает провайдер глобальным и включает W3C trace context
func Install(tp *sdktrace.TracerProvider) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	otel.SetTracerProvider(tp)
}

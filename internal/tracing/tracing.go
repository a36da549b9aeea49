package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
)

// newJaegerExporter создает экспортер, который отправляет трейсы в Jaeger.
func newJaegerExporter(url string) (sdktrace.SpanExporter, error) {
	return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(url)))
}

// InitTracerProvider настраивает и регистрирует OpenTelemetry-провайдер.
// Возвращает функцию остановки провайдера.
func InitTracerProvider(serviceName, jaegerURL string, logger *zap.Logger) (func(context.Context), error) {
	exporter, err := newJaegerExporter(jaegerURL)
	if err != nil {
		return nil, err
	}

	// Ресурс (описание сервиса)
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(1.0)),
	)

	otel.SetTracerProvider(tp)

	// W3C Trace Context нужен, чтобы трейс продолжался во внешнем API
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	logger.Info("OpenTelemetry (Jaeger) инициализирован", zap.String("service", serviceName), zap.String("endpoint", jaegerURL))

	return func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Ошибка остановки TracerProvider", zap.Error(err))
		}
	}, nil
}

package main

import (
	"bulk_orders/internal/acceptance"
	"bulk_orders/internal/config"
	"bulk_orders/internal/database"
	"bulk_orders/internal/logger"
	"bulk_orders/internal/tracing"
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Сервис приема пакетных заказов для локального запуска и e2e-проверок.
func main() {
	cfg := config.Get()

	zapLogger, err := logger.New(logger.Config{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		log.Fatalf("Не удалось создать логгер: %v", err)
	}
	defer zapLogger.Sync()

	if cfg.Tracing.Enabled {
		shutdownTracing, err := tracing.InitTracerProvider("order-acceptance-service", cfg.Tracing.JaegerURL, zapLogger)
		if err != nil {
			zapLogger.Fatal("Ошибка создания Jaeger-экспортера", zap.Error(err))
		}
		defer shutdownTracing(context.Background())
	}

	storage, err := database.New(cfg.Postgres.URL, cfg.Postgres.MigrationsDir, zapLogger)
	if err != nil {
		zapLogger.Fatal("Ошибка инициализации хранилища", zap.Error(err))
	}
	defer storage.Close()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	acceptance.NewHandler(acceptance.NewService(storage, zapLogger), cfg.OrderAPI.APIKey, zapLogger).Routes(router)
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              ":" + cfg.Acceptance.Port,
		Handler:           otelhttp.NewHandler(router, "order-acceptance-http"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zapLogger.Info("Сервис приема заказов запущен", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Ошибка запуска HTTP-сервера", zap.Error(err))
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	zapLogger.Info("Сервис приема заказов останавливается...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		zapLogger.Error("Ошибка остановки HTTP-сервера", zap.Error(err))
	}
}

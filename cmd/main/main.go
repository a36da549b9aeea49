package main

import (
	"bulk_orders/internal/api"
	"bulk_orders/internal/cache"
	"bulk_orders/internal/config"
	"bulk_orders/internal/kafka"
	"bulk_orders/internal/logger"
	"bulk_orders/internal/orderapi"
	"bulk_orders/internal/submission"
	"bulk_orders/internal/tracing"
	"bulk_orders/internal/validator"
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Get()

	zapLogger, err := logger.New(logger.Config{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		log.Fatalf("Не удалось создать логгер: %v", err)
	}
	defer zapLogger.Sync()

	if cfg.Tracing.Enabled {
		shutdownTracing, err := tracing.InitTracerProvider(cfg.Tracing.ServiceName, cfg.Tracing.JaegerURL, zapLogger)
		if err != nil {
			zapLogger.Fatal("Ошибка создания Jaeger-экспортера", zap.Error(err))
		}
		defer shutdownTracing(context.Background())
	}

	// Хранилище пакетов
	var store cache.Store
	switch cfg.Cache.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(context.Background()).Err(); err != nil {
			zapLogger.Fatal("Redis недоступен", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		store = cache.NewRedisStore(client, cfg.Batch.TTL)
	default:
		store = cache.NewLRUStore(cfg.Cache.Size, cfg.Batch.TTL)
	}
	zapLogger.Info("Хранилище пакетов готово", zap.String("backend", cfg.Cache.Backend), zap.Duration("ttl", cfg.Batch.TTL))

	// Клиент внешнего API приема заказов
	orderClient, err := orderapi.New(orderapi.Config{
		URL:     cfg.OrderAPI.URL,
		APIKey:  cfg.OrderAPI.APIKey,
		Timeout: cfg.OrderAPI.Timeout,
	})
	if err != nil {
		zapLogger.Fatal("Ошибка настройки клиента API заказов", zap.Error(err))
	}

	service := submission.NewService(
		store,
		validator.NewRowValidator(cfg.Batch.MaxCapacityGB),
		orderClient,
		cfg.Batch.PaymentInstructions,
		zapLogger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Запуск Kafka Consumer
	consumerDone := make(chan struct{})
	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka, service, zapLogger)
		go func() {
			consumer.Run(ctx)
			close(consumerDone)
		}()
	} else {
		close(consumerDone)
	}

	// Запуск HTTP-сервера
	server := api.NewServer(cfg.HTTP.Port, service, zapLogger)
	go func() {
		if err := server.Run(); err != nil {
			zapLogger.Fatal("Ошибка запуска HTTP-сервера", zap.Error(err))
		}
	}()

	// Ожидание сигнала для корректного завершения работы
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	zapLogger.Info("Сервис останавливается...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Ошибка остановки HTTP-сервера", zap.Error(err))
	}
	cancel()
	<-consumerDone
	zapLogger.Info("Сервис успешно остановлен.")
}

package main

import (
	"bulk_orders/internal/config"
	"bulk_orders/internal/generator"
	"bulk_orders/internal/logger"
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Producer отвечает за генерацию и отправку пакетов в Kafka.
type Producer struct {
	writer    *kafka.Writer
	generator *generator.Generator
	logger    *zap.Logger
}

// NewProducer создает и настраивает новый экземпляр продюсера.
func NewProducer(brokers []string, topic string, seed int64, logger *zap.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	return &Producer{writer: writer, generator: generator.New(seed), logger: logger}
}

// Run отправляет пакеты с заданным интервалом, пока не отменен контекст.
func (p *Producer) Run(ctx context.Context, interval time.Duration, rows int, invalidShare float64) {
	p.logger.Info("Продюсер запущен. Нажмите CTRL+C для остановки.")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Продюсер останавливается.")
			return
		case <-ticker.C:
			req := p.generator.BatchRequest(rows, invalidShare)
			value, err := json.Marshal(req)
			if err != nil {
				p.logger.Error("Ошибка сериализации пакета", zap.Error(err))
				continue
			}

			err = p.writer.WriteMessages(ctx, kafka.Message{
				Key:   []byte(req.AgentID),
				Value: value,
			})
			if err != nil {
				p.logger.Error("Ошибка отправки сообщения", zap.Error(err))
				continue
			}
			p.logger.Info("Отправлен пакет", zap.String("agent_id", req.AgentID), zap.Int("rows", rows))
		}
	}
}

// Close закрывает Kafka writer.
func (p *Producer) Close() {
	if err := p.writer.Close(); err != nil {
		p.logger.Error("Ошибка закрытия Kafka writer", zap.Error(err))
	}
}

func main() {
	interval := flag.Duration("interval", 2*time.Second, "интервал между пакетами")
	rows := flag.Int("rows", 20, "строк в пакете")
	invalidShare := flag.Float64("invalid", 0.1, "доля строк с ошибками")
	seed := flag.Int64("seed", 0, "seed генератора (0 - случайный)")
	flag.Parse()

	cfg := config.Get()
	zapLogger, err := logger.New(logger.Config{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		log.Fatalf("Не удалось создать логгер: %v", err)
	}
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	producer := NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, *seed, zapLogger)
	defer producer.Close()

	producer.Run(ctx, *interval, *rows, *invalidShare)
}

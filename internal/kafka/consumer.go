package kafka

import (
	"bulk_orders/internal/config"
	"bulk_orders/internal/metrics"
	"bulk_orders/internal/model"
	"bulk_orders/internal/submission"
	"bulk_orders/internal/validator"
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Причины отправки в DLQ (заголовок X-Error-Reason).
const (
	ReasonUnmarshal  = "json_unmarshal_error"
	ReasonValidation = "validation_error"
	ReasonInput      = "input_error"
	ReasonSubmission = "submission_error"
)

// BatchProcessor - операции оркестратора, которые использует консюмер.
type BatchProcessor interface {
	LoadText(ctx context.Context, text string) (submission.Summary, error)
	Confirm(ctx context.Context, id string) (submission.Summary, error)
	Submit(ctx context.Context, id, agentID string) (submission.Result, error)
	Discard(ctx context.Context, id string) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer читает пакеты из Kafka и проводит их через разбор, подтверждение и отправку.
type Consumer struct {
	reader    messageReader
	dlqWriter messageWriter // Продюсер для отправки "битых" сообщений в DLQ
	processor BatchProcessor
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewConsumer создает новый экземпляр Consumer.
func NewConsumer(cfg config.KafkaConfig, processor BatchProcessor, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
		// Коммиты выполняются вручную после обработки.
	})

	dlqWriter := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.DLQTopic,
		Balancer: &kafka.LeastBytes{},
	}

	return &Consumer{
		reader:    reader,
		dlqWriter: dlqWriter,
		processor: processor,
		logger:    logger,
		tracer:    otel.Tracer("kafka-consumer"),
	}
}

// Run запускает цикл чтения сообщений из Kafka.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("Kafka-консюмер запущен...")
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Error("Ошибка закрытия Kafka-ридера", zap.Error(err))
		}
		if err := c.dlqWriter.Close(); err != nil {
			c.logger.Error("Ошибка закрытия Kafka (DLQ) writer", zap.Error(err))
		}
	}()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Kafka-консюмер останавливается.")
				return
			}
			c.logger.Error("Ошибка чтения сообщения из Kafka", zap.Error(err))
			continue
		}

		c.processMessage(ctx, msg)

		// Пакеты не ретраятся: повторная отправка - решение агента.
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Ошибка коммита сообщения", zap.Error(err))
		}
	}
}

// processMessage проводит пакет от текста до отправки. Любая ошибка
// отправляет исходное сообщение в DLQ.
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) {
	ctx, span := c.tracer.Start(ctx, "Consumer.processMessage")
	defer span.End()

	var req model.BatchRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		c.logger.Warn("Невалидное JSON-сообщение, отправка в DLQ", zap.Error(err))
		c.sendToDLQ(ctx, msg, ReasonUnmarshal, err)
		metrics.KafkaMessagesProcessed.WithLabelValues("dlq_validation").Inc()
		return
	}

	if err := validator.ValidateStruct(&req); err != nil {
		c.logger.Warn("Ошибка валидации запроса, отправка в DLQ", zap.String("agent_id", req.AgentID), zap.Error(err))
		c.sendToDLQ(ctx, msg, ReasonValidation, err)
		metrics.KafkaMessagesProcessed.WithLabelValues("dlq_validation").Inc()
		return
	}

	summary, err := c.processor.LoadText(ctx, req.Text)
	if err != nil {
		c.logger.Warn("Пакет не разобран, отправка в DLQ", zap.String("agent_id", req.AgentID), zap.Error(err))
		c.sendToDLQ(ctx, msg, ReasonInput, err)
		metrics.KafkaMessagesProcessed.WithLabelValues("dlq_validation").Inc()
		return
	}

	if _, err := c.processor.Confirm(ctx, summary.BatchID); err != nil {
		c.fail(ctx, msg, summary.BatchID, err)
		return
	}

	result, err := c.processor.Submit(ctx, summary.BatchID, req.AgentID)
	if err != nil {
		c.fail(ctx, msg, summary.BatchID, err)
		return
	}

	c.logger.Info("Пакет из Kafka принят",
		zap.String("agent_id", req.AgentID),
		zap.String("submission_id", result.SubmissionID),
		zap.Int("accepted", result.Accepted),
		zap.Int("rejected", result.Rejected),
	)
	metrics.KafkaMessagesProcessed.WithLabelValues("success").Inc()
}

// fail отправляет сообщение в DLQ и удаляет пакет: из Kafka его никто не переотправит.
func (c *Consumer) fail(ctx context.Context, msg kafka.Message, batchID string, err error) {
	c.logger.Warn("Пакет из Kafka не отправлен, отправка в DLQ", zap.String("batch_id", batchID), zap.Error(err))
	c.sendToDLQ(ctx, msg, ReasonSubmission, err)
	metrics.KafkaMessagesProcessed.WithLabelValues("dlq_submission").Inc()

	if err := c.processor.Discard(context.WithoutCancel(ctx), batchID); err != nil && !errors.Is(err, submission.ErrBatchNotFound) {
		c.logger.Error("Не удалось удалить пакет после ошибки", zap.String("batch_id", batchID), zap.Error(err))
	}
}

// sendToDLQ отправляет "битое" сообщение в DLQ топик.
func (c *Consumer) sendToDLQ(ctx context.Context, originalMsg kafka.Message, reason string, procErr error) {
	ctx, span := c.tracer.Start(ctx, "Consumer.sendToDLQ")
	defer span.End()

	err := c.dlqWriter.WriteMessages(ctx, kafka.Message{
		Key:   originalMsg.Key,
		Value: originalMsg.Value,
		Headers: []kafka.Header{
			{Key: "X-Original-Topic", Value: []byte(originalMsg.Topic)},
			{Key: "X-Error-Reason", Value: []byte(reason)},
			{Key: "X-Error-Details", Value: []byte(procErr.Error())},
		},
	})

	if err != nil {
		c.logger.Error("КРИТИЧНО: не удалось отправить сообщение в DLQ", zap.ByteString("key", originalMsg.Key), zap.Error(err))
		metrics.KafkaMessagesProcessed.WithLabelValues("dlq_failed_write").Inc()
		return
	}
	c.logger.Info("Сообщение отправлено в DLQ", zap.ByteString("key", originalMsg.Key), zap.String("reason", reason))
}

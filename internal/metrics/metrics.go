package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal - Счетчик HTTP-запросов
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Количество HTTP запросов",
		},
		[]string{"handler", "status"}, // Метки: хэндлер и http-статус
	)

	// HttpRequestDuration - Гистограмма длительности HTTP-запросов
	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Длительность HTTP запросов",
		},
		[]string{"handler"},
	)

	// RowsParsed - Счетчик разобранных строк пакетов
	RowsParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_rows_parsed_total",
			Help: "Количество разобранных строк пакетов",
		},
		[]string{"source", "result"}, // Метки: file/text, valid/invalid
	)

	// BatchesRejected - Пакеты, отклоненные до разбора
	BatchesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_batches_rejected_total",
			Help: "Количество пакетов, отклоненных до разбора",
		},
		[]string{"reason"},
	)

	// SubmissionsTotal - Счетчик отправок во внешний API
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_submissions_total",
			Help: "Количество отправок пакетов во внешний API",
		},
		[]string{"status"}, // Метки: "accepted", "rejected", "precondition"
	)

	// OrderAPIDuration - Длительность вызовов API приема заказов
	OrderAPIDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "order_api_request_duration_seconds",
			Help:    "Длительность запросов к API приема заказов",
			Buckets: prometheus.DefBuckets,
		},
	)

	// BatchStoreSize - Датчик текущего количества пакетов в памяти
	BatchStoreSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "batch_store_size_items",
			Help: "Текущее количество пакетов в хранилище",
		},
	)

	// BatchStoreEvictions - Счетчик вытеснений пакетов (LRU и TTL)
	BatchStoreEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_store_evictions_total",
			Help: "Количество вытесненных из хранилища пакетов",
		},
		[]string{"reason"}, // Метки: "capacity", "expired"
	)

	// KafkaMessagesProcessed - Счетчик обработанных Kafka-сообщений
	KafkaMessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_processed_total",
			Help: "Количество обработанных сообщений Kafka",
		},
		[]string{"status"}, // Метки: "success", "dlq_validation", "dlq_submission", "dlq_failed_write"
	)

	// DBErrors - Счетчик ошибок базы данных
	DBErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_errors_total",
			Help: "Количество ошибок при работе с БД",
		},
		[]string{"operation"}, // Метки: "save_submission", "get_submission", "get_rows"
	)
)

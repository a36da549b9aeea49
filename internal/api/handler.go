package api

import (
	"bulk_orders/internal/metrics"
	"bulk_orders/internal/orderapi"
	"bulk_orders/internal/parser"
	"bulk_orders/internal/submission"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// MaxUploadBytes - предельный размер загружаемого файла.
const MaxUploadBytes = 10 << 20

// BatchService - операции над пакетами, которые нужны HTTP-слою.
type BatchService interface {
	LoadText(ctx context.Context, text string) (submission.Summary, error)
	LoadFile(ctx context.Context, name string, r io.Reader) (submission.Summary, error)
	Get(ctx context.Context, id string) (submission.Summary, error)
	Confirm(ctx context.Context, id string) (submission.Summary, error)
	Discard(ctx context.Context, id string) error
	Submit(ctx context.Context, id, agentID string) (submission.Result, error)
}

// BatchHandler обрабатывает HTTP-запросы, связанные с пакетами заказов.
type BatchHandler struct {
	service BatchService
	logger  *zap.Logger
}

// NewBatchHandler создает новый экземпляр BatchHandler.
func NewBatchHandler(service BatchService, logger *zap.Logger) *BatchHandler {
	return &BatchHandler{service: service, logger: logger}
}

type textRequest struct {
	Text string `json:"text"`
}

type submitRequest struct {
	AgentID string `json:"agent_id"`
}

// CreateFromText разбирает вставленный текст.
func (h *BatchHandler) CreateFromText(w http.ResponseWriter, r *http.Request) {
	handlerName := "CreateFromText"
	timer := prometheus.NewTimer(metrics.HttpRequestDuration.WithLabelValues(handlerName))
	defer timer.ObserveDuration()

	var req textRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxUploadBytes)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body", handlerName)
		return
	}

	summary, err := h.service.LoadText(r.Context(), req.Text)
	if err != nil {
		h.fail(w, err, handlerName)
		return
	}

	metrics.HttpRequestsTotal.WithLabelValues(handlerName, "201").Inc()
	respondWithJSON(w, http.StatusCreated, summary)
}

// CreateFromFile разбирает загруженный файл (поле формы "file").
func (h *BatchHandler) CreateFromFile(w http.ResponseWriter, r *http.Request) {
	handlerName := "CreateFromFile"
	timer := prometheus.NewTimer(metrics.HttpRequestDuration.WithLabelValues(handlerName))
	defer timer.ObserveDuration()

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(w, http.StatusRequestEntityTooLarge, "file too large", handlerName)
			return
		}
		respondWithError(w, http.StatusBadRequest, "file is required", handlerName)
		return
	}
	defer file.Close()

	summary, err := h.service.LoadFile(r.Context(), header.Filename, file)
	if err != nil {
		h.fail(w, err, handlerName)
		return
	}

	metrics.HttpRequestsTotal.WithLabelValues(handlerName, "201").Inc()
	respondWithJSON(w, http.StatusCreated, summary)
}

// GetByID возвращает пакет со всеми строками и счетчиками.
func (h *BatchHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	handlerName := "GetBatch"
	timer := prometheus.NewTimer(metrics.HttpRequestDuration.WithLabelValues(handlerName))
	defer timer.ObserveDuration()

	summary, err := h.service.Get(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		h.fail(w, err, handlerName)
		return
	}

	metrics.HttpRequestsTotal.WithLabelValues(handlerName, "200").Inc()
	respondWithJSON(w, http.StatusOK, summary)
}

// Confirm фиксирует, что агент ознакомился с итогами проверки.
func (h *BatchHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	handlerName := "ConfirmBatch"
	timer := prometheus.NewTimer(metrics.HttpRequestDuration.WithLabelValues(handlerName))
	defer timer.ObserveDuration()

	summary, err := h.service.Confirm(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		h.fail(w, err, handlerName)
		return
	}

	metrics.HttpRequestsTotal.WithLabelValues(handlerName, "200").Inc()
	respondWithJSON(w, http.StatusOK, summary)
}

// Submit отправляет валидные строки во внешний API.
func (h *BatchHandler) Submit(w http.ResponseWriter, r *http.Request) {
	handlerName := "SubmitBatch"
	timer := prometheus.NewTimer(metrics.HttpRequestDuration.WithLabelValues(handlerName))
	defer timer.ObserveDuration()

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "invalid request body", handlerName)
		return
	}

	result, err := h.service.Submit(r.Context(), chi.URLParam(r, "batchID"), req.AgentID)
	if err != nil {
		h.fail(w, err, handlerName)
		return
	}

	metrics.HttpRequestsTotal.WithLabelValues(handlerName, "200").Inc()
	respondWithJSON(w, http.StatusOK, result)
}

// Discard удаляет пакет.
func (h *BatchHandler) Discard(w http.ResponseWriter, r *http.Request) {
	handlerName := "DiscardBatch"
	timer := prometheus.NewTimer(metrics.HttpRequestDuration.WithLabelValues(handlerName))
	defer timer.ObserveDuration()

	if err := h.service.Discard(r.Context(), chi.URLParam(r, "batchID")); err != nil {
		h.fail(w, err, handlerName)
		return
	}

	metrics.HttpRequestsTotal.WithLabelValues(handlerName, "204").Inc()
	w.WriteHeader(http.StatusNoContent)
}

// fail переводит ошибку сервиса в HTTP-ответ. Сообщение внешнего API
// передается агенту без изменений.
func (h *BatchHandler) fail(w http.ResponseWriter, err error, handlerName string) {
	var apiErr *orderapi.Error
	switch {
	case errors.Is(err, parser.ErrBatchTooLarge):
		respondWithError(w, http.StatusRequestEntityTooLarge, err.Error(), handlerName)
	case errors.Is(err, parser.ErrUnsupportedFormat),
		errors.Is(err, parser.ErrUnreadableFile),
		errors.Is(err, submission.ErrEmptyBatch),
		errors.Is(err, submission.ErrMissingAgent),
		errors.Is(err, submission.ErrNoValidRows):
		respondWithError(w, http.StatusBadRequest, err.Error(), handlerName)
	case errors.Is(err, submission.ErrBatchNotFound):
		respondWithError(w, http.StatusNotFound, err.Error(), handlerName)
	case errors.Is(err, submission.ErrNotConfirmed),
		errors.Is(err, submission.ErrSubmissionInFlight):
		respondWithError(w, http.StatusConflict, err.Error(), handlerName)
	case errors.As(err, &apiErr):
		respondWithError(w, http.StatusBadGateway, apiErr.Error(), handlerName)
	default:
		h.logger.Error("Внутренняя ошибка обработки запроса", zap.String("handler", handlerName), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "internal error", handlerName)
	}
}

// respondWithJSON вспомогательная функция для отправки JSON-ответов.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string, handlerName string) {
	metrics.HttpRequestsTotal.WithLabelValues(handlerName, strconv.Itoa(code)).Inc()
	respondWithJSON(w, code, map[string]string{"message": message})
}

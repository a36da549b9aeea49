package acceptance

import (
	"bulk_orders/internal/metrics"
	"bulk_orders/internal/model"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// maxBodyBytes - 2000 строк с запасом.
const maxBodyBytes = 2 << 20

// Acceptor - то, что нужно обработчику от сервиса.
type Acceptor interface {
	Accept(ctx context.Context, payload model.BulkSubmission) (*model.SubmissionAccepted, error)
	Get(ctx context.Context, id string) (*model.StoredSubmission, error)
}

// Handler обрабатывает HTTP-запросы API приема заказов.
type Handler struct {
	service Acceptor
	apiKey  string
	logger  *zap.Logger
}

// NewHandler создает обработчик. Пустой apiKey отключает проверку авторизации.
func NewHandler(service Acceptor, apiKey string, logger *zap.Logger) *Handler {
	return &Handler{service: service, apiKey: apiKey, logger: logger}
}

// Routes регистрирует маршруты сервиса.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/bulk-orders", func(r chi.Router) {
		r.Use(h.authorize)
		r.Post("/", h.Create)
		r.Get("/{submissionID}", h.GetByID)
	})
}

// Create принимает пакет заказов.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	handlerName := "AcceptBulkOrder"
	timer := prometheus.NewTimer(metrics.HttpRequestDuration.WithLabelValues(handlerName))
	defer timer.ObserveDuration()

	var payload model.BulkSubmission
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body", handlerName)
		return
	}

	accepted, err := h.service.Accept(r.Context(), payload)
	switch {
	case err == nil:
		metrics.HttpRequestsTotal.WithLabelValues(handlerName, "201").Inc()
		respondWithJSON(w, http.StatusCreated, accepted)
	case errors.Is(err, ErrDuplicate):
		respondWithError(w, http.StatusConflict, ErrDuplicate.Error(), handlerName)
	case errors.Is(err, ErrInvalidSubmission):
		respondWithError(w, http.StatusBadRequest, err.Error(), handlerName)
	default:
		h.logger.Error("Ошибка приема пакета", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "internal error", handlerName)
	}
}

// GetByID возвращает принятый пакет без PIN оплаты.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	handlerName := "GetBulkOrder"
	timer := prometheus.NewTimer(metrics.HttpRequestDuration.WithLabelValues(handlerName))
	defer timer.ObserveDuration()

	id := chi.URLParam(r, "submissionID")
	submission, err := h.service.Get(r.Context(), id)
	switch {
	case err == nil:
		metrics.HttpRequestsTotal.WithLabelValues(handlerName, "200").Inc()
		respondWithJSON(w, http.StatusOK, submission)
	case errors.Is(err, ErrNotFound):
		respondWithError(w, http.StatusNotFound, ErrNotFound.Error(), handlerName)
	default:
		h.logger.Error("Ошибка получения пакета", zap.String("submission_id", id), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "internal error", handlerName)
	}
}

func (h *Handler) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.apiKey != "" {
			got := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(got), []byte("Bearer "+h.apiKey)) != 1 {
				respondWithError(w, http.StatusUnauthorized, "unauthorized", "Authorize")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

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

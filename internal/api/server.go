package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Server представляет HTTP-сервер.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	service    BatchService
	logger     *zap.Logger
}

// NewServer создает и настраивает новый экземпляр сервера.
func NewServer(port string, service BatchService, logger *zap.Logger) *Server {
	server := &Server{
		service: service,
		logger:  logger,
	}
	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           otelhttp.NewHandler(server.router, "bulk-orders-http"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server
}

// Handler возвращает роутер. Используется в тестах.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run запускает HTTP-сервер и блокируется до его остановки.
func (s *Server) Run() error {
	s.logger.Info("HTTP-сервер запущен", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown корректно останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// setupRouter настраивает маршрутизацию.
func (s *Server) setupRouter() *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(s.logger))
	router.Use(middleware.Recoverer)

	batchHandler := NewBatchHandler(s.service, s.logger)
	router.Route("/api/batches", func(r chi.Router) {
		r.Post("/text", batchHandler.CreateFromText)
		r.Post("/file", batchHandler.CreateFromFile)
		r.Get("/{batchID}", batchHandler.GetByID)
		r.Delete("/{batchID}", batchHandler.Discard)
		r.Post("/{batchID}/confirm", batchHandler.Confirm)
		r.Post("/{batchID}/submit", batchHandler.Submit)
	})

	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return router
}

// requestLogger пишет в zap строку на каждый запрос, как middleware.Logger в chi.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("HTTP-запрос",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

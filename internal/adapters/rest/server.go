package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"queue-listener-service/internal/core/port"
)

// Server - административный REST API слушателя и эндпоинт метрик
type Server struct {
	httpServer *http.Server
	logger     port.LoggerPort
}

// NewRouter собирает роутер; вынесен отдельно, чтобы его можно было тестировать через httptest
func NewRouter(handlers *ListenerHandlers, metrics http.Handler, allowedOrigins []string, baseLogger port.LoggerPort) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP, LoggerMiddleware(baseLogger), middleware.Recoverer)
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Trace-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", handlers.Health)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	r.Route("/api/v1/listener", func(r chi.Router) {
		r.Get("/services", handlers.ListServices)
		r.Delete("/services/{name}", handlers.DetachService)
		r.Put("/qos", handlers.SetQos)
		r.Get("/events/count", handlers.CountEvents)
	})

	return r
}

func NewServer(httpPort string, router http.Handler, baseLogger port.LoggerPort) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + httpPort,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: baseLogger.WithFields(port.Fields{"component": "rest_server"}),
	}
}

// Start запускает HTTP-сервер и блокируется до его остановки
func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", port.Fields{"address": s.httpServer.Addr})
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("Could not start server", err, nil)
		return fmt.Errorf("could not start server: %w", err)
	}
	return nil
}

// Stop корректно останавливает сервер
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping REST API server...", nil)
	return s.httpServer.Shutdown(ctx)
}

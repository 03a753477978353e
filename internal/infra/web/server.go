package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"hotspot-billing/internal/config"
	"hotspot-billing/internal/usecase"
)

// Server exposes the payment surface: the gateway webhook, the buyer
// return page, order intake and status, and the admin reprocess endpoint.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	log        *zerolog.Logger

	orders    usecase.OrderUseCase
	reconcile usecase.ReconcileUseCase

	retryDelay time.Duration
}

func NewServer(cfg config.WebConfig, orders usecase.OrderUseCase, reconcile usecase.ReconcileUseCase, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "web").Logger()
	s := &Server{
		router:     chi.NewRouter(),
		log:        &l,
		orders:     orders,
		reconcile:  reconcile,
		retryDelay: cfg.RetryDelay,
	}
	s.router.Use(middleware.Recoverer)
	s.router.Use(traceID)
	s.router.Use(requestLog(&l))

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Post("/webhook/payments", s.handleWebhook)
	s.router.Get("/return/{orderID}", s.handleReturn)

	s.router.Post("/orders", s.handleCreateOrder)
	s.router.Get("/orders/{orderID}", s.handleOrderStatus)

	s.router.Group(func(r chi.Router) {
		r.Use(bearerAuth(cfg.AdminAPIKey, &l))
		r.Post("/admin/orders/{orderID}/reprocess", s.handleReprocess)
	})

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("starting http server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

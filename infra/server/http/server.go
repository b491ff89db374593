// Package httpsrv hosts the REST API, the websocket endpoint and the metrics scrape.
package httpsrv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/osrs-friend-monitor/friend-monitor-server/config"
	"github.com/osrs-friend-monitor/friend-monitor-server/infra/auth"
	"github.com/osrs-friend-monitor/friend-monitor-server/infra/metrics"
	"github.com/osrs-friend-monitor/friend-monitor-server/infra/server/http/interceptors"
	"github.com/prometheus/client_golang/prometheus"
)

type Server struct {
	// Router carries the public routes. Handlers register on it or on Private.
	Router chi.Router

	srv    *http.Server
	auth   func(http.Handler) http.Handler
	logger *slog.Logger
}

func New(cfg *config.Config, verifier *auth.Verifier, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		interceptors.NewLoggingInterceptor(logger),
		middleware.Recoverer,
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))

	return &Server{
		Router: r,
		srv: &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		auth:   interceptors.NewAuthInterceptor(verifier, logger),
		logger: logger,
	}
}

// Private returns a router whose routes require a bearer token.
func (s *Server) Private() chi.Router {
	return s.Router.With(s.auth)
}

// Handler exposes the full route tree, for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", s.srv.Addr, err)
	}

	go func() {
		// Serve returns http.ErrServerClosed on graceful shutdown.
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP_SERVER_FAILED", "err", err)
		}
	}()

	s.logger.Info("HTTP_SERVER_STARTED", "addr", ln.Addr().String())
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Package grpcsrv runs the admin gRPC endpoint: standard health checking only.
package grpcsrv

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"github.com/osrs-friend-monitor/friend-monitor-server/config"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/fx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

type Server struct {
	*grpc.Server
	Health *health.Server

	addr   string
	logger *slog.Logger
}

// InterceptorLogger adapts slog to the go-grpc-middleware logging interface.
func InterceptorLogger(l *slog.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		l.Log(ctx, slog.Level(lvl), msg, fields...)
	})
}

func New(cfg *config.Config, logger *slog.Logger) *Server {
	logOpts := []logging.Option{logging.WithLogOnEvents(logging.FinishCall)}
	recoverOpts := []recovery.Option{
		recovery.WithRecoveryHandler(func(p any) error {
			logger.Error("GRPC_PANIC_RECOVERED", "err", p)
			return status.Errorf(codes.Internal, "internal error")
		}),
	}

	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			logging.UnaryServerInterceptor(InterceptorLogger(logger), logOpts...),
			recovery.UnaryServerInterceptor(recoverOpts...),
		),
		grpc.ChainStreamInterceptor(
			logging.StreamServerInterceptor(InterceptorLogger(logger), logOpts...),
			recovery.StreamServerInterceptor(recoverOpts...),
		),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &Server{
		Server: srv,
		Health: hs,
		addr:   cfg.GRPC.Addr,
		logger: logger,
	}
}

func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", s.addr, err)
	}
	go func() {
		if err := s.Serve(ln); err != nil {
			s.logger.Error("GRPC_SERVER_FAILED", "err", err)
		}
	}()
	s.logger.Info("GRPC_SERVER_STARTED", "addr", ln.Addr().String())
	return nil
}

// Stop drains in-flight calls, falling back to a hard stop when ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.Health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.Server.Stop()
	}
	return nil
}

var Module = fx.Module("grpc-server",
	fx.Provide(New),
	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		lc.Append(fx.Hook{
			OnStart: s.Start,
			OnStop:  s.Stop,
		})
	}),
)

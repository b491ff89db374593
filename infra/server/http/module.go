package httpsrv

import (
	"github.com/osrs-friend-monitor/friend-monitor-server/config"
	"github.com/osrs-friend-monitor/friend-monitor-server/infra/auth"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

var Module = fx.Module("http-server",
	fx.Provide(
		func(cfg *config.Config) (*auth.Verifier, error) {
			return auth.NewVerifier(cfg.HTTP.AuthSecret, cfg.HTTP.AuthLeeway)
		},
		func(reg *prometheus.Registry) prometheus.Gatherer { return reg },
		New,
	),
	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		lc.Append(fx.Hook{
			OnStart: s.Start,
			OnStop:  s.Stop,
		})
	}),
)

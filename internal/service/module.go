package service

import (
	"context"
	"log/slog"

	"github.com/osrs-friend-monitor/friend-monitor-server/infra/cache"
	"github.com/osrs-friend-monitor/friend-monitor-server/infra/store"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		// Ports onto infrastructure
		func(db *store.DB) AccountStore { return db },
		func(db *store.DB) ActivityStore { return db },
		func(c *cache.Caches) LocationCache { return c.Locations },

		NewClock,

		// Domain services
		fx.Annotate(
			NewAccountService,
			fx.As(new(Accounts)),
		),
		fx.Annotate(
			NewBroadcastService,
			fx.As(new(Broadcaster)),
		),
		fx.Annotate(
			NewActivityService,
			fx.As(new(Ingester)),
		),
		fx.Annotate(
			NewReconcileService,
			fx.As(new(Reconciler)),
		),
		fx.Annotate(
			NewDeliveryService,
			fx.As(new(Deliverer)),
		),
		NewScheduler,
	),

	// [DECORATION_LAYER] Intercept Reconciler to add cross-cutting concerns
	fx.Decorate(func(orig Reconciler, logger *slog.Logger) Reconciler {
		return NewReconcilerMiddleware(orig, logger)
	}),

	fx.Invoke(func(lc fx.Lifecycle, s *Scheduler) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				s.Start()
				return nil
			},
			OnStop: s.Stop,
		})
	}),
)

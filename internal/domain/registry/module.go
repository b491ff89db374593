package registry

import (
	"context"

	"github.com/osrs-friend-monitor/friend-monitor-server/config"
	"go.uber.org/fx"
)

var Module = fx.Module("registry",
	fx.Provide(
		func(cfg *config.Config) *ContextStore {
			return NewContextStore(cfg.Broadcast.UpdateAttempts)
		},
		func(cfg *config.Config) Policy {
			return Policy{
				DecayAfter:   cfg.Broadcast.DecayAfter,
				SlowInterval: cfg.Broadcast.SlowInterval,
				FastInterval: cfg.Broadcast.FastInterval,
			}
		},
		// [CLEAN_INJECTION] Configure Hub using Functional Options
		func(store *ContextStore) *Hub {
			return NewHub(WithContextStore(store))
		},
		fx.Annotate(
			func(h *Hub) Hubber { return h },
			fx.As(new(Hubber)),
		),
	),
	fx.Invoke(func(lc fx.Lifecycle, h Hubber) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				h.Shutdown() // [GRACEFUL_SHUTDOWN] Close every live connection
				return nil
			},
		})
	}),
)

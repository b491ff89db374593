package cache

import (
	"context"
	"log/slog"

	"github.com/osrs-friend-monitor/friend-monitor-server/config"
	"github.com/osrs-friend-monitor/friend-monitor-server/infra/metrics"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// Caches groups the typed views used by the services.
type Caches struct {
	Accounts         *Typed[model.AccountHash, model.RunescapeAccount]
	ValidatedFriends *Typed[model.AccountHash, model.ValidatedFriendsList]
	Locations        *Typed[model.AccountHash, model.CachedLocation]
}

// NewCaches wires account data through both tiers. Locations live only in the remote
// tier: their TTL is shorter than the local tier's.
func NewCaches(cfg *config.Config, tiered *Tiered, remote *Remote, logger *slog.Logger) *Caches {
	return &Caches{
		Accounts:         NewTyped[model.AccountHash, model.RunescapeAccount](tiered, AccountKey, cfg.Cache.RemoteTTL, logger),
		ValidatedFriends: NewTyped[model.AccountHash, model.ValidatedFriendsList](tiered, ValidatedFriendsKey, cfg.Cache.RemoteTTL, logger),
		Locations:        NewTyped[model.AccountHash, model.CachedLocation](remote, LocationKey, cfg.Cache.LocationTTL, logger),
	}
}

var Module = fx.Module("cache",
	fx.Provide(
		func(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) *Remote {
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Cache.RedisAddr,
				Password: cfg.Cache.RedisPassword,
				DB:       cfg.Cache.RedisDB,
			})
			r := NewRemote(client, logger)
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error { return r.Close() },
			})
			return r
		},
		func(cfg *config.Config) *Local {
			return NewLocal(cfg.Cache.LocalSize, cfg.Cache.LocalTTL)
		},
		func(local *Local, remote *Remote, logger *slog.Logger, m *metrics.Metrics) *Tiered {
			return NewTiered(local, remote, logger, m)
		},
		NewCaches,
	),
)

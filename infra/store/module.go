package store

import (
	"context"

	"github.com/osrs-friend-monitor/friend-monitor-server/config"
	"go.uber.org/fx"
)

var Module = fx.Module("store",
	fx.Provide(func(lc fx.Lifecycle, cfg *config.Config) (*DB, error) {
		db, err := Open(context.Background(), Config{
			Path:        cfg.Store.Path,
			BusyTimeout: cfg.Store.BusyTimeout,
		})
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error { return db.Close() },
		})
		return db, nil
	}),
)

package amqp

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	pubsubadapter "github.com/osrs-friend-monitor/friend-monitor-server/internal/adapter/pubsub"
	"go.uber.org/fx"
)

var Module = fx.Module("amqp-handler",
	fx.Provide(
		pubsubadapter.NewEventDispatcher,

		NewMessageHandler,
		NewWatermillRouter,
	),

	fx.Invoke(func(h *MessageHandler, router *message.Router, sub message.Subscriber) error {
		return h.RegisterHandlers(router, sub)
	}),
	fx.Invoke(RunRouter),
)

// RunRouter starts consuming once the app is up and waits for in-flight handlers on stop.
func RunRouter(lc fx.Lifecycle, router *message.Router, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			errCh := make(chan error, 1)
			go func() {
				if err := router.Run(context.Background()); err != nil {
					logger.Error("ROUTER_STOPPED", "err", err)
					errCh <- err
				}
			}()

			select {
			case <-router.Running():
				return nil
			case err := <-errCh:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		OnStop: func(context.Context) error {
			return router.Close()
		},
	})
}

package cmd

import (
	"log/slog"

	"github.com/osrs-friend-monitor/friend-monitor-server/config"
	"github.com/osrs-friend-monitor/friend-monitor-server/infra/cache"
	"github.com/osrs-friend-monitor/friend-monitor-server/infra/metrics"
	"github.com/osrs-friend-monitor/friend-monitor-server/infra/pubsub"
	grpcsrv "github.com/osrs-friend-monitor/friend-monitor-server/infra/server/grpc"
	httpsrv "github.com/osrs-friend-monitor/friend-monitor-server/infra/server/http"
	"github.com/osrs-friend-monitor/friend-monitor-server/infra/store"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/registry"
	amqpdi "github.com/osrs-friend-monitor/friend-monitor-server/internal/handler/amqp"
	grpchandler "github.com/osrs-friend-monitor/friend-monitor-server/internal/handler/grpc"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/handler/rest"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/service"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(appOptions(cfg))
}

func appOptions(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
			ProvideTracer,
		),
		fx.WithLogger(func(l *slog.Logger) fxevent.Logger { return &fxevent.SlogLogger{Logger: l} }),
		// Install the global tracer before any span is started.
		fx.Invoke(func(*sdktrace.TracerProvider) {}),

		metrics.Module,
		store.Module,
		cache.Module,
		pubsub.Module,
		registry.Module,
		service.Module,
		amqpdi.Module,
		httpsrv.Module,
		rest.Module,
		grpcsrv.Module,
		grpchandler.Module,
	)
}

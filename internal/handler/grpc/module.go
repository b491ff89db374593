package grpc

import (
	"context"
	"log/slog"
	"time"

	grpcsrv "github.com/osrs-friend-monitor/friend-monitor-server/infra/server/grpc"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/service"
	"go.uber.org/fx"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// BroadcastService is the health service name that mirrors the tick scheduler.
const BroadcastService = "broadcast"

const healthPollInterval = time.Second

var Module = fx.Module("health-grpc",
	fx.Provide(NewHealthReporter),
	fx.Invoke(RegisterHealthReporter),
)

// HealthReporter keeps the gRPC health statuses in step with the running app.
type HealthReporter struct {
	server    *grpcsrv.Server
	scheduler *service.Scheduler
	logger    *slog.Logger
	last      healthpb.HealthCheckResponse_ServingStatus
}

func NewHealthReporter(server *grpcsrv.Server, scheduler *service.Scheduler, logger *slog.Logger) *HealthReporter {
	return &HealthReporter{server: server, scheduler: scheduler, logger: logger}
}

// Report publishes the current statuses once.
func (h *HealthReporter) Report() {
	h.server.Health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	st := healthpb.HealthCheckResponse_NOT_SERVING
	if h.scheduler.Running() {
		st = healthpb.HealthCheckResponse_SERVING
	}
	if st != h.last {
		h.logger.Info("HEALTH_STATUS_CHANGED", "service", BroadcastService, "status", st.String())
		h.last = st
	}
	h.server.Health.SetServingStatus(BroadcastService, st)
}

// Run reports every interval until ctx is cancelled.
func (h *HealthReporter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		h.Report()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func RegisterHealthReporter(lc fx.Lifecycle, h *HealthReporter) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				h.Run(ctx, healthPollInterval)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

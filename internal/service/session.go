package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/osrs-friend-monitor/friend-monitor-server/config"
	"github.com/osrs-friend-monitor/friend-monitor-server/infra/metrics"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/registry"
)

// [DELIVERY_SERVICE] PRIMARY INTERFACE FOR TRANSPORT HANDLERS (websocket)
type Deliverer interface {
	Subscribe(ctx context.Context, userID string, hash model.AccountHash) (registry.Connector, error)
	Unsubscribe(conn registry.Connector)
	HandleClientMessage(hash model.AccountHash, msg model.ClientMessage)
	Stats() model.HubStats
}

type DeliveryService struct {
	hub         registry.Hubber
	contexts    *registry.ContextStore
	policy      registry.Policy
	clock       *Clock
	accounts    Accounts
	broadcaster Broadcaster
	logger      *slog.Logger
	metrics     *metrics.Metrics
	bufferSize  int
	started     time.Time
}

func NewDeliveryService(
	cfg *config.Config,
	hub registry.Hubber,
	contexts *registry.ContextStore,
	policy registry.Policy,
	clock *Clock,
	accounts Accounts,
	broadcaster Broadcaster,
	logger *slog.Logger,
	m *metrics.Metrics,
) *DeliveryService {
	return &DeliveryService{
		hub:         hub,
		contexts:    contexts,
		policy:      policy,
		clock:       clock,
		accounts:    accounts,
		broadcaster: broadcaster,
		logger:      logger,
		metrics:     m,
		bufferSize:  cfg.HTTP.SendBuffer,
		started:     time.Now(),
	}
}

// [SUBSCRIBE] HANDLES CONNECTION LIFECYCLE INITIATION
func (s *DeliveryService) Subscribe(ctx context.Context, userID string, hash model.AccountHash) (registry.Connector, error) {
	acc, err := s.accounts.GetAccount(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if acc == nil {
		return nil, ErrAccountNotFound
	}
	if acc.UserID != userID {
		return nil, ErrUnauthorized
	}

	// 1. Create a connector bound to the transport's lifetime
	conn := registry.NewConnector(ctx, hash, s.bufferSize)

	// 2. Install it; an older session of the same account is closed by the hub
	s.hub.Register(hash, conn)
	s.metrics.Connections.Set(float64(s.hub.Count()))

	s.logger.Info("ACCOUNT_CONNECTED",
		"account_hash", hash,
		"conn_id", conn.GetID(),
		"display_name", acc.DisplayName)

	return conn, nil
}

// [UNSUBSCRIBE] TRIGGERS CLEANUP; A REPLACED CONNECTION LEAVES THE CONTEXT ALONE
func (s *DeliveryService) Unsubscribe(conn registry.Connector) {
	s.hub.Unregister(conn.GetAccountHash(), conn)
	s.metrics.Connections.Set(float64(s.hub.Count()))

	s.logger.Info("ACCOUNT_DISCONNECTED",
		"account_hash", conn.GetAccountHash(),
		"conn_id", conn.GetID(),
		"dropped", conn.Dropped())
}

// HandleClientMessage applies a client request to the account's broadcast context.
func (s *DeliveryService) HandleClientMessage(hash model.AccountHash, msg model.ClientMessage) {
	switch m := msg.(type) {
	case model.SpeedChangeMessage:
		tick := s.clock.Current()
		if _, ok := s.contexts.Update(hash, func(c model.AccountContext) model.AccountContext {
			return s.policy.SetSpeed(tick, m.Speed, c)
		}); !ok {
			s.metrics.ContextUpdatesDropped.Inc()
			s.logger.Debug("SPEED_CHANGE_DROPPED", "account_hash", hash, "speed", m.Speed.String())
			return
		}
		s.logger.Debug("SPEED_CHANGED", "account_hash", hash, "speed", m.Speed.String(), "tick", tick)
	default:
		s.logger.Warn("CLIENT_MESSAGE_UNHANDLED", "account_hash", hash, "type", fmt.Sprintf("%T", msg))
	}
}

func (s *DeliveryService) Stats() model.HubStats {
	return model.HubStats{
		Connections: s.hub.Count(),
		Tick:        s.clock.Current(),
		Uptime:      time.Since(s.started).Round(time.Second),
		LastPass:    s.broadcaster.LastPass(),
	}
}

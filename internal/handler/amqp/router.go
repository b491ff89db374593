package amqp

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/adapter/pubsub"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/service"
)

const (
	// ------------------- POISON (TERMINAL FAILURES) ------------
	ReconcilePoisonTopic = "friends.reconcile.poison"
)

type MessageHandler struct {
	logger     *slog.Logger
	reconciler service.Reconciler
	dispatcher pubsub.Enqueuer
	retry      middleware.Retry
}

func NewMessageHandler(logger *slog.Logger, reconciler service.Reconciler, dispatcher pubsub.Enqueuer) *MessageHandler {
	return &MessageHandler{
		logger:     logger,
		reconciler: reconciler,
		dispatcher: dispatcher,
		retry:      NewRetryMiddleware(logger),
	}
}

// NewWatermillRouter builds the router shared by every reconciliation consumer.
func NewWatermillRouter(logger watermill.LoggerAdapter) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, logger)
	if err != nil {
		return nil, fmt.Errorf("ROUTER_SETUP_FAILED: %w", err)
	}
	router.AddMiddleware(middleware.Recoverer)
	return router, nil
}

// [REGISTRATION_PIPELINE]
func (h *MessageHandler) RegisterHandlers(router *message.Router, sub message.Subscriber) error {
	poison, err := middleware.PoisonQueue(h.dispatcher.Publisher(), ReconcilePoisonTopic)
	if err != nil {
		return fmt.Errorf("POISON_SETUP_FAILED: %w", err)
	}

	configs := []struct {
		name    string
		topic   string
		handler message.NoPublishHandlerFunc
	}{
		{"ON_UPDATE_REQUESTED", model.TopicValidatedListUpdateRequest, Bind(h, h.OnUpdateRequested)},
		{"ON_POTENTIAL_ADDITION", model.TopicPotentialFriendAddition, Bind(h, h.OnPotentialAddition)},
		{"ON_POTENTIAL_REMOVAL", model.TopicPotentialFriendRemoval, Bind(h, h.OnPotentialRemoval)},
	}

	for _, c := range configs {
		// [COMPETING_CONSUMERS] One durable queue per topic, shared by every node.
		router.AddConsumerHandler(c.name, c.topic, sub, c.handler).AddMiddleware(
			TraceIDMiddleware,
			LoggingMiddleware(h.logger),
			poison,
			h.retry.Middleware,
			middleware.NewThrottle(100, time.Second).Middleware,
			middleware.Timeout(time.Second*30),
		)
	}

	h.logger.Info("AMQP_PIPELINE_READY", "topics", len(configs), "poison", ReconcilePoisonTopic)
	return nil
}

package amqp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/adapter/pubsub"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
)

// TraceIDMetadata is the message metadata key shared with the dispatcher.
const TraceIDMetadata = "trace_id"

// [TRACE_ID_MIDDLEWARE]
// Keeps one trace id across a reconciliation chain: recompute, then the counterpart's confirmation.
func TraceIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		traceID := msg.Metadata.Get(TraceIDMetadata)
		if traceID == "" {
			traceID = uuid.NewString()
			msg.Metadata.Set(TraceIDMetadata, traceID)
		}

		msg.SetContext(context.WithValue(msg.Context(), pubsub.TraceIDKey, traceID))
		return h(msg)
	}
}

// reconcileSubject picks the account fields out of any reconciliation payload.
// Every queue message carries either an owner or a sender/receiver pair.
type reconcileSubject struct {
	AccountHash          model.AccountHash `json:"accountHash"`
	SendingAccountHash   model.AccountHash `json:"sendingAccountHash"`
	ReceivingAccountHash model.AccountHash `json:"receivingAccountHash"`
}

func subjectAttrs(payload []byte) []any {
	var s reconcileSubject
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil
	}
	if s.AccountHash != 0 {
		return []any{"account_hash", s.AccountHash}
	}
	return []any{"sender", s.SendingAccountHash, "receiver", s.ReceivingAccountHash}
}

// [LOGGING_MIDDLEWARE]
// One line per delivery with the topic, the accounts involved and the latency. Failures are
// logged at Warn because Retry and the poison queue still get their turn.
func LoggingMiddleware(logger *slog.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			msgs, err := h(msg)

			args := append([]any{
				"msg_id", msg.UUID,
				"topic", message.SubscribeTopicFromCtx(msg.Context()),
				"handler", message.HandlerNameFromCtx(msg.Context()),
				"trace_id", msg.Metadata.Get(TraceIDMetadata),
				"duration_ms", time.Since(start).Milliseconds(),
				"follow_ups", len(msgs),
			}, subjectAttrs(msg.Payload)...)

			if err != nil {
				logger.Warn("RECONCILE_MESSAGE_FAILED", append(args, "err", err)...)
				return msgs, err
			}
			logger.Debug("RECONCILE_MESSAGE_HANDLED", args...)
			return msgs, nil
		}
	}
}

// [RETRY_MIDDLEWARE]
// Runs after the reconciler's own conflict retries are spent, so the delays are long.
func NewRetryMiddleware(logger *slog.Logger) middleware.Retry {
	return middleware.Retry{
		MaxRetries:      3,
		InitialInterval: time.Second * 2,
		MaxInterval:     time.Second * 15,
		Multiplier:      2.0,
		OnRetryHook: func(retryNum int, delay time.Duration) {
			logger.Warn("RECONCILE_MESSAGE_RETRY", "attempt", retryNum, "delay_ms", delay.Milliseconds())
		},
	}
}

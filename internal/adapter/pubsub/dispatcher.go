package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v5"
	"github.com/osrs-friend-monitor/friend-monitor-server/infra/metrics"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
)

const (
	DefaultEnqueueAttempts = 3
	DefaultEnqueueDelay    = 200 * time.Millisecond
)

// Enqueuer defines the high-level contract for outgoing reconciliation messages.
// Enqueue never returns an error: a message that could not be published after the
// bounded retries is logged and reported as false.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg model.QueueMessage) bool
	Publisher() message.Publisher
}

// eventDispatcher is the concrete implementation (private).
type eventDispatcher struct {
	publisher message.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	attempts  uint
	delay     time.Duration
}

// DispatcherOption tunes the retry policy.
type DispatcherOption func(*eventDispatcher)

func WithRetry(attempts uint, delay time.Duration) DispatcherOption {
	return func(d *eventDispatcher) {
		d.attempts = attempts
		d.delay = delay
	}
}

// NewEventDispatcher returns the interface instead of the pointer to the struct.
func NewEventDispatcher(pub message.Publisher, logger *slog.Logger, m *metrics.Metrics, opts ...DispatcherOption) Enqueuer {
	d := &eventDispatcher{
		publisher: pub,
		logger:    logger,
		metrics:   m,
		attempts:  DefaultEnqueueAttempts,
		delay:     DefaultEnqueueDelay,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *eventDispatcher) Enqueue(ctx context.Context, msg model.QueueMessage) bool {
	topic := msg.Topic()

	payload, err := json.Marshal(msg)
	if err != nil {
		d.logger.Error("ENQUEUE_MARSHAL_FAILED", "topic", topic, "err", err)
		d.metrics.EnqueueTotal.WithLabelValues(topic, "failed").Inc()
		return false
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		m := message.NewMessage(watermill.NewUUID(), payload)
		m.SetContext(ctx)
		if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
			m.Metadata.Set("trace_id", traceID)
		}
		return struct{}{}, d.publisher.Publish(topic, m)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(d.delay)),
		backoff.WithMaxTries(d.attempts),
	)
	if err != nil {
		// [ACCEPTED_LOSS] Reconciliation is re-triggered by the next friends list change.
		d.logger.Error("ENQUEUE_FAILED", "topic", topic, "attempts", d.attempts, "err", fmt.Errorf("event dispatcher: %w", err))
		d.metrics.EnqueueTotal.WithLabelValues(topic, "failed").Inc()
		return false
	}

	d.metrics.EnqueueTotal.WithLabelValues(topic, "ok").Inc()
	return true
}

func (d *eventDispatcher) Publisher() message.Publisher {
	return d.publisher
}

package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/osrs-friend-monitor/friend-monitor-server/infra/metrics"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type flakyPublisher struct {
	failures int32
	calls    atomic.Int32
}

func (p *flakyPublisher) Publish(topic string, msgs ...*message.Message) error {
	if p.calls.Add(1) <= p.failures {
		return errors.New("broker unavailable")
	}
	return nil
}

func (p *flakyPublisher) Close() error { return nil }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestEnqueueRetriesThenSucceeds(t *testing.T) {
	pub := &flakyPublisher{failures: 2}
	m := metrics.NewNop()
	d := NewEventDispatcher(pub, discardLogger(), m, WithRetry(3, time.Millisecond))

	if !d.Enqueue(context.Background(), model.ValidatedFriendsListUpdateRequest{AccountHash: 1}) {
		t.Fatalf("enqueue failed within the retry budget")
	}
	if pub.calls.Load() != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", pub.calls.Load())
	}
	if v := testutil.ToFloat64(m.EnqueueTotal.WithLabelValues(model.TopicValidatedListUpdateRequest, "ok")); v != 1 {
		t.Fatalf("ok counter %v", v)
	}
}

func TestEnqueueGivesUpAfterAttempts(t *testing.T) {
	pub := &flakyPublisher{failures: 100}
	d := NewEventDispatcher(pub, discardLogger(), metrics.NewNop(), WithRetry(3, time.Millisecond))

	if d.Enqueue(context.Background(), model.PotentialFriendRemoval{SendingAccountHash: 1, ReceivingAccountHash: 2}) {
		t.Fatalf("enqueue reported success")
	}
	if pub.calls.Load() != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", pub.calls.Load())
	}
}

func TestEnqueuePublishesJSONOnTopic(t *testing.T) {
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 4}, watermill.NopLogger{})
	defer ch.Close()

	msgs, err := ch.Subscribe(context.Background(), model.TopicPotentialFriendAddition)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	d := NewEventDispatcher(ch, discardLogger(), metrics.NewNop())
	sent := model.PotentialFriendAddition{SendingAccountHash: 1, ReceivingAccountHash: 2, Time: time.Unix(100, 0).UTC()}
	ctx := context.WithValue(context.Background(), TraceIDKey, "trace-1")
	if !d.Enqueue(ctx, sent) {
		t.Fatalf("enqueue failed")
	}

	select {
	case msg := <-msgs:
		msg.Ack()
		var got model.PotentialFriendAddition
		if err := json.Unmarshal(msg.Payload, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.SendingAccountHash != 1 || got.ReceivingAccountHash != 2 || !got.Time.Equal(sent.Time) {
			t.Fatalf("unexpected payload %+v", got)
		}
		if msg.Metadata.Get("trace_id") != "trace-1" {
			t.Fatalf("trace id not propagated")
		}
	case <-time.After(time.Second):
		t.Fatalf("message not delivered")
	}
}

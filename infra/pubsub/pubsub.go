// Package pubsub builds the watermill publisher/subscriber pair the reconciliation
// pipeline runs on: durable AMQP queues in production, an in-process channel otherwise.
package pubsub

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/osrs-friend-monitor/friend-monitor-server/config"
	"go.uber.org/fx"
)

const (
	DriverAMQP   = "amqp"
	DriverMemory = "memory"
)

type Provider struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

func New(cfg *config.Config, logger watermill.LoggerAdapter) (*Provider, error) {
	switch cfg.PubSub.Driver {
	case DriverAMQP:
		// Durable queues named after the topic: every node competes for the same messages.
		amqpCfg := amqp.NewDurableQueueConfig(cfg.PubSub.AMQPURI)

		pub, err := amqp.NewPublisher(amqpCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("amqp publisher: %w", err)
		}
		sub, err := amqp.NewSubscriber(amqpCfg, logger)
		if err != nil {
			_ = pub.Close()
			return nil, fmt.Errorf("amqp subscriber: %w", err)
		}
		return &Provider{Publisher: pub, Subscriber: sub}, nil

	case DriverMemory:
		ch := NewMemory(logger)
		return &Provider{Publisher: ch, Subscriber: ch}, nil

	default:
		return nil, fmt.Errorf("unknown pubsub driver %q", cfg.PubSub.Driver)
	}
}

// NewMemory returns the in-process transport used for single-node runs and tests.
func NewMemory(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 1024}, logger)
}

func (p *Provider) Close() error {
	err := p.Publisher.Close()
	if any(p.Subscriber) != any(p.Publisher) {
		err = errors.Join(err, p.Subscriber.Close())
	}
	return err
}

var Module = fx.Module("pubsub",
	fx.Provide(
		func(lc fx.Lifecycle, cfg *config.Config, logger watermill.LoggerAdapter) (*Provider, error) {
			p, err := New(cfg, logger)
			if err != nil {
				return nil, err
			}
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error { return p.Close() },
			})
			return p, nil
		},
		func(p *Provider) message.Publisher { return p.Publisher },
		func(p *Provider) message.Subscriber { return p.Subscriber },
	),
)

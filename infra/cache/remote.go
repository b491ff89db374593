package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

var _ Store = (*Remote)(nil)

// Remote is the shared Redis tier, guarded by a circuit breaker so a dead Redis
// fails fast instead of stalling every broadcast pass.
type Remote struct {
	client  redis.UniversalClient
	breaker *gobreaker.CircuitBreaker
}

func NewRemote(client redis.UniversalClient, logger *slog.Logger) *Remote {
	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("CIRCUIT_BREAKER_STATE_CHANGED", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Remote{client: client, breaker: gobreaker.NewCircuitBreaker(st)}
}

func (r *Remote) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := r.breaker.Execute(func() (interface{}, error) {
		val, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			// A miss is not a failure.
			return nil, nil
		}
		return val, err
	})
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	val, _ := res.([]byte)
	return val, val != nil, nil
}

func (r *Remote) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	res, err := r.breaker.Execute(func() (interface{}, error) {
		return r.client.MGet(ctx, keys...).Result()
	})
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	vals, _ := res.([]interface{})
	for i, v := range vals {
		if s, ok := v.(string); ok && i < len(keys) {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}

func (r *Remote) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.client.Set(ctx, key, val, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Remote) SetMany(ctx context.Context, entries map[string][]byte, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := r.breaker.Execute(func() (interface{}, error) {
		_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
			for k, v := range entries {
				p.Set(ctx, k, v, ttl)
			}
			return nil
		})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("redis pipelined set: %w", err)
	}
	return nil
}

func (r *Remote) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.client.Del(ctx, keys...).Err()
	})
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *Remote) Close() error {
	return r.client.Close()
}

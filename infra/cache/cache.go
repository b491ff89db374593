// Package cache is the two-tier key/value cache: an in-process expirable LRU in front of Redis.
// Values are JSON compressed with snappy. A miss is never an error.
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/osrs-friend-monitor/friend-monitor-server/infra/metrics"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
)

// Store is a byte-level cache. Get reports ok=false on a miss.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	SetMany(ctx context.Context, entries map[string][]byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

func AccountKey(h model.AccountHash) string         { return "account:" + h.String() }
func ValidatedFriendsKey(h model.AccountHash) string { return "validated-friends-list:" + h.String() }
func LocationKey(h model.AccountHash) string        { return "location:" + h.String() }

var _ Store = (*Tiered)(nil)

// Tiered reads local first, then remote, filling local on a remote hit.
// Remote read failures degrade to a miss so callers fall through to the durable store.
type Tiered struct {
	local   *Local
	remote  Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewTiered(local *Local, remote Store, logger *slog.Logger, m *metrics.Metrics) *Tiered {
	return &Tiered{local: local, remote: remote, logger: logger, metrics: m}
}

func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if val, ok, _ := t.local.Get(ctx, key); ok {
		t.metrics.CacheTotal.WithLabelValues("local", "hit").Inc()
		return val, true, nil
	}
	t.metrics.CacheTotal.WithLabelValues("local", "miss").Inc()

	val, ok, err := t.remote.Get(ctx, key)
	if err != nil {
		t.metrics.CacheTotal.WithLabelValues("remote", "error").Inc()
		t.logger.Warn("REMOTE_CACHE_READ_FAILED", "key", key, "err", err)
		return nil, false, nil
	}
	if !ok {
		t.metrics.CacheTotal.WithLabelValues("remote", "miss").Inc()
		return nil, false, nil
	}
	t.metrics.CacheTotal.WithLabelValues("remote", "hit").Inc()
	t.local.put(key, val)
	return val, true, nil
}

func (t *Tiered) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out, _ := t.local.GetMany(ctx, keys)
	t.metrics.CacheTotal.WithLabelValues("local", "hit").Add(float64(len(out)))

	missing := make([]string, 0, len(keys)-len(out))
	for _, k := range keys {
		if _, ok := out[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}
	t.metrics.CacheTotal.WithLabelValues("local", "miss").Add(float64(len(missing)))

	found, err := t.remote.GetMany(ctx, missing)
	if err != nil {
		t.metrics.CacheTotal.WithLabelValues("remote", "error").Inc()
		t.logger.Warn("REMOTE_CACHE_READ_FAILED", "keys", len(missing), "err", err)
		return out, nil
	}
	t.metrics.CacheTotal.WithLabelValues("remote", "hit").Add(float64(len(found)))
	t.metrics.CacheTotal.WithLabelValues("remote", "miss").Add(float64(len(missing) - len(found)))

	for k, v := range found {
		t.local.put(k, v)
		out[k] = v
	}
	return out, nil
}

func (t *Tiered) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	t.local.put(key, val)
	return t.remote.Set(ctx, key, val, ttl)
}

func (t *Tiered) SetMany(ctx context.Context, entries map[string][]byte, ttl time.Duration) error {
	for k, v := range entries {
		t.local.put(k, v)
	}
	return t.remote.SetMany(ctx, entries, ttl)
}

func (t *Tiered) Delete(ctx context.Context, keys ...string) error {
	_ = t.local.Delete(ctx, keys...)
	return t.remote.Delete(ctx, keys...)
}

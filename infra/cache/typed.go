package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang/snappy"
)

func encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func decode(data []byte, v any) error {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return fmt.Errorf("snappy: %w", err)
	}
	return json.Unmarshal(raw, v)
}

// Typed stores values of V under keys derived from K.
// An entry that cannot be decoded is logged and treated as a miss.
type Typed[K comparable, V any] struct {
	store  Store
	key    func(K) string
	ttl    time.Duration
	logger *slog.Logger
}

func NewTyped[K comparable, V any](store Store, key func(K) string, ttl time.Duration, logger *slog.Logger) *Typed[K, V] {
	return &Typed[K, V]{store: store, key: key, ttl: ttl, logger: logger}
}

// Get returns nil, nil on a miss.
func (t *Typed[K, V]) Get(ctx context.Context, k K) (*V, error) {
	key := t.key(k)
	data, ok, err := t.store.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}

	v := new(V)
	if err := decode(data, v); err != nil {
		t.logger.Warn("CACHE_DECODE_FAILED", "key", key, "err", err)
		return nil, nil
	}
	return v, nil
}

// GetMany returns the hits only.
func (t *Typed[K, V]) GetMany(ctx context.Context, ks []K) (map[K]*V, error) {
	out := make(map[K]*V, len(ks))
	if len(ks) == 0 {
		return out, nil
	}

	keys := make([]string, len(ks))
	byKey := make(map[string]K, len(ks))
	for i, k := range ks {
		keys[i] = t.key(k)
		byKey[keys[i]] = k
	}

	found, err := t.store.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}
	for key, data := range found {
		v := new(V)
		if err := decode(data, v); err != nil {
			t.logger.Warn("CACHE_DECODE_FAILED", "key", key, "err", err)
			continue
		}
		out[byKey[key]] = v
	}
	return out, nil
}

func (t *Typed[K, V]) Set(ctx context.Context, k K, v *V) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	return t.store.Set(ctx, t.key(k), data, t.ttl)
}

func (t *Typed[K, V]) SetMany(ctx context.Context, vals map[K]*V) error {
	entries := make(map[string][]byte, len(vals))
	for k, v := range vals {
		data, err := encode(v)
		if err != nil {
			return err
		}
		entries[t.key(k)] = data
	}
	return t.store.SetMany(ctx, entries, t.ttl)
}

func (t *Typed[K, V]) Delete(ctx context.Context, ks ...K) error {
	keys := make([]string, len(ks))
	for i, k := range ks {
		keys[i] = t.key(k)
	}
	return t.store.Delete(ctx, keys...)
}

package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

var _ Store = (*Local)(nil)

// Local is the in-process tier. Entries expire after the tier-wide TTL; the per-call
// ttl is ignored because the remote tier owns the authoritative expiry.
type Local struct {
	lru *expirable.LRU[string, []byte]
}

func NewLocal(size int, ttl time.Duration) *Local {
	if size <= 0 {
		size = 10000
	}
	// [MEMORY_MANAGEMENT] Bounded LRU keeps only the hot accounts in memory.
	return &Local{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (l *Local) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, ok := l.lru.Get(key)
	return val, ok, nil
}

func (l *Local) GetMany(_ context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if val, ok := l.lru.Get(k); ok {
			out[k] = val
		}
	}
	return out, nil
}

func (l *Local) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	l.put(key, val)
	return nil
}

func (l *Local) SetMany(_ context.Context, entries map[string][]byte, _ time.Duration) error {
	for k, v := range entries {
		l.put(k, v)
	}
	return nil
}

func (l *Local) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		l.lru.Remove(k)
	}
	return nil
}

func (l *Local) put(key string, val []byte) {
	l.lru.Add(key, val)
}

/*
Package registry holds the live state of the broadcast engine.

  - Hub: one connection per account hash. The latest connection wins.
  - ContextStore: per-account throttling state, changed only through compare-and-swap.
  - Policy: the pure throttling state machine deciding when an account is due.

Both maps are sync.Map based; there is no global lock on the hot path.
*/
package registry

import (
	"sync"

	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
)

// Hubber defines the gateway for connection management and message routing.
type Hubber interface {
	Register(hash model.AccountHash, conn Connector)
	Unregister(hash model.AccountHash, conn Connector)
	Send(hash model.AccountHash, msg model.ServerMessage) bool
	Connected() []model.AccountHash
	IsConnected(hash model.AccountHash) bool
	Count() int
	Shutdown()
}

// Hub implements a [SCALABLE_REGISTRY] keyed by account hash.
type Hub struct {
	// conns stores Map[model.AccountHash]Connector. Optimized for [READ_HEAVY] workloads.
	conns sync.Map

	onConnect    []func(model.AccountHash)
	onDisconnect []func(model.AccountHash)
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register installs conn as the account's connection and closes any previous one.
func (h *Hub) Register(hash model.AccountHash, conn Connector) {
	old, loaded := h.conns.Swap(hash, conn)
	if loaded {
		if prev, ok := old.(Connector); ok && prev != conn {
			// [LATEST_WINS] The replaced session is shut down but the context survives.
			prev.Close()
		}
	}

	for _, fn := range h.onConnect {
		fn(hash)
	}
}

// Unregister removes conn if it still owns the slot. A connection that was already
// replaced only closes itself and leaves the newer one alone.
func (h *Hub) Unregister(hash model.AccountHash, conn Connector) {
	conn.Close()

	if !h.conns.CompareAndDelete(hash, conn) {
		return
	}

	for _, fn := range h.onDisconnect {
		fn(hash)
	}

	// [RECONNECT_RACE] A new session may have registered while the hooks ran; its
	// onConnect work could have been undone by them. Replay it.
	if _, ok := h.conns.Load(hash); ok {
		for _, fn := range h.onConnect {
			fn(hash)
		}
	}
}

func (h *Hub) Send(hash model.AccountHash, msg model.ServerMessage) bool {
	val, ok := h.conns.Load(hash)
	if !ok {
		return false
	}
	conn, ok := val.(Connector)
	if !ok {
		return false
	}
	return conn.Send(msg)
}

func (h *Hub) IsConnected(hash model.AccountHash) bool {
	_, ok := h.conns.Load(hash)
	return ok
}

func (h *Hub) Connected() []model.AccountHash {
	var out []model.AccountHash
	h.conns.Range(func(key, _ any) bool {
		out = append(out, key.(model.AccountHash))
		return true
	})
	return out
}

func (h *Hub) Count() int {
	n := 0
	h.conns.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Shutdown closes every connection. Transport handlers unregister themselves on exit.
func (h *Hub) Shutdown() {
	h.conns.Range(func(_, val any) bool {
		if conn, ok := val.(Connector); ok {
			conn.Close()
		}
		return true
	})
}

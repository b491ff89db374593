package registry

import "github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"

// Option defines a functional configuration type for the Hub.
type Option func(*Hub)

// WithOnConnect registers a hook fired after a connection takes the slot of an account.
// It fires on replacement too, and again when a registration races a disconnect, so it
// must be idempotent.
func WithOnConnect(fn func(model.AccountHash)) Option {
	return func(h *Hub) {
		h.onConnect = append(h.onConnect, fn)
	}
}

// WithOnDisconnect registers a hook fired once the account has no live connection.
func WithOnDisconnect(fn func(model.AccountHash)) Option {
	return func(h *Hub) {
		h.onDisconnect = append(h.onDisconnect, fn)
	}
}

// WithContextStore keeps store in step with the hub: a context exists iff a connection does.
func WithContextStore(store *ContextStore) Option {
	return func(h *Hub) {
		WithOnConnect(store.Create)(h)
		WithOnDisconnect(store.Destroy)(h)
	}
}

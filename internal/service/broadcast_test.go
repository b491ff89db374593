package service

import (
	"context"
	"errors"
	"testing"

	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/registry"
)

const carol model.AccountHash = 3

type broadcastEnv struct {
	*testEnv
	hub      *registry.Hub
	contexts *registry.ContextStore
	svc      *BroadcastService
	conns    map[model.AccountHash]registry.Connector
}

// newBroadcastEnv connects alice, bob and carol. Alice and Bob are mutual friends.
func newBroadcastEnv(t *testing.T) *broadcastEnv {
	t.Helper()
	env := newTestEnv(t)
	env.register(t, alice, "Alice", "Bob")
	env.register(t, bob, "Bob", "Alice")
	env.register(t, carol, "Carol", "Alice")
	env.drain(t)

	contexts := registry.NewContextStore(registry.DefaultUpdateAttempts)
	hub := registry.NewHub(registry.WithContextStore(contexts))
	svc, err := NewBroadcastService(hub, contexts, registry.DefaultPolicy(), env.accounts, env.caches.Locations, env.logger, env.metrics)
	if err != nil {
		t.Fatalf("new broadcaster: %v", err)
	}

	b := &broadcastEnv{testEnv: env, hub: hub, contexts: contexts, svc: svc, conns: map[model.AccountHash]registry.Connector{}}
	ctx := context.Background()
	for i, h := range []model.AccountHash{alice, bob, carol} {
		if err := env.caches.Locations.Set(ctx, h, &model.CachedLocation{AccountHash: h, X: 3200 + i, Y: 3200, Plane: 0, World: 301}); err != nil {
			t.Fatalf("seed location: %v", err)
		}
		conn := registry.NewConnector(ctx, h, 8)
		hub.Register(h, conn)
		b.conns[h] = conn
	}
	return b
}

func (b *broadcastEnv) next(t *testing.T, h model.AccountHash) model.ServerMessage {
	t.Helper()
	select {
	case msg := <-b.conns[h].Outbound():
		return msg
	default:
		t.Fatalf("no message for %d", h)
		return nil
	}
}

func (b *broadcastEnv) none(t *testing.T, h model.AccountHash) {
	t.Helper()
	select {
	case msg := <-b.conns[h].Outbound():
		t.Fatalf("unexpected message for %d: %+v", h, msg)
	default:
	}
}

func hashesOf(msg model.LocationMessage) map[model.AccountHash]bool {
	out := map[model.AccountHash]bool{}
	for _, u := range msg.Updates {
		out[u.AccountHash] = true
	}
	return out
}

func TestBroadcastPassSendsSnapshotsToDueAccounts(t *testing.T) {
	ctx := context.Background()
	b := newBroadcastEnv(t)

	stats, err := b.svc.BroadcastLocations(ctx, 1)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if stats.Due != 0 {
		t.Fatalf("nothing is due on tick 1, got %+v", stats)
	}

	stats, err = b.svc.BroadcastLocations(ctx, registry.DefaultSlowInterval)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if stats.Due != 3 || stats.Sent != 3 {
		t.Fatalf("stats %+v", stats)
	}

	msg, ok := b.next(t, alice).(model.LocationMessage)
	if !ok {
		t.Fatalf("alice got %T", msg)
	}
	got := hashesOf(msg)
	if !got[alice] || !got[bob] || got[carol] || len(got) != 2 {
		t.Fatalf("alice's snapshot: %+v", msg.Updates)
	}
	if msg.Updates[0].AccountHash != alice || msg.Updates[0].DisplayName != "Alice" {
		t.Fatalf("owner must come first with its name: %+v", msg.Updates[0])
	}

	// Carol lists Alice but Alice does not list Carol: only her own position.
	cm := b.next(t, carol).(model.LocationMessage)
	if got := hashesOf(cm); len(got) != 1 || !got[carol] {
		t.Fatalf("carol's snapshot: %+v", cm.Updates)
	}
	if b.svc.LastPass().Tick != registry.DefaultSlowInterval {
		t.Fatalf("last pass %+v", b.svc.LastPass())
	}
}

func TestBroadcastPassHonoursFastSpeed(t *testing.T) {
	ctx := context.Background()
	b := newBroadcastEnv(t)
	policy := registry.DefaultPolicy()

	const start = registry.DefaultSlowInterval
	if _, err := b.svc.BroadcastLocations(ctx, start); err != nil {
		t.Fatalf("pass: %v", err)
	}
	for _, h := range []model.AccountHash{alice, bob, carol} {
		b.next(t, h)
	}

	b.contexts.Update(alice, func(c model.AccountContext) model.AccountContext {
		return policy.SetSpeed(start, model.SpeedFast, c)
	})

	stats, err := b.svc.BroadcastLocations(ctx, start+registry.DefaultFastInterval)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if stats.Due != 1 {
		t.Fatalf("only alice is due: %+v", stats)
	}
	b.next(t, alice)
	b.none(t, bob)
}

// downLocations behaves like a remote tier behind an open breaker.
type downLocations struct{}

func (downLocations) Set(context.Context, model.AccountHash, *model.CachedLocation) error {
	return errors.New("breaker open")
}

func (downLocations) GetMany(context.Context, []model.AccountHash) (map[model.AccountHash]*model.CachedLocation, error) {
	return nil, errors.New("breaker open")
}

func TestBroadcastPassSurvivesLocationCacheOutage(t *testing.T) {
	b := newBroadcastEnv(t)
	svc, err := NewBroadcastService(b.hub, b.contexts, registry.DefaultPolicy(), b.accounts, downLocations{}, b.logger, b.metrics)
	if err != nil {
		t.Fatalf("new broadcaster: %v", err)
	}

	stats, err := svc.BroadcastLocations(context.Background(), registry.DefaultSlowInterval)
	if err != nil {
		t.Fatalf("pass aborted: %v", err)
	}
	if stats.Due != 3 || stats.Sent != 3 {
		t.Fatalf("stats %+v", stats)
	}
	for _, h := range []model.AccountHash{alice, bob, carol} {
		msg, ok := b.next(t, h).(model.LocationMessage)
		if !ok || len(msg.Updates) != 0 {
			t.Fatalf("account %d: want an empty snapshot, got %+v", h, msg)
		}
	}
}

func TestNotifyReachesAuthorAndConfirmedFriends(t *testing.T) {
	b := newBroadcastEnv(t)

	death := model.PlayerDeath{ActivityMeta: model.ActivityMeta{ID: "d1", AccountHash: bob}, X: 1, Y: 2}
	if err := b.svc.Notify(context.Background(), death); err != nil {
		t.Fatalf("notify: %v", err)
	}

	for _, h := range []model.AccountHash{alice, bob} {
		msg, ok := b.next(t, h).(model.FriendDeathMessage)
		if !ok || msg.AccountHash != bob || msg.DisplayName != "Bob" {
			t.Fatalf("recipient %d got %+v", h, msg)
		}
	}
	b.none(t, carol)
}

func TestNotifyIgnoresBatchedKinds(t *testing.T) {
	b := newBroadcastEnv(t)

	loc := model.LocationUpdate{ActivityMeta: model.ActivityMeta{AccountHash: alice}}
	if err := b.svc.Notify(context.Background(), loc); err != nil {
		t.Fatalf("notify: %v", err)
	}
	b.none(t, alice)
	b.none(t, bob)
}

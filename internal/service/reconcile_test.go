package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/osrs-friend-monitor/friend-monitor-server/infra/store"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
)

const (
	alice model.AccountHash = 1
	bob   model.AccountHash = 2
)

func TestDiffFriends(t *testing.T) {
	current := &model.ValidatedFriendsList{Friends: []model.ValidatedFriend{
		{DisplayName: "Bob", AccountHash: model.HashPtr(bob)},
		{DisplayName: "Carol"},
	}}

	d := DiffFriends([]string{"Dave", "Bob", "Dave", ""}, current)
	if len(d.Added) != 1 || d.Added[0] != "Dave" {
		t.Fatalf("added %v", d.Added)
	}
	if len(d.Removed) != 1 || d.Removed[0].DisplayName != "Carol" {
		t.Fatalf("removed %v", d.Removed)
	}
	if len(d.Unchanged) != 1 || d.Unchanged[0].AccountHash == nil {
		t.Fatalf("unchanged entry lost its hash: %v", d.Unchanged)
	}

	if !DiffFriends([]string{"Bob", "Carol"}, current).Empty() {
		t.Fatalf("same names should produce an empty diff")
	}
	if d := DiffFriends([]string{"Bob"}, nil); len(d.Added) != 1 {
		t.Fatalf("nil current list: %+v", d)
	}
}

func TestMutualAdditionConfirmsBothSides(t *testing.T) {
	env := newTestEnv(t)

	env.register(t, alice, "Alice", "Bob")
	env.register(t, bob, "Bob")
	env.drain(t)

	if e := entry(t, env.validated(t, alice), "Bob"); e.Confirmed() {
		t.Fatalf("one-sided entry confirmed: %+v", e)
	}

	env.register(t, bob, "Bob", "Alice")
	env.drain(t)

	a := entry(t, env.validated(t, alice), "Bob")
	if a.AccountHash == nil || *a.AccountHash != bob {
		t.Fatalf("alice's entry for bob: %+v", a)
	}
	b := entry(t, env.validated(t, bob), "Alice")
	if b.AccountHash == nil || *b.AccountHash != alice {
		t.Fatalf("bob's entry for alice: %+v", b)
	}
}

func TestOneSidedFriendStaysUnconfirmed(t *testing.T) {
	env := newTestEnv(t)

	env.register(t, bob, "Bob", "Carol")
	env.register(t, alice, "Alice", "Bob")
	env.drain(t)

	if e := entry(t, env.validated(t, alice), "Bob"); e.Confirmed() {
		t.Fatalf("bob does not list alice, entry must stay unconfirmed: %+v", e)
	}
	if l := env.validated(t, bob); l.Find("Alice") >= 0 {
		t.Fatalf("bob gained an entry for alice: %+v", l)
	}
}

func TestRemovalClearsTheOtherSide(t *testing.T) {
	env := newTestEnv(t)

	env.register(t, alice, "Alice", "Bob")
	env.register(t, bob, "Bob", "Alice")
	env.drain(t)
	if e := entry(t, env.validated(t, bob), "Alice"); !e.Confirmed() {
		t.Fatalf("setup: not mutual: %+v", e)
	}

	env.register(t, alice, "Alice")
	env.drain(t)

	if l := env.validated(t, alice); l.Find("Bob") >= 0 {
		t.Fatalf("alice still has bob: %+v", l)
	}
	if e := entry(t, env.validated(t, bob), "Alice"); e.Confirmed() {
		t.Fatalf("bob's entry for alice still confirmed: %+v", e)
	}
}

func TestReplaysDoNotWrite(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.register(t, alice, "Alice", "Bob")
	env.register(t, bob, "Bob", "Alice")
	env.drain(t)

	before := env.validated(t, alice).Version

	if err := env.recon.Recompute(ctx, model.ValidatedFriendsListUpdateRequest{AccountHash: alice}); err != nil {
		t.Fatalf("replayed recompute: %v", err)
	}
	if err := env.recon.ConfirmAddition(ctx, model.PotentialFriendAddition{
		SendingAccountHash:   bob,
		ReceivingAccountHash: alice,
		Time:                 env.clock.Now(),
	}); err != nil {
		t.Fatalf("replayed addition: %v", err)
	}

	if after := env.validated(t, alice).Version; after != before {
		t.Fatalf("replay wrote: version %d -> %d", before, after)
	}
	if msgs := env.queue.take(); len(msgs) != 0 {
		t.Fatalf("replay enqueued %v", msgs)
	}
}

func TestStaleAdditionIsDiscarded(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.register(t, alice, "Alice", "Bob")
	env.register(t, bob, "Bob", "Alice")
	env.queue.take()

	future := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := env.db.SaveValidatedFriendsList(ctx, model.ValidatedFriendsList{
		AccountHash: bob,
		Friends:     []model.ValidatedFriend{{DisplayName: "Alice", LastUpdated: future}},
	}, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := env.recon.ConfirmAddition(ctx, model.PotentialFriendAddition{
		SendingAccountHash:   alice,
		ReceivingAccountHash: bob,
		Time:                 env.clock.Now(),
	}); err != nil {
		t.Fatalf("addition: %v", err)
	}

	e := entry(t, env.validated(t, bob), "Alice")
	if e.Confirmed() || !e.LastUpdated.Equal(future) {
		t.Fatalf("newer entry overwritten by older message: %+v", e)
	}
}

func TestStaleRemovalIsDiscarded(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	// Alice has dropped Bob in game, so only the timestamp can stop the removal.
	env.register(t, alice, "Alice")
	env.register(t, bob, "Bob", "Alice")
	env.queue.take()

	future := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := env.db.SaveValidatedFriendsList(ctx, model.ValidatedFriendsList{
		AccountHash: bob,
		Friends:     []model.ValidatedFriend{{DisplayName: "Alice", AccountHash: model.HashPtr(alice), LastUpdated: future}},
	}, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	before := env.validated(t, bob).Version

	if err := env.recon.ConfirmRemoval(ctx, model.PotentialFriendRemoval{
		SendingAccountHash:   alice,
		ReceivingAccountHash: bob,
		Time:                 env.clock.Now(),
	}); err != nil {
		t.Fatalf("removal: %v", err)
	}

	l := env.validated(t, bob)
	e := entry(t, l, "Alice")
	if !e.Confirmed() || *e.AccountHash != alice || !e.LastUpdated.Equal(future) {
		t.Fatalf("newer entry overwritten by older removal: %+v", e)
	}
	if l.Version != before {
		t.Fatalf("stale removal wrote: version %d -> %d", before, l.Version)
	}
	if msgs := env.queue.take(); len(msgs) != 0 {
		t.Fatalf("stale removal enqueued %v", msgs)
	}
}

func TestMissingAccountIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	if err := env.recon.Recompute(context.Background(), model.ValidatedFriendsListUpdateRequest{AccountHash: 42}); err != nil {
		t.Fatalf("missing account must be acknowledged, got %v", err)
	}
}

// conflictingStore loses the first n validated list writes.
type conflictingStore struct {
	AccountStore
	lose  int32
	saves atomic.Int32
}

func (s *conflictingStore) SaveValidatedFriendsList(ctx context.Context, l model.ValidatedFriendsList, expected *model.Version) (*model.ValidatedFriendsList, error) {
	if s.saves.Add(1) <= s.lose {
		return nil, store.ErrConflict
	}
	return s.AccountStore.SaveValidatedFriendsList(ctx, l, expected)
}

func TestConflictIsRetried(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.register(t, alice, "Alice", "Bob")
	env.register(t, bob, "Bob", "Alice")
	env.queue.take()

	st := &conflictingStore{AccountStore: env.db, lose: 1}
	recon := NewReconcileService(st, env.accounts, env.queue, env.logger, env.metrics,
		WithClock(env.clock.Now), WithConflictRetry(3, 0))

	if err := recon.Recompute(ctx, model.ValidatedFriendsListUpdateRequest{AccountHash: alice}); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if got := st.saves.Load(); got != 2 {
		t.Fatalf("saves = %d, want 2", got)
	}
	if e := entry(t, env.validated(t, alice), "Bob"); !e.Confirmed() {
		t.Fatalf("entry after retry: %+v", e)
	}

	msgs := env.queue.take()
	if len(msgs) != 1 {
		t.Fatalf("want a single addition after commit, got %v", msgs)
	}
	if _, ok := msgs[0].(model.PotentialFriendAddition); !ok {
		t.Fatalf("unexpected message %T", msgs[0])
	}
}

func TestConflictExhaustionFails(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.register(t, alice, "Alice", "Bob")
	env.register(t, bob, "Bob", "Alice")
	env.queue.take()

	st := &conflictingStore{AccountStore: env.db, lose: 100}
	recon := NewReconcileService(st, env.accounts, env.queue, env.logger, env.metrics,
		WithClock(env.clock.Now), WithConflictRetry(3, 0))

	err := recon.Recompute(ctx, model.ValidatedFriendsListUpdateRequest{AccountHash: alice})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
	if got := st.saves.Load(); got != 3 {
		t.Fatalf("saves = %d, want 3", got)
	}
	if msgs := env.queue.take(); len(msgs) != 0 {
		t.Fatalf("failed stage enqueued %v", msgs)
	}
}

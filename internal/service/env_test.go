package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/alicebob/miniredis/v2"
	"github.com/osrs-friend-monitor/friend-monitor-server/config"
	"github.com/osrs-friend-monitor/friend-monitor-server/infra/cache"
	"github.com/osrs-friend-monitor/friend-monitor-server/infra/metrics"
	"github.com/osrs-friend-monitor/friend-monitor-server/infra/store"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
	"github.com/redis/go-redis/v9"
)

// recordingQueue stands in for the bus and keeps everything enqueued, in order.
type recordingQueue struct {
	mu   sync.Mutex
	msgs []model.QueueMessage
}

func (q *recordingQueue) Enqueue(_ context.Context, msg model.QueueMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, msg)
	return true
}

func (q *recordingQueue) Publisher() message.Publisher { return nil }

func (q *recordingQueue) take() []model.QueueMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.msgs
	q.msgs = nil
	return out
}

// stepClock moves one second forward on every read.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type testEnv struct {
	db       *store.DB
	caches   *cache.Caches
	queue    *recordingQueue
	clock    *stepClock
	metrics  *metrics.Metrics
	logger   *slog.Logger
	accounts *AccountService
	recon    *ReconcileService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := store.Open(ctx, store.Config{Path: filepath.Join(t.TempDir(), "friends.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewNop()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	remote := cache.NewRemote(client, logger)
	t.Cleanup(func() { _ = remote.Close() })

	cfg := &config.Config{Cache: config.CacheConfig{
		LocalSize:   128,
		LocalTTL:    time.Minute,
		RemoteTTL:   time.Minute,
		LocationTTL: time.Minute,
	}}
	local := cache.NewLocal(cfg.Cache.LocalSize, cfg.Cache.LocalTTL)
	caches := cache.NewCaches(cfg, cache.NewTiered(local, remote, logger, m), remote, logger)

	env := &testEnv{
		db:      db,
		caches:  caches,
		queue:   &recordingQueue{},
		clock:   newStepClock(),
		metrics: m,
		logger:  logger,
	}
	env.accounts = NewAccountService(db, caches, env.queue, logger)
	env.recon = NewReconcileService(db, env.accounts, env.queue, logger, m,
		WithClock(env.clock.Now),
		WithConflictRetry(DefaultConflictAttempts, 0),
	)
	return env
}

func (e *testEnv) register(t *testing.T, hash model.AccountHash, name string, friends ...string) {
	t.Helper()
	if _, err := e.accounts.CreateOrUpdateAccount(context.Background(), "user-"+hash.String(), AccountUpdate{
		AccountHash: hash,
		DisplayName: name,
		Friends:     friends,
	}); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
}

// drain delivers queued messages to the reconciler until nothing is left, the way the
// router would.
func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for round := 0; round < 10; round++ {
		msgs := e.queue.take()
		if len(msgs) == 0 {
			return
		}
		for _, msg := range msgs {
			var err error
			switch m := msg.(type) {
			case model.ValidatedFriendsListUpdateRequest:
				err = e.recon.Recompute(ctx, m)
			case model.PotentialFriendAddition:
				err = e.recon.ConfirmAddition(ctx, m)
			case model.PotentialFriendRemoval:
				err = e.recon.ConfirmRemoval(ctx, m)
			default:
				t.Fatalf("unexpected message %T", msg)
			}
			if err != nil {
				t.Fatalf("%T: %v", msg, err)
			}
		}
	}
	t.Fatalf("queue did not settle")
}

func (e *testEnv) validated(t *testing.T, hash model.AccountHash) *model.ValidatedFriendsList {
	t.Helper()
	l, err := e.db.GetValidatedFriendsList(context.Background(), hash)
	if err != nil {
		t.Fatalf("load validated list %d: %v", hash, err)
	}
	return l
}

// entry returns the validated entry for name, failing when it is absent.
func entry(t *testing.T, l *model.ValidatedFriendsList, name string) model.ValidatedFriend {
	t.Helper()
	i := l.Find(name)
	if i < 0 {
		t.Fatalf("no entry for %q in %+v", name, l)
	}
	return l.Friends[i]
}

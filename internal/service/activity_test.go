package service

import (
	"context"
	"errors"
	"testing"

	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
)

func newIngester(t *testing.T) (*ActivityService, *broadcastEnv) {
	t.Helper()
	b := newBroadcastEnv(t)
	svc := NewActivityService(b.accounts, b.db, b.caches.Locations, b.svc, b.logger, b.metrics)
	return svc, b
}

func TestIngestRejectsForeignAccount(t *testing.T) {
	svc, b := newIngester(t)
	ctx := context.Background()

	loc := model.LocationUpdate{ActivityMeta: model.ActivityMeta{AccountHash: alice}, X: 1}
	if _, err := svc.Ingest(ctx, "user-"+bob.String(), loc); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("foreign owner: want ErrUnauthorized, got %v", err)
	}
	unknown := model.LocationUpdate{ActivityMeta: model.ActivityMeta{AccountHash: 99}}
	if _, err := svc.Ingest(ctx, "user-99", unknown); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown account: want ErrUnauthorized, got %v", err)
	}

	recent, err := b.db.RecentActivity(ctx, alice, 10)
	if err != nil || len(recent) != 0 {
		t.Fatalf("rejected update recorded: %v err %v", recent, err)
	}
}

func TestIngestLocationUpdatesCache(t *testing.T) {
	svc, b := newIngester(t)
	ctx := context.Background()

	loc := model.LocationUpdate{ActivityMeta: model.ActivityMeta{AccountHash: alice, Timestamp: 1000}, X: 3222, Y: 3218, Plane: 1, World: 302}
	got, err := svc.Ingest(ctx, "user-"+alice.String(), loc)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if got.Meta().ID == "" {
		t.Fatalf("id not assigned")
	}

	cached, err := b.caches.Locations.Get(ctx, alice)
	if err != nil || cached == nil {
		t.Fatalf("location not cached: %v", err)
	}
	if cached.X != 3222 || cached.Plane != 1 || cached.World != 302 {
		t.Fatalf("cached %+v", cached)
	}

	// Locations only travel through the batch pass.
	b.none(t, alice)
	b.none(t, bob)

	recent, err := svc.Recent(ctx, "user-"+alice.String(), alice, 0)
	if err != nil || len(recent) != 1 {
		t.Fatalf("recent: %v err %v", recent, err)
	}
}

func TestIngestLevelUpFansOut(t *testing.T) {
	svc, b := newIngester(t)

	lvl := model.LevelUp{ActivityMeta: model.ActivityMeta{AccountHash: alice}, Skill: model.Attack, Level: 99}
	if _, err := svc.Ingest(context.Background(), "user-"+alice.String(), lvl); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	msg, ok := b.next(t, bob).(model.LevelUpMessage)
	if !ok || msg.Level != 99 || msg.DisplayName != "Alice" {
		t.Fatalf("bob got %+v", msg)
	}
	b.next(t, alice)
	b.none(t, carol)
}

func TestRecentRequiresOwnership(t *testing.T) {
	svc, _ := newIngester(t)
	if _, err := svc.Recent(context.Background(), "user-"+bob.String(), alice, 10); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
	if _, err := svc.Recent(context.Background(), "x", 99, 10); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("want ErrAccountNotFound, got %v", err)
	}
}

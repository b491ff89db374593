package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/osrs-friend-monitor/friend-monitor-server/infra/metrics"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/osrs-friend-monitor/friend-monitor-server/internal/service")

// sendConcurrency bounds the goroutines handing messages to connections in one fan-out.
const sendConcurrency = 64

// Broadcaster pushes activity to connected accounts and their mutual friends.
type Broadcaster interface {
	// BroadcastLocations runs the batch pass for tick.
	BroadcastLocations(ctx context.Context, tick uint64) (model.PassStats, error)
	// Notify fans a discrete activity out immediately. Batched kinds are a no-op.
	Notify(ctx context.Context, u model.ActivityUpdate) error
	LastPass() model.PassStats
}

// messageBuilder turns a discrete activity into the message its audience receives.
// A nil builder marks a kind that only travels through the batch pass.
type messageBuilder func(acc *model.RunescapeAccount, u model.ActivityUpdate) (model.ServerMessage, error)

func defaultBuilders() map[model.ActivityKind]messageBuilder {
	return map[model.ActivityKind]messageBuilder{
		model.KindLocation:    nil,
		model.KindPlayerDeath: buildFriendDeath,
		model.KindLevelUp:     buildLevelUp,
	}
}

func buildFriendDeath(acc *model.RunescapeAccount, u model.ActivityUpdate) (model.ServerMessage, error) {
	d, ok := u.(model.PlayerDeath)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnhandledActivity, u)
	}
	return model.FriendDeathMessage{
		X:           d.X,
		Y:           d.Y,
		Plane:       d.Plane,
		DisplayName: acc.DisplayName,
		AccountHash: acc.AccountHash,
	}, nil
}

func buildLevelUp(acc *model.RunescapeAccount, u model.ActivityUpdate) (model.ServerMessage, error) {
	l, ok := u.(model.LevelUp)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnhandledActivity, u)
	}
	return model.LevelUpMessage{
		Skill:       l.Skill,
		Level:       l.Level,
		DisplayName: acc.DisplayName,
		AccountHash: acc.AccountHash,
	}, nil
}

type BroadcastService struct {
	hub       registry.Hubber
	contexts  *registry.ContextStore
	policy    registry.Policy
	accounts  Accounts
	locations LocationCache
	logger    *slog.Logger
	metrics   *metrics.Metrics
	builders  map[model.ActivityKind]messageBuilder

	last atomic.Pointer[model.PassStats]
}

// NewBroadcastService refuses to start unless every activity kind has a routing rule.
func NewBroadcastService(
	hub registry.Hubber,
	contexts *registry.ContextStore,
	policy registry.Policy,
	accounts Accounts,
	locations LocationCache,
	logger *slog.Logger,
	m *metrics.Metrics,
) (*BroadcastService, error) {
	builders := defaultBuilders()
	for _, kind := range model.ActivityKinds() {
		if _, ok := builders[kind]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnhandledActivity, kind)
		}
	}

	return &BroadcastService{
		hub:       hub,
		contexts:  contexts,
		policy:    policy,
		accounts:  accounts,
		locations: locations,
		logger:    logger,
		metrics:   m,
		builders:  builders,
	}, nil
}

func (s *BroadcastService) LastPass() model.PassStats {
	if p := s.last.Load(); p != nil {
		return *p
	}
	return model.PassStats{}
}

// BroadcastLocations selects the due accounts for tick, loads their friends and the
// needed locations in bulk, and sends every due account one location snapshot.
func (s *BroadcastService) BroadcastLocations(ctx context.Context, tick uint64) (stats model.PassStats, err error) {
	ctx, span := tracer.Start(ctx, "broadcast.pass", trace.WithAttributes(attribute.Int64("tick", int64(tick))))
	defer span.End()

	start := time.Now()
	stats = model.PassStats{Tick: tick}
	defer func() {
		stats.DurationMs = time.Since(start).Milliseconds()
		s.metrics.PassDuration.Observe(float64(stats.DurationMs))
		s.last.Store(&stats)
	}()

	due := s.selectDue(tick)
	stats.Due = len(due)
	span.SetAttributes(attribute.Int("due", len(due)))
	if len(due) == 0 {
		return stats, nil
	}
	s.metrics.DueAccounts.Add(float64(len(due)))

	var (
		owners  map[model.AccountHash]*model.RunescapeAccount
		friends map[model.AccountHash]*model.ValidatedFriendsList
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		owners, err = s.accounts.GetAccounts(gCtx, due)
		return err
	})
	g.Go(func() (err error) {
		friends, err = s.accounts.GetValidatedFriendsLists(gCtx, due)
		return err
	})
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return stats, fmt.Errorf("load due accounts: %w", err)
	}

	audience := make(map[model.AccountHash]struct{}, len(due))
	for _, h := range due {
		audience[h] = struct{}{}
		for _, f := range friends[h].ConfirmedHashes() {
			audience[f] = struct{}{}
		}
	}
	wanted := make([]model.AccountHash, 0, len(audience))
	unnamed := make([]model.AccountHash, 0, len(audience))
	for h := range audience {
		wanted = append(wanted, h)
		if _, ok := owners[h]; !ok {
			unnamed = append(unnamed, h)
		}
	}

	var (
		locations map[model.AccountHash]*model.CachedLocation
		names     map[model.AccountHash]*model.RunescapeAccount
	)
	g, gCtx = errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		locations, err = s.locations.GetMany(gCtx, wanted)
		if err != nil {
			// [DEGRADE_TO_MISS] Positions are seconds old at best; an empty snapshot beats none.
			s.logger.Warn("LOCATION_CACHE_READ_FAILED", "tick", tick, "keys", len(wanted), "err", err)
			span.AddEvent("location cache unavailable")
			locations = nil
		}
		return nil
	})
	g.Go(func() (err error) {
		names, err = s.accounts.GetAccounts(gCtx, unnamed)
		return err
	})
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return stats, fmt.Errorf("load display names: %w", err)
	}
	if names == nil {
		names = make(map[model.AccountHash]*model.RunescapeAccount, len(owners))
	}
	for h, a := range owners {
		names[h] = a
	}

	messages := make(map[model.AccountHash]model.ServerMessage, len(due))
	for _, h := range due {
		messages[h] = locationSnapshot(h, friends[h], locations, names)
	}

	sent, dropped := s.fanOut(ctx, "batch", messages)
	stats.Sent, stats.Dropped = sent, dropped
	span.SetAttributes(attribute.Int("sent", sent), attribute.Int("dropped", dropped))
	return stats, nil
}

// selectDue advances every live context for tick. Due-ness and the push mark are
// decided inside the same compare-and-swap, so a concurrent speed change is never lost.
func (s *BroadcastService) selectDue(tick uint64) []model.AccountHash {
	var due []model.AccountHash
	for _, h := range s.contexts.Connected() {
		var isDue bool
		_, ok := s.contexts.Update(h, func(c model.AccountContext) model.AccountContext {
			next, d := s.policy.Advance(tick, c)
			isDue = d
			return next
		})
		if !ok {
			s.metrics.ContextUpdatesDropped.Inc()
			s.logger.Debug("CONTEXT_UPDATE_DROPPED", "account_hash", h, "tick", tick)
			continue
		}
		if isDue {
			due = append(due, h)
		}
	}
	return due
}

// locationSnapshot lists the owner first, then its confirmed friends. Accounts without
// a cached location or a resolvable display name are offline or racing; they are left out.
func locationSnapshot(
	owner model.AccountHash,
	friends *model.ValidatedFriendsList,
	locations map[model.AccountHash]*model.CachedLocation,
	names map[model.AccountHash]*model.RunescapeAccount,
) model.LocationMessage {
	hashes := append([]model.AccountHash{owner}, friends.ConfirmedHashes()...)
	msg := model.LocationMessage{Updates: make([]model.FriendLocation, 0, len(hashes))}
	for _, h := range hashes {
		loc, ok := locations[h]
		if !ok || loc == nil {
			continue
		}
		a := names[h]
		if a == nil || a.DisplayName == "" {
			continue
		}
		msg.Updates = append(msg.Updates, model.FriendLocation{
			X:           loc.X,
			Y:           loc.Y,
			Plane:       loc.Plane,
			DisplayName: a.DisplayName,
			AccountHash: h,
		})
	}
	return msg
}

// Notify routes a discrete activity to its author and every confirmed friend.
func (s *BroadcastService) Notify(ctx context.Context, u model.ActivityUpdate) error {
	build, ok := s.builders[u.Kind()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnhandledActivity, u.Kind())
	}
	if build == nil {
		return nil
	}

	ctx, span := tracer.Start(ctx, "broadcast.notify", trace.WithAttributes(attribute.String("kind", string(u.Kind()))))
	defer span.End()

	hash := u.Meta().AccountHash
	var (
		acc     *model.RunescapeAccount
		friends *model.ValidatedFriendsList
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		acc, err = s.accounts.GetAccount(gCtx, hash)
		return err
	})
	g.Go(func() (err error) {
		friends, err = s.accounts.GetValidatedFriendsList(gCtx, hash)
		return err
	})
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("load audience: %w", err)
	}
	if acc == nil {
		return ErrAccountNotFound
	}

	msg, err := build(acc, u)
	if err != nil {
		return err
	}

	recipients := append([]model.AccountHash{hash}, friends.ConfirmedHashes()...)
	messages := make(map[model.AccountHash]model.ServerMessage, len(recipients))
	for _, h := range recipients {
		messages[h] = msg
	}
	sent, dropped := s.fanOut(ctx, "event", messages)
	span.SetAttributes(attribute.Int("sent", sent), attribute.Int("dropped", dropped))
	return nil
}

// fanOut hands each message to its connection concurrently. Sends never block:
// an offline account or a full buffer counts as dropped.
func (s *BroadcastService) fanOut(ctx context.Context, path string, messages map[model.AccountHash]model.ServerMessage) (int, int) {
	var sent, dropped atomic.Int64

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(sendConcurrency)
	for h, msg := range messages {
		g.Go(func() error {
			if s.hub.Send(h, msg) {
				sent.Add(1)
			} else {
				dropped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.metrics.MessagesTotal.WithLabelValues(path, "sent").Add(float64(sent.Load()))
	s.metrics.MessagesTotal.WithLabelValues(path, "dropped").Add(float64(dropped.Load()))
	return int(sent.Load()), int(dropped.Load())
}

// IsUnhandled reports whether err means an activity kind has no routing rule.
func IsUnhandled(err error) bool { return errors.Is(err, ErrUnhandledActivity) }

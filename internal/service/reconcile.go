package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/osrs-friend-monitor/friend-monitor-server/infra/metrics"
	"github.com/osrs-friend-monitor/friend-monitor-server/infra/store"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/adapter/pubsub"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultConflictAttempts uint = 3
	DefaultConflictDelay         = 25 * time.Millisecond

	stageRecompute = "recompute"
	stageAddition  = "addition"
	stageRemoval   = "removal"
)

// Reconciler is the three-stage pipeline that turns one-sided in-game lists into
// the mutual, hash-keyed validated friends graph.
//
// Every stage is idempotent: replays and stale messages leave the graph unchanged.
type Reconciler interface {
	Recompute(ctx context.Context, req model.ValidatedFriendsListUpdateRequest) error
	ConfirmAddition(ctx context.Context, msg model.PotentialFriendAddition) error
	ConfirmRemoval(ctx context.Context, msg model.PotentialFriendRemoval) error
}

type ReconcileService struct {
	store    AccountStore
	accounts Accounts
	queue    pubsub.Enqueuer
	logger   *slog.Logger
	metrics  *metrics.Metrics

	now      func() time.Time
	attempts uint
	delay    time.Duration
}

type ReconcileOption func(*ReconcileService)

// WithClock replaces the wall clock used to stamp entries and messages.
func WithClock(now func() time.Time) ReconcileOption {
	return func(s *ReconcileService) { s.now = now }
}

// WithConflictRetry sets how often a stage re-reads and retries after a lost version race.
func WithConflictRetry(attempts uint, delay time.Duration) ReconcileOption {
	return func(s *ReconcileService) {
		s.attempts = attempts
		s.delay = delay
	}
}

func NewReconcileService(
	st AccountStore,
	accounts Accounts,
	queue pubsub.Enqueuer,
	logger *slog.Logger,
	m *metrics.Metrics,
	opts ...ReconcileOption,
) *ReconcileService {
	s := &ReconcileService{
		store:    st,
		accounts: accounts,
		queue:    queue,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		attempts: DefaultConflictAttempts,
		delay:    DefaultConflictDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// outcome is what one attempt of a stage decided.
type outcome struct {
	saved *model.ValidatedFriendsList
	out   []model.QueueMessage
	skip  string
}

// run executes attempt until it commits, skips or fails with something other than a
// version conflict. Follow-up messages are enqueued only once the write has committed.
func (s *ReconcileService) run(ctx context.Context, stage string, attrs []attribute.KeyValue, attempt func(context.Context) (outcome, error)) error {
	ctx, span := tracer.Start(ctx, "reconcile."+stage, trace.WithAttributes(attrs...))
	defer span.End()

	res, err := backoff.Retry(ctx, func() (outcome, error) {
		res, err := attempt(ctx)
		if err != nil && !errors.Is(err, store.ErrConflict) {
			return res, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.delay)),
		backoff.WithMaxTries(s.attempts),
	)
	if err != nil {
		s.metrics.ReconcileTotal.WithLabelValues(stage, "failed").Inc()
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s: %w", stage, err)
	}

	if res.skip != "" {
		s.metrics.ReconcileTotal.WithLabelValues(stage, "skipped").Inc()
		span.SetAttributes(attribute.String("skip", res.skip))
		s.logger.Debug("RECONCILE_SKIPPED", append([]any{"stage", stage, "reason", res.skip}, attrArgs(attrs)...)...)
		return nil
	}

	s.accounts.RefreshValidatedFriendsList(ctx, res.saved)
	for _, m := range res.out {
		s.queue.Enqueue(ctx, m)
	}
	s.metrics.ReconcileTotal.WithLabelValues(stage, "applied").Inc()
	return nil
}

func attrArgs(attrs []attribute.KeyValue) []any {
	out := make([]any, 0, len(attrs)*2)
	for _, a := range attrs {
		out = append(out, string(a.Key), a.Value.Emit())
	}
	return out
}

func skipped(reason string) (outcome, error) { return outcome{skip: reason}, nil }

// ownedList returns the in-game list registered under acc's display name, or nil when
// the name is unknown or currently belongs to another account.
func (s *ReconcileService) ownedList(ctx context.Context, acc *model.RunescapeAccount) (*model.InGameFriendsList, error) {
	l, err := s.store.GetInGameFriendsList(ctx, acc.DisplayName)
	if err != nil || l == nil || l.AccountHash != acc.AccountHash {
		return nil, err
	}
	return l, nil
}

// Recompute rebuilds the owner's validated list from its in-game list. Names that still
// match keep their entries; new names are confirmed at once when the other side already
// lists the owner; dropped confirmed friends are told to remove the owner.
func (s *ReconcileService) Recompute(ctx context.Context, req model.ValidatedFriendsListUpdateRequest) error {
	attrs := []attribute.KeyValue{attribute.Int64("account_hash", int64(req.AccountHash))}

	return s.run(ctx, stageRecompute, attrs, func(ctx context.Context) (outcome, error) {
		owner, err := s.store.GetAccount(ctx, req.AccountHash)
		if err != nil {
			return outcome{}, err
		}
		if owner == nil {
			return skipped("account missing")
		}
		inGame, err := s.ownedList(ctx, owner)
		if err != nil {
			return outcome{}, err
		}
		if inGame == nil {
			return skipped("in-game list missing")
		}
		current, err := s.store.GetValidatedFriendsList(ctx, owner.AccountHash)
		if err != nil {
			return outcome{}, err
		}

		diff := DiffFriends(inGame.FriendDisplayNames, current)
		if diff.Empty() {
			return skipped("no change")
		}

		now := s.now()
		var out []model.QueueMessage
		next := model.ValidatedFriendsList{
			AccountHash: owner.AccountHash,
			Friends:     slices.Clone(diff.Unchanged),
		}

		for _, f := range diff.Removed {
			if f.AccountHash == nil {
				continue
			}
			out = append(out, model.PotentialFriendRemoval{
				SendingAccountHash:   owner.AccountHash,
				ReceivingAccountHash: *f.AccountHash,
				Time:                 now,
			})
		}

		var others map[string]*model.InGameFriendsList
		if len(diff.Added) > 0 {
			if others, err = s.store.GetInGameFriendsLists(ctx, diff.Added); err != nil {
				return outcome{}, err
			}
		}
		for _, name := range diff.Added {
			entry := model.ValidatedFriend{DisplayName: name, LastUpdated: now}
			if other := others[name]; other != nil && other.AccountHash != owner.AccountHash && other.Contains(owner.DisplayName) {
				entry.AccountHash = model.HashPtr(other.AccountHash)
				out = append(out, model.PotentialFriendAddition{
					SendingAccountHash:   owner.AccountHash,
					ReceivingAccountHash: other.AccountHash,
					Time:                 now,
				})
			}
			next.Friends = append(next.Friends, entry)
		}
		slices.SortFunc(next.Friends, func(a, b model.ValidatedFriend) int {
			return strings.Compare(a.DisplayName, b.DisplayName)
		})

		saved, err := s.store.SaveValidatedFriendsList(ctx, next, versionOf(current))
		if err != nil {
			return outcome{}, err
		}
		return outcome{saved: saved, out: out}, nil
	})
}

// ConfirmAddition marks the sender as a confirmed friend of the receiver when both
// in-game lists still name each other.
func (s *ReconcileService) ConfirmAddition(ctx context.Context, msg model.PotentialFriendAddition) error {
	attrs := []attribute.KeyValue{
		attribute.Int64("sender", int64(msg.SendingAccountHash)),
		attribute.Int64("receiver", int64(msg.ReceivingAccountHash)),
	}

	return s.run(ctx, stageAddition, attrs, func(ctx context.Context) (outcome, error) {
		sender, receiver, err := s.pair(ctx, msg.SendingAccountHash, msg.ReceivingAccountHash)
		if err != nil {
			return outcome{}, err
		}
		if sender == nil || receiver == nil {
			return skipped("account missing")
		}

		senderList, err := s.ownedList(ctx, sender)
		if err != nil {
			return outcome{}, err
		}
		if !senderList.Contains(receiver.DisplayName) {
			return skipped("sender no longer lists receiver")
		}
		receiverList, err := s.ownedList(ctx, receiver)
		if err != nil {
			return outcome{}, err
		}
		if !receiverList.Contains(sender.DisplayName) {
			return skipped("not mutual")
		}

		current, err := s.store.GetValidatedFriendsList(ctx, receiver.AccountHash)
		if err != nil {
			return outcome{}, err
		}
		next := cloneList(current, receiver.AccountHash)
		now := s.now()

		if i := next.Find(sender.DisplayName); i >= 0 {
			entry := next.Friends[i]
			if entry.LastUpdated.After(msg.Time) {
				return skipped("stale")
			}
			if entry.AccountHash != nil && *entry.AccountHash == sender.AccountHash {
				return skipped("already confirmed")
			}
			next.Friends[i].AccountHash = model.HashPtr(sender.AccountHash)
			next.Friends[i].LastUpdated = now
		} else {
			// Both in-game lists were just checked, so the receiver's own recompute may lag.
			next.Friends = append(next.Friends, model.ValidatedFriend{
				DisplayName: sender.DisplayName,
				AccountHash: model.HashPtr(sender.AccountHash),
				LastUpdated: now,
			})
			slices.SortFunc(next.Friends, func(a, b model.ValidatedFriend) int {
				return strings.Compare(a.DisplayName, b.DisplayName)
			})
		}

		saved, err := s.store.SaveValidatedFriendsList(ctx, next, versionOf(current))
		if err != nil {
			return outcome{}, err
		}
		return outcome{saved: saved}, nil
	})
}

// ConfirmRemoval clears the sender's hash from the receiver's list once the sender's
// in-game list no longer names the receiver.
func (s *ReconcileService) ConfirmRemoval(ctx context.Context, msg model.PotentialFriendRemoval) error {
	attrs := []attribute.KeyValue{
		attribute.Int64("sender", int64(msg.SendingAccountHash)),
		attribute.Int64("receiver", int64(msg.ReceivingAccountHash)),
	}

	return s.run(ctx, stageRemoval, attrs, func(ctx context.Context) (outcome, error) {
		sender, receiver, err := s.pair(ctx, msg.SendingAccountHash, msg.ReceivingAccountHash)
		if err != nil {
			return outcome{}, err
		}
		if sender == nil || receiver == nil {
			return skipped("account missing")
		}

		senderList, err := s.ownedList(ctx, sender)
		if err != nil {
			return outcome{}, err
		}
		if senderList.Contains(receiver.DisplayName) {
			return skipped("sender lists receiver again")
		}

		current, err := s.store.GetValidatedFriendsList(ctx, receiver.AccountHash)
		if err != nil {
			return outcome{}, err
		}
		i := current.Find(sender.DisplayName)
		if i < 0 {
			return skipped("no entry")
		}
		entry := current.Friends[i]
		if entry.AccountHash == nil {
			return skipped("already unconfirmed")
		}
		if *entry.AccountHash != sender.AccountHash {
			return skipped("entry belongs to another account")
		}
		if entry.LastUpdated.After(msg.Time) {
			return skipped("stale")
		}

		next := cloneList(current, receiver.AccountHash)
		next.Friends[i].AccountHash = nil
		next.Friends[i].LastUpdated = s.now()

		saved, err := s.store.SaveValidatedFriendsList(ctx, next, versionOf(current))
		if err != nil {
			return outcome{}, err
		}
		return outcome{saved: saved}, nil
	})
}

func (s *ReconcileService) pair(ctx context.Context, a, b model.AccountHash) (*model.RunescapeAccount, *model.RunescapeAccount, error) {
	accs, err := s.store.GetAccounts(ctx, []model.AccountHash{a, b})
	if err != nil {
		return nil, nil, err
	}
	return accs[a], accs[b], nil
}

func cloneList(l *model.ValidatedFriendsList, owner model.AccountHash) model.ValidatedFriendsList {
	if l == nil {
		return model.ValidatedFriendsList{AccountHash: owner}
	}
	next := *l
	next.Friends = slices.Clone(l.Friends)
	return next
}

func versionOf(l *model.ValidatedFriendsList) *model.Version {
	if l == nil {
		return nil
	}
	v := l.Version
	return &v
}

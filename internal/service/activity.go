package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/osrs-friend-monitor/friend-monitor-server/infra/metrics"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
)

// DefaultRecentLimit caps the activity history returned when the caller gives no limit.
const DefaultRecentLimit = 50

// Ingester accepts activity reported by game clients.
type Ingester interface {
	Ingest(ctx context.Context, userID string, u model.ActivityUpdate) (model.ActivityUpdate, error)
	Recent(ctx context.Context, userID string, hash model.AccountHash, limit int) ([]model.ActivityUpdate, error)
}

type ActivityService struct {
	accounts    Accounts
	store       ActivityStore
	locations   LocationCache
	broadcaster Broadcaster
	logger      *slog.Logger
	metrics     *metrics.Metrics
	newID       func() string
}

func NewActivityService(
	accounts Accounts,
	store ActivityStore,
	locations LocationCache,
	broadcaster Broadcaster,
	logger *slog.Logger,
	m *metrics.Metrics,
) *ActivityService {
	return &ActivityService{
		accounts:    accounts,
		store:       store,
		locations:   locations,
		broadcaster: broadcaster,
		logger:      logger,
		metrics:     m,
		newID:       uuid.NewString,
	}
}

// Ingest checks that userID owns the reporting account, records the update and routes it:
// locations land in the cache for the next batch pass, discrete events fan out now.
func (s *ActivityService) Ingest(ctx context.Context, userID string, u model.ActivityUpdate) (model.ActivityUpdate, error) {
	kind := string(u.Kind())
	meta := u.Meta()

	acc, err := s.accounts.GetAccount(ctx, meta.AccountHash)
	if err != nil {
		s.metrics.ActivityTotal.WithLabelValues(kind, "failed").Inc()
		return nil, fmt.Errorf("load account: %w", err)
	}
	if acc == nil || acc.UserID != userID {
		s.metrics.ActivityTotal.WithLabelValues(kind, "rejected").Inc()
		s.logger.Warn("ACTIVITY_REJECTED",
			"account_hash", meta.AccountHash,
			"user_id", userID,
			"kind", kind)
		return nil, ErrUnauthorized
	}

	if meta.ID == "" {
		u = model.WithID(u, s.newID())
	}

	// [DURABLE_FIRST] Fan-out is best effort, the log is not.
	if err := s.store.AppendActivity(ctx, u); err != nil {
		s.metrics.ActivityTotal.WithLabelValues(kind, "failed").Inc()
		return nil, fmt.Errorf("append activity: %w", err)
	}

	if loc, ok := u.(model.LocationUpdate); ok {
		if err := s.locations.Set(ctx, meta.AccountHash, &model.CachedLocation{
			AccountHash: meta.AccountHash,
			X:           loc.X,
			Y:           loc.Y,
			Plane:       loc.Plane,
			World:       loc.World,
		}); err != nil {
			s.logger.Warn("LOCATION_CACHE_WRITE_FAILED", "account_hash", meta.AccountHash, "err", err)
		}
	}

	if err := s.broadcaster.Notify(ctx, u); err != nil {
		if IsUnhandled(err) {
			s.metrics.ActivityTotal.WithLabelValues(kind, "failed").Inc()
			return nil, err
		}
		s.logger.Warn("ACTIVITY_FANOUT_FAILED",
			"account_hash", meta.AccountHash,
			"kind", kind,
			"err", err)
	}

	s.metrics.ActivityTotal.WithLabelValues(kind, "accepted").Inc()
	return u, nil
}

// Recent returns the newest activity of an account owned by userID.
func (s *ActivityService) Recent(ctx context.Context, userID string, hash model.AccountHash, limit int) ([]model.ActivityUpdate, error) {
	acc, err := s.accounts.GetAccount(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if acc == nil {
		return nil, ErrAccountNotFound
	}
	if acc.UserID != userID {
		return nil, ErrUnauthorized
	}

	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return s.store.RecentActivity(ctx, hash, limit)
}

package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
)

// ReconcilerMiddleware implements [DECORATOR_PATTERN] to add observability
// to the reconciliation stages without touching their logic.
type ReconcilerMiddleware struct {
	Next   Reconciler
	Logger *slog.Logger
}

func NewReconcilerMiddleware(next Reconciler, logger *slog.Logger) Reconciler {
	return &ReconcilerMiddleware{
		Next:   next,
		Logger: logger,
	}
}

func (m *ReconcilerMiddleware) Recompute(ctx context.Context, req model.ValidatedFriendsListUpdateRequest) error {
	start := time.Now()
	err := m.Next.Recompute(ctx, req)
	m.log("RECOMPUTE", start, err, "account_hash", req.AccountHash)
	return err
}

func (m *ReconcilerMiddleware) ConfirmAddition(ctx context.Context, msg model.PotentialFriendAddition) error {
	start := time.Now()
	err := m.Next.ConfirmAddition(ctx, msg)
	m.log("CONFIRM_ADDITION", start, err,
		"sender", msg.SendingAccountHash,
		"receiver", msg.ReceivingAccountHash)
	return err
}

func (m *ReconcilerMiddleware) ConfirmRemoval(ctx context.Context, msg model.PotentialFriendRemoval) error {
	start := time.Now()
	err := m.Next.ConfirmRemoval(ctx, msg)
	m.log("CONFIRM_REMOVAL", start, err,
		"sender", msg.SendingAccountHash,
		"receiver", msg.ReceivingAccountHash)
	return err
}

func (m *ReconcilerMiddleware) log(stage string, start time.Time, err error, args ...any) {
	args = append(args, "duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		m.Logger.Error(stage+"_FAILED", append(args, "err", err)...)
		return
	}
	m.Logger.Debug(stage+"_COMPLETED", args...)
}

package amqp

import (
	"context"

	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
)

// [ON_UPDATE_REQUESTED]
func (h *MessageHandler) OnUpdateRequested(ctx context.Context, req model.ValidatedFriendsListUpdateRequest) error {
	return h.reconciler.Recompute(ctx, req)
}

// [ON_POTENTIAL_ADDITION]
func (h *MessageHandler) OnPotentialAddition(ctx context.Context, msg model.PotentialFriendAddition) error {
	return h.reconciler.ConfirmAddition(ctx, msg)
}

// [ON_POTENTIAL_REMOVAL]
func (h *MessageHandler) OnPotentialRemoval(ctx context.Context, msg model.PotentialFriendRemoval) error {
	return h.reconciler.ConfirmRemoval(ctx, msg)
}

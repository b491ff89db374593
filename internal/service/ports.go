package service

import (
	"context"

	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
)

// AccountStore is the durable side of the account and friends data.
// Reads return nil, nil for records that do not exist.
type AccountStore interface {
	GetAccount(ctx context.Context, hash model.AccountHash) (*model.RunescapeAccount, error)
	GetAccounts(ctx context.Context, hashes []model.AccountHash) (map[model.AccountHash]*model.RunescapeAccount, error)
	SaveAccount(ctx context.Context, a model.RunescapeAccount, expected *model.Version) (*model.RunescapeAccount, error)

	GetInGameFriendsList(ctx context.Context, displayName string) (*model.InGameFriendsList, error)
	GetInGameFriendsLists(ctx context.Context, displayNames []string) (map[string]*model.InGameFriendsList, error)
	SaveInGameFriendsList(ctx context.Context, l model.InGameFriendsList, expected *model.Version) (*model.InGameFriendsList, error)
	DeleteInGameFriendsList(ctx context.Context, displayName string) error

	GetValidatedFriendsList(ctx context.Context, hash model.AccountHash) (*model.ValidatedFriendsList, error)
	GetValidatedFriendsLists(ctx context.Context, hashes []model.AccountHash) (map[model.AccountHash]*model.ValidatedFriendsList, error)
	SaveValidatedFriendsList(ctx context.Context, l model.ValidatedFriendsList, expected *model.Version) (*model.ValidatedFriendsList, error)
}

// ActivityStore is the durable activity log.
type ActivityStore interface {
	AppendActivity(ctx context.Context, u model.ActivityUpdate) error
	RecentActivity(ctx context.Context, hash model.AccountHash, limit int) ([]model.ActivityUpdate, error)
}

// LocationCache holds the short-lived last position of each active account.
type LocationCache interface {
	Set(ctx context.Context, hash model.AccountHash, loc *model.CachedLocation) error
	GetMany(ctx context.Context, hashes []model.AccountHash) (map[model.AccountHash]*model.CachedLocation, error)
}

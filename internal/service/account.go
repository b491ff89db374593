package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/osrs-friend-monitor/friend-monitor-server/infra/cache"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/adapter/pubsub"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
)

// Accounts is the cache-through view of accounts and validated friend lists,
// plus the registration entry point used by game clients.
type Accounts interface {
	GetAccount(ctx context.Context, hash model.AccountHash) (*model.RunescapeAccount, error)
	GetAccounts(ctx context.Context, hashes []model.AccountHash) (map[model.AccountHash]*model.RunescapeAccount, error)
	GetValidatedFriendsList(ctx context.Context, hash model.AccountHash) (*model.ValidatedFriendsList, error)
	GetValidatedFriendsLists(ctx context.Context, hashes []model.AccountHash) (map[model.AccountHash]*model.ValidatedFriendsList, error)

	// RefreshValidatedFriendsList publishes a freshly committed list to the caches.
	RefreshValidatedFriendsList(ctx context.Context, l *model.ValidatedFriendsList)

	CreateOrUpdateAccount(ctx context.Context, userID string, upd AccountUpdate) (*model.RunescapeAccount, error)
	OnFriendsListChanged(ctx context.Context, hash model.AccountHash) bool
}

// AccountUpdate is what a game client reports on login and whenever its friends list changes.
type AccountUpdate struct {
	AccountHash         model.AccountHash `json:"accountHash"`
	DisplayName         string            `json:"displayName"`
	PreviousDisplayName string            `json:"previousDisplayName,omitempty"`
	Friends             []string          `json:"friends"`
}

func (u AccountUpdate) validate() error {
	switch {
	case u.AccountHash == 0:
		return fmt.Errorf("%w: missing account hash", ErrInvalidAccount)
	case strings.TrimSpace(u.DisplayName) == "":
		return fmt.Errorf("%w: missing display name", ErrInvalidAccount)
	}
	return nil
}

type AccountService struct {
	store  AccountStore
	caches *cache.Caches
	queue  pubsub.Enqueuer
	logger *slog.Logger
	now    func() time.Time
}

func NewAccountService(store AccountStore, caches *cache.Caches, queue pubsub.Enqueuer, logger *slog.Logger) *AccountService {
	return &AccountService{
		store:  store,
		caches: caches,
		queue:  queue,
		logger: logger,
		now:    time.Now,
	}
}

func (s *AccountService) GetAccount(ctx context.Context, hash model.AccountHash) (*model.RunescapeAccount, error) {
	res, err := s.GetAccounts(ctx, []model.AccountHash{hash})
	if err != nil {
		return nil, err
	}
	return res[hash], nil
}

func (s *AccountService) GetAccounts(ctx context.Context, hashes []model.AccountHash) (map[model.AccountHash]*model.RunescapeAccount, error) {
	return cacheThrough(ctx, s.logger, s.caches.Accounts, hashes, s.store.GetAccounts)
}

func (s *AccountService) GetValidatedFriendsList(ctx context.Context, hash model.AccountHash) (*model.ValidatedFriendsList, error) {
	res, err := s.GetValidatedFriendsLists(ctx, []model.AccountHash{hash})
	if err != nil {
		return nil, err
	}
	return res[hash], nil
}

func (s *AccountService) GetValidatedFriendsLists(ctx context.Context, hashes []model.AccountHash) (map[model.AccountHash]*model.ValidatedFriendsList, error) {
	return cacheThrough(ctx, s.logger, s.caches.ValidatedFriends, hashes, s.store.GetValidatedFriendsLists)
}

func (s *AccountService) RefreshValidatedFriendsList(ctx context.Context, l *model.ValidatedFriendsList) {
	if l == nil {
		return
	}
	if err := s.caches.ValidatedFriends.Set(ctx, l.AccountHash, l); err != nil {
		// [STALE_TOLERATED] The entry expires on its own; readers see the old list until then.
		s.logger.Warn("CACHE_REFRESH_FAILED", "account_hash", l.AccountHash, "err", err)
	}
}

// CreateOrUpdateAccount registers the account for userID, follows renames and stores the
// reported in-game friends list. A changed list triggers a validated list recompute.
func (s *AccountService) CreateOrUpdateAccount(ctx context.Context, userID string, upd AccountUpdate) (*model.RunescapeAccount, error) {
	if err := upd.validate(); err != nil {
		return nil, err
	}

	existing, err := s.store.GetAccount(ctx, upd.AccountHash)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if existing != nil && existing.UserID != userID {
		return nil, ErrUnauthorized
	}

	saved, err := s.saveAccount(ctx, userID, upd, existing)
	if err != nil {
		return nil, err
	}
	if err := s.caches.Accounts.Set(ctx, saved.AccountHash, saved); err != nil {
		s.logger.Warn("CACHE_REFRESH_FAILED", "account_hash", saved.AccountHash, "err", err)
	}

	friends := model.NormalizeFriendNames(upd.Friends)
	current, err := s.store.GetInGameFriendsList(ctx, saved.DisplayName)
	if err != nil {
		return nil, fmt.Errorf("load in-game friends list: %w", err)
	}
	if current != nil && current.AccountHash == saved.AccountHash && current.SameFriends(friends) {
		return saved, nil
	}

	var expected *model.Version
	if current != nil {
		expected = &current.Version
	}
	if _, err := s.store.SaveInGameFriendsList(ctx, model.InGameFriendsList{
		DisplayName:        saved.DisplayName,
		AccountHash:        saved.AccountHash,
		FriendDisplayNames: friends,
	}, expected); err != nil {
		return nil, fmt.Errorf("save in-game friends list: %w", err)
	}

	s.logger.Debug("IN_GAME_FRIENDS_LIST_SAVED",
		"account_hash", saved.AccountHash,
		"display_name", saved.DisplayName,
		"friends", len(friends))

	s.OnFriendsListChanged(ctx, saved.AccountHash)
	return saved, nil
}

func (s *AccountService) saveAccount(ctx context.Context, userID string, upd AccountUpdate, existing *model.RunescapeAccount) (*model.RunescapeAccount, error) {
	next := model.RunescapeAccount{
		AccountHash:  upd.AccountHash,
		UserID:       userID,
		DisplayName:  upd.DisplayName,
		PreviousName: upd.PreviousDisplayName,
	}

	switch {
	case existing == nil:
		saved, err := s.store.SaveAccount(ctx, next, nil)
		if err != nil {
			return nil, fmt.Errorf("create account: %w", err)
		}
		s.logger.Info("ACCOUNT_CREATED", "account_hash", saved.AccountHash, "display_name", saved.DisplayName)
		return saved, nil

	case existing.DisplayName != upd.DisplayName:
		next.PreviousName = existing.DisplayName
		saved, err := s.store.SaveAccount(ctx, next, &existing.Version)
		if err != nil {
			return nil, fmt.Errorf("rename account: %w", err)
		}
		// [RENAME] The old name may be taken by someone else now; its list is no longer ours.
		if err := s.store.DeleteInGameFriendsList(ctx, existing.DisplayName); err != nil {
			s.logger.Warn("STALE_FRIENDS_LIST_DELETE_FAILED", "display_name", existing.DisplayName, "err", err)
		}
		s.logger.Info("ACCOUNT_RENAMED",
			"account_hash", saved.AccountHash,
			"from", existing.DisplayName,
			"to", saved.DisplayName)
		return saved, nil

	default:
		return existing, nil
	}
}

// OnFriendsListChanged asks the reconciler to recompute hash's validated list.
func (s *AccountService) OnFriendsListChanged(ctx context.Context, hash model.AccountHash) bool {
	return s.queue.Enqueue(ctx, model.ValidatedFriendsListUpdateRequest{
		AccountHash: hash,
		EnqueueTime: s.now(),
	})
}

// cacheThrough reads hashes from c and fills the gaps from load, writing them back.
// A failing cache only costs a store round trip.
func cacheThrough[V any](
	ctx context.Context,
	logger *slog.Logger,
	c *cache.Typed[model.AccountHash, V],
	hashes []model.AccountHash,
	load func(context.Context, []model.AccountHash) (map[model.AccountHash]*V, error),
) (map[model.AccountHash]*V, error) {
	out := make(map[model.AccountHash]*V, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}

	hits, err := c.GetMany(ctx, hashes)
	if err != nil {
		logger.Warn("CACHE_READ_FAILED", "keys", len(hashes), "err", err)
		hits = nil
	}

	missing := make([]model.AccountHash, 0, len(hashes))
	for _, h := range hashes {
		if v, ok := hits[h]; ok && v != nil {
			out[h] = v
			continue
		}
		missing = append(missing, h)
	}
	if len(missing) == 0 {
		return out, nil
	}

	loaded, err := load(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("load from store: %w", err)
	}
	if len(loaded) > 0 {
		if err := c.SetMany(ctx, loaded); err != nil {
			logger.Warn("CACHE_WRITE_FAILED", "keys", len(loaded), "err", err)
		}
	}
	for h, v := range loaded {
		out[h] = v
	}
	return out, nil
}

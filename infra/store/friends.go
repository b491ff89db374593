package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
)

func scanInGame(row interface{ Scan(...any) error }) (*model.InGameFriendsList, error) {
	var (
		l       model.InGameFriendsList
		friends string
	)
	if err := row.Scan(&l.DisplayName, &l.AccountHash, &friends, &l.Version); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(friends), &l.FriendDisplayNames); err != nil {
		return nil, fmt.Errorf("decode in-game friends of %s: %w", l.DisplayName, err)
	}
	return &l, nil
}

// GetInGameFriendsList returns nil, nil when no list was reported under displayName.
func (d *DB) GetInGameFriendsList(ctx context.Context, displayName string) (*model.InGameFriendsList, error) {
	row := d.QueryRowContext(ctx,
		`SELECT display_name, account_hash, friends, version FROM in_game_friends_lists WHERE display_name = ?`, displayName)
	l, err := scanInGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

// GetInGameFriendsLists is keyed by display name.
func (d *DB) GetInGameFriendsLists(ctx context.Context, displayNames []string) (map[string]*model.InGameFriendsList, error) {
	out := make(map[string]*model.InGameFriendsList, len(displayNames))
	if len(displayNames) == 0 {
		return out, nil
	}

	args := make([]any, len(displayNames))
	for i, n := range displayNames {
		args[i] = n
	}
	rows, err := d.QueryContext(ctx,
		`SELECT display_name, account_hash, friends, version FROM in_game_friends_lists WHERE display_name IN (`+placeholders(len(args))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		l, err := scanInGame(rows)
		if err != nil {
			return nil, err
		}
		out[l.DisplayName] = l
	}
	return out, rows.Err()
}

func (d *DB) SaveInGameFriendsList(ctx context.Context, l model.InGameFriendsList, expected *model.Version) (*model.InGameFriendsList, error) {
	if l.FriendDisplayNames == nil {
		l.FriendDisplayNames = []string{}
	}
	friends, err := json.Marshal(l.FriendDisplayNames)
	if err != nil {
		return nil, err
	}

	now := d.now().UnixNano()
	v, err := d.versionedWrite(ctx, expected,
		`INSERT INTO in_game_friends_lists(display_name, account_hash, friends, version, updated_at_ns)
		 VALUES(?, ?, ?, 1, ?) ON CONFLICT(display_name) DO NOTHING`,
		[]any{l.DisplayName, int64(l.AccountHash), string(friends), now},
		`UPDATE in_game_friends_lists SET account_hash = ?, friends = ?, version = version + 1, updated_at_ns = ?
		 WHERE display_name = ? AND version = ?`,
		[]any{int64(l.AccountHash), string(friends), now, l.DisplayName},
	)
	if err != nil {
		return nil, err
	}
	l.Version = v
	return &l, nil
}

// DeleteInGameFriendsList removes the list stored under displayName. Missing lists are ignored.
func (d *DB) DeleteInGameFriendsList(ctx context.Context, displayName string) error {
	_, err := d.ExecContext(ctx, `DELETE FROM in_game_friends_lists WHERE display_name = ?`, displayName)
	return err
}

func scanValidated(row interface{ Scan(...any) error }) (*model.ValidatedFriendsList, error) {
	var (
		l       model.ValidatedFriendsList
		friends string
	)
	if err := row.Scan(&l.AccountHash, &friends, &l.Version); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(friends), &l.Friends); err != nil {
		return nil, fmt.Errorf("decode validated friends of %s: %w", l.AccountHash, err)
	}
	return &l, nil
}

// GetValidatedFriendsList returns nil, nil when the owner has no validated list yet.
// The returned Version is the token for the next SaveValidatedFriendsList.
func (d *DB) GetValidatedFriendsList(ctx context.Context, hash model.AccountHash) (*model.ValidatedFriendsList, error) {
	row := d.QueryRowContext(ctx,
		`SELECT account_hash, friends, version FROM validated_friends_lists WHERE account_hash = ?`, int64(hash))
	l, err := scanValidated(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

func (d *DB) GetValidatedFriendsLists(ctx context.Context, hashes []model.AccountHash) (map[model.AccountHash]*model.ValidatedFriendsList, error) {
	out := make(map[model.AccountHash]*model.ValidatedFriendsList, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}

	args := make([]any, len(hashes))
	for i, h := range hashes {
		args[i] = int64(h)
	}
	rows, err := d.QueryContext(ctx,
		`SELECT account_hash, friends, version FROM validated_friends_lists WHERE account_hash IN (`+placeholders(len(args))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		l, err := scanValidated(rows)
		if err != nil {
			return nil, err
		}
		out[l.AccountHash] = l
	}
	return out, rows.Err()
}

// SaveValidatedFriendsList is the only write path of the friend graph. A stale expected
// version rejects the whole list with ErrConflict.
func (d *DB) SaveValidatedFriendsList(ctx context.Context, l model.ValidatedFriendsList, expected *model.Version) (*model.ValidatedFriendsList, error) {
	if l.Friends == nil {
		l.Friends = []model.ValidatedFriend{}
	}
	friends, err := json.Marshal(l.Friends)
	if err != nil {
		return nil, err
	}

	now := d.now().UnixNano()
	v, err := d.versionedWrite(ctx, expected,
		`INSERT INTO validated_friends_lists(account_hash, friends, version, updated_at_ns)
		 VALUES(?, ?, 1, ?) ON CONFLICT(account_hash) DO NOTHING`,
		[]any{int64(l.AccountHash), string(friends), now},
		`UPDATE validated_friends_lists SET friends = ?, version = version + 1, updated_at_ns = ?
		 WHERE account_hash = ? AND version = ?`,
		[]any{string(friends), now, int64(l.AccountHash)},
	)
	if err != nil {
		return nil, err
	}
	l.Version = v
	return &l, nil
}

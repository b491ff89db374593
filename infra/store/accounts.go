package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
)

const accountColumns = `account_hash, user_id, display_name, previous_name, version`

func scanAccount(row interface{ Scan(...any) error }) (*model.RunescapeAccount, error) {
	var a model.RunescapeAccount
	if err := row.Scan(&a.AccountHash, &a.UserID, &a.DisplayName, &a.PreviousName, &a.Version); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccount returns nil, nil when the account does not exist.
func (d *DB) GetAccount(ctx context.Context, hash model.AccountHash) (*model.RunescapeAccount, error) {
	row := d.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM runescape_accounts WHERE account_hash = ?`, int64(hash))
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// GetAccounts returns the accounts that exist; missing hashes are absent from the map.
func (d *DB) GetAccounts(ctx context.Context, hashes []model.AccountHash) (map[model.AccountHash]*model.RunescapeAccount, error) {
	out := make(map[model.AccountHash]*model.RunescapeAccount, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}

	args := make([]any, len(hashes))
	for i, h := range hashes {
		args[i] = int64(h)
	}
	rows, err := d.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM runescape_accounts WHERE account_hash IN (`+placeholders(len(args))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[a.AccountHash] = a
	}
	return out, rows.Err()
}

// SaveAccount creates the account when expected is nil, otherwise replaces it if the
// stored version still equals *expected.
func (d *DB) SaveAccount(ctx context.Context, a model.RunescapeAccount, expected *model.Version) (*model.RunescapeAccount, error) {
	now := d.now().UnixNano()
	v, err := d.versionedWrite(ctx, expected,
		`INSERT INTO runescape_accounts(account_hash, user_id, display_name, previous_name, version, updated_at_ns)
		 VALUES(?, ?, ?, ?, 1, ?) ON CONFLICT(account_hash) DO NOTHING`,
		[]any{int64(a.AccountHash), a.UserID, a.DisplayName, a.PreviousName, now},
		`UPDATE runescape_accounts SET user_id = ?, display_name = ?, previous_name = ?, version = version + 1, updated_at_ns = ?
		 WHERE account_hash = ? AND version = ?`,
		[]any{a.UserID, a.DisplayName, a.PreviousName, now, int64(a.AccountHash)},
	)
	if err != nil {
		return nil, err
	}
	a.Version = v
	return &a, nil
}

package store

import (
	"context"
	"encoding/json"

	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
)

// AppendActivity records an activity update. Replays of the same id are ignored.
func (d *DB) AppendActivity(ctx context.Context, u model.ActivityUpdate) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return err
	}
	meta := u.Meta()
	_, err = d.ExecContext(ctx,
		`INSERT INTO activity_updates(id, account_hash, kind, payload, occurred_at_ns, received_at_ns)
		 VALUES(?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		meta.ID, int64(meta.AccountHash), string(u.Kind()), string(payload), meta.Time().UnixNano(), d.now().UnixNano(),
	)
	return err
}

// RecentActivity returns up to limit updates of one account, newest first.
func (d *DB) RecentActivity(ctx context.Context, hash model.AccountHash, limit int) ([]model.ActivityUpdate, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.QueryContext(ctx,
		`SELECT payload FROM activity_updates WHERE account_hash = ? ORDER BY occurred_at_ns DESC LIMIT ?`, int64(hash), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ActivityUpdate
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		u, err := model.DecodeActivity([]byte(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

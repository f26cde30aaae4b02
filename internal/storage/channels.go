package storage

import (
	"context"

	"github.com/go-faster/errors"
)

// UpsertAccountChannelAccess records that phone last observed channelID at
// lastSeen, optionally refreshing its display name and access hash. name and
// a zero accessHash are treated as "unknown, don't overwrite" when empty/0
// and a prior value exists.
func (s *Store) UpsertAccountChannelAccess(ctx context.Context, phone string, channelID int64, name string, accessHash int64, lastSeen int64) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO account_channel_access (phone, channel_id, name, access_hash, last_seen)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(phone, channel_id) DO UPDATE SET
				name=CASE WHEN excluded.name='' THEN account_channel_access.name ELSE excluded.name END,
				access_hash=CASE WHEN excluded.access_hash=0 THEN account_channel_access.access_hash ELSE excluded.access_hash END,
				last_seen=excluded.last_seen
		`, phone, channelID, name, accessHash, lastSeen)
		if err != nil {
			return errors.Wrap(err, "upsert account channel access")
		}
		return nil
	})
}

// GetAllUniqueChannels returns one row per distinct channel_id, paired with
// the account phone best positioned to operate on it: presence of a
// non-zero access_hash ranks first, ties broken by most recent last_seen.
func (s *Store) GetAllUniqueChannels(ctx context.Context) ([]UniqueChannel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, phone
		FROM account_channel_access a
		WHERE NOT EXISTS (
			SELECT 1 FROM account_channel_access b
			WHERE b.channel_id = a.channel_id
			AND (
				(b.access_hash != 0) > (a.access_hash != 0)
				OR ((b.access_hash != 0) = (a.access_hash != 0) AND b.last_seen > a.last_seen)
			)
		)
		GROUP BY channel_id
	`)
	if err != nil {
		return nil, errors.Wrap(err, "get all unique channels")
	}
	defer rows.Close()

	var out []UniqueChannel
	for rows.Next() {
		var uc UniqueChannel
		if err := rows.Scan(&uc.ChannelID, &uc.BestAccountPhone); err != nil {
			return nil, errors.Wrap(err, "scan unique channel")
		}
		out = append(out, uc)
	}
	return out, rows.Err()
}

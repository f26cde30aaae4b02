package storage

import (
	"context"
	"database/sql"

	"github.com/go-faster/errors"
)

// SaveCheckpoint records lastID as the watermark for (entity, ctxName).
// Checkpoints are monotone non-decreasing: a lower lastID than what is
// already stored is silently ignored rather than regressing the watermark.
func (s *Store) SaveCheckpoint(ctx context.Context, entity, ctxName string, lastID int64) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO checkpoints (entity, context, last_id, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(entity, context) DO UPDATE SET
				last_id=CASE WHEN excluded.last_id > checkpoints.last_id THEN excluded.last_id ELSE checkpoints.last_id END,
				updated_at=CASE WHEN excluded.last_id > checkpoints.last_id THEN excluded.updated_at ELSE checkpoints.updated_at END
		`, entity, ctxName, lastID, nowUnix())
		if err != nil {
			return errors.Wrap(err, "save checkpoint")
		}
		return nil
	})
}

// LatestCheckpoint returns the last recorded watermark for (entity,
// ctxName), or ok=false if none exists yet.
func (s *Store) LatestCheckpoint(ctx context.Context, entity, ctxName string) (lastID int64, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT last_id FROM checkpoints WHERE entity=? AND context=?`, entity, ctxName)
	if scanErr := row.Scan(&lastID); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, errors.Wrap(scanErr, "latest checkpoint")
	}
	return lastID, true, nil
}

package storage

import (
	"context"
	"database/sql"

	"github.com/go-faster/errors"
)

// AddFileHash records the hashes computed for fileID. Conflicts on the
// unique file_id are overwritten so a later, more complete hash set (e.g.
// a perceptual hash computed after the fact) replaces a partial one.
func (s *Store) AddFileHash(ctx context.Context, fileID, sha256Hex, phash, fhash string) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO file_hashes (file_id, sha256, phash, fhash, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(file_id) DO UPDATE SET
				sha256=excluded.sha256,
				phash=CASE WHEN excluded.phash='' THEN file_hashes.phash ELSE excluded.phash END,
				fhash=CASE WHEN excluded.fhash='' THEN file_hashes.fhash ELSE excluded.fhash END
		`, fileID, sha256Hex, phash, fhash, nowUnix())
		if err != nil {
			return errors.Wrap(err, "add file hash")
		}
		return nil
	})
}

// FileHashBySHA256 returns the stored row matching sha256Hex. When
// channelScope is non-zero, the match is restricted to files that also
// appear in that channel's inventory.
func (s *Store) FileHashBySHA256(ctx context.Context, sha256Hex string, channelScope int64) (FileHash, bool, error) {
	var (
		fh    FileHash
		query string
		args  []any
	)
	if channelScope != 0 {
		query = `
			SELECT fh.file_id, fh.sha256, fh.phash, fh.fhash, fh.created_at
			FROM file_hashes fh
			JOIN channel_file_inventory cfi ON cfi.file_id = fh.file_id
			WHERE fh.sha256 = ? AND cfi.channel_id = ?
			LIMIT 1
		`
		args = []any{sha256Hex, channelScope}
	} else {
		query = `SELECT file_id, sha256, phash, fhash, created_at FROM file_hashes WHERE sha256 = ? LIMIT 1`
		args = []any{sha256Hex}
	}

	row := s.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&fh.FileID, &fh.SHA256, &fh.PHash, &fh.FHash, &fh.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FileHash{}, false, nil
		}
		return FileHash{}, false, errors.Wrap(err, "file hash by sha256")
	}
	return fh, true, nil
}

// AllFileHashes returns every known hash row, optionally restricted to
// files appearing in channelScope's inventory. The dedup oracle uses this
// at startup to seed its in-memory perceptual/fuzzy candidate set.
func (s *Store) AllFileHashes(ctx context.Context, channelScope int64) ([]FileHash, error) {
	var (
		query string
		args  []any
	)
	if channelScope != 0 {
		query = `
			SELECT DISTINCT fh.file_id, fh.sha256, fh.phash, fh.fhash, fh.created_at
			FROM file_hashes fh
			JOIN channel_file_inventory cfi ON cfi.file_id = fh.file_id
			WHERE cfi.channel_id = ?
		`
		args = []any{channelScope}
	} else {
		query = `SELECT file_id, sha256, phash, fhash, created_at FROM file_hashes`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "all file hashes")
	}
	defer rows.Close()

	var out []FileHash
	for rows.Next() {
		var fh FileHash
		if err := rows.Scan(&fh.FileID, &fh.SHA256, &fh.PHash, &fh.FHash, &fh.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan file hash")
		}
		out = append(out, fh)
	}
	return out, rows.Err()
}

// AddChannelFileInventory records that fileID appeared as msgID in
// channelID (optionally under topicID), ignoring the insert if that exact
// triple is already recorded.
func (s *Store) AddChannelFileInventory(ctx context.Context, channelID int64, fileID string, msgID int64, topicID int64) error {
	return withRetry(ctx, func() error {
		var topic any
		if topicID != 0 {
			topic = topicID
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO channel_file_inventory (channel_id, file_id, msg_id, topic_id)
			VALUES (?, ?, ?, ?)
		`, channelID, fileID, msgID, topic)
		if err != nil {
			return errors.Wrap(err, "add channel file inventory")
		}
		return nil
	})
}

package storage

import (
	"context"
	"database/sql"

	"github.com/go-faster/errors"
)

// ErrChecksumMismatch is returned when an upsert's non-empty checksum
// disagrees with the checksum already stored for that row. (id, checksum)
// is immutable once written; a rewrite must reproduce the same checksum or
// be rejected outright rather than silently overwriting it.
var ErrChecksumMismatch = errors.New("storage: checksum mismatch with existing row")

// UpsertUser inserts u or updates it on primary-key conflict, preserving the
// existing checksum when u.Checksum is empty so a partial re-scan never
// blanks out a previously computed checksum. A non-empty u.Checksum that
// disagrees with an already-stored non-empty checksum is rejected with
// ErrChecksumMismatch instead of overwriting it.
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "begin upsert user")
		}
		defer tx.Rollback()

		if err := checkChecksumImmutable(ctx, tx, "SELECT checksum FROM users WHERE id = ?", u.ID, u.Checksum); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, username, first_name, last_name, checksum)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				username=excluded.username,
				first_name=excluded.first_name,
				last_name=excluded.last_name,
				checksum=CASE WHEN excluded.checksum='' THEN users.checksum ELSE excluded.checksum END
		`, u.ID, u.Username, u.FirstName, u.LastName, u.Checksum); err != nil {
			return errors.Wrap(err, "upsert user")
		}
		return errors.Wrap(tx.Commit(), "commit upsert user")
	})
}

// UpsertMedia inserts m or updates it on primary-key conflict, preserving
// the existing checksum when m.Checksum is empty. A non-empty m.Checksum
// that disagrees with an already-stored non-empty checksum is rejected with
// ErrChecksumMismatch instead of overwriting it.
func (s *Store) UpsertMedia(ctx context.Context, m Media) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "begin upsert media")
		}
		defer tx.Rollback()

		if err := checkChecksumImmutable(ctx, tx, "SELECT checksum FROM media WHERE id = ?", m.ID, m.Checksum); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO media (id, mime_type, size_bytes, file_name, checksum)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				mime_type=excluded.mime_type,
				size_bytes=excluded.size_bytes,
				file_name=excluded.file_name,
				checksum=CASE WHEN excluded.checksum='' THEN media.checksum ELSE excluded.checksum END
		`, m.ID, m.MIMEType, m.SizeBytes, m.FileName, m.Checksum); err != nil {
			return errors.Wrap(err, "upsert media")
		}
		return errors.Wrap(tx.Commit(), "commit upsert media")
	})
}

// UpsertMessage inserts msg or updates it on (channel_id, id) conflict,
// preserving the existing checksum when msg.Checksum is empty. Only the
// user and media foreign keys are stored; callers must have already
// upserted those rows. A non-empty msg.Checksum that disagrees with an
// already-stored non-empty checksum is rejected with ErrChecksumMismatch
// instead of overwriting it.
func (s *Store) UpsertMessage(ctx context.Context, msg Message) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "begin upsert message")
		}
		defer tx.Rollback()

		if err := checkChecksumImmutable(ctx, tx, "SELECT checksum FROM messages WHERE channel_id = ? AND id = ?", []any{msg.ChannelID, msg.ID}, msg.Checksum); err != nil {
			return err
		}

		var userID, mediaID any
		if msg.UserID != 0 {
			userID = msg.UserID
		}
		if msg.MediaID != 0 {
			mediaID = msg.MediaID
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, channel_id, user_id, media_id, date_unix, text, checksum)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(channel_id, id) DO UPDATE SET
				user_id=excluded.user_id,
				media_id=excluded.media_id,
				date_unix=excluded.date_unix,
				text=excluded.text,
				checksum=CASE WHEN excluded.checksum='' THEN messages.checksum ELSE excluded.checksum END
		`, msg.ID, msg.ChannelID, userID, mediaID, msg.DateUnix, msg.Text, msg.Checksum); err != nil {
			return errors.Wrap(err, "upsert message")
		}
		return errors.Wrap(tx.Commit(), "commit upsert message")
	})
}

// checkChecksumImmutable looks up the row selected by query/args (one or
// more key columns, ending in a single checksum result column) and rejects
// newChecksum with ErrChecksumMismatch if both it and the stored checksum
// are non-empty and differ. A missing row, or an empty newChecksum, always
// passes — there is nothing yet to contradict.
func checkChecksumImmutable(ctx context.Context, tx *sql.Tx, query string, args any, newChecksum string) error {
	if newChecksum == "" {
		return nil
	}
	var queryArgs []any
	if a, ok := args.([]any); ok {
		queryArgs = a
	} else {
		queryArgs = []any{args}
	}

	var existing string
	err := tx.QueryRowContext(ctx, query, queryArgs...).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "load existing checksum")
	}
	if existing != "" && existing != newChecksum {
		return errors.Wrap(ErrChecksumMismatch, existing+" != "+newChecksum)
	}
	return nil
}

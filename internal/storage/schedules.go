package storage

import (
	"context"
	"database/sql"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// ChannelForwardSchedule drives the bulk channel-to-channel forwarder.
type ChannelForwardSchedule struct {
	ID                 string
	OriginChannel      int64
	DestinationChannel int64
	CronExpr           string
	Enabled            bool
	LastMessageID      int64
}

// FileForwardSchedule drives the file-forward queue producer.
type FileForwardSchedule struct {
	ID                 string
	SourceChannel      int64
	DestinationChannel int64
	CronExpr           string
	MIMEWhitelist      []string
	MinSizeBytes       int64
	MaxSizeBytes       int64
	Enabled            bool
}

// QueueEntry is one row of file_forward_queue.
type QueueEntry struct {
	ID          string
	ScheduleID  string
	MessageID   int64
	FileID      string
	Destination int64
	Priority    int
	Status      string
	CreatedAt   int64
	UpdatedAt   int64
}

// AddChannelForwardSchedule inserts a new channel forward schedule and
// returns its generated id.
func (s *Store) AddChannelForwardSchedule(ctx context.Context, sched ChannelForwardSchedule) (string, error) {
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	err := withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO channel_forward_schedule (id, origin_channel, destination_channel, cron_expr, enabled, last_message_id)
			VALUES (?, ?, ?, ?, ?, ?)
		`, sched.ID, sched.OriginChannel, sched.DestinationChannel, sched.CronExpr, boolToInt(sched.Enabled), sched.LastMessageID)
		return errors.Wrap(err, "add channel forward schedule")
	})
	return sched.ID, err
}

// ListChannelForwardSchedules returns every enabled channel forward schedule.
func (s *Store) ListChannelForwardSchedules(ctx context.Context) ([]ChannelForwardSchedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, origin_channel, destination_channel, cron_expr, enabled, last_message_id
		FROM channel_forward_schedule WHERE enabled = 1
	`)
	if err != nil {
		return nil, errors.Wrap(err, "list channel forward schedules")
	}
	defer rows.Close()

	var out []ChannelForwardSchedule
	for rows.Next() {
		var sc ChannelForwardSchedule
		var enabled int
		if err := rows.Scan(&sc.ID, &sc.OriginChannel, &sc.DestinationChannel, &sc.CronExpr, &enabled, &sc.LastMessageID); err != nil {
			return nil, errors.Wrap(err, "scan channel forward schedule")
		}
		sc.Enabled = enabled != 0
		out = append(out, sc)
	}
	return out, rows.Err()
}

// UpdateChannelForwardWatermark writes last_message_id for a schedule. Per
// the scheduler's ordering guarantee, this is only called after a full
// group has been forwarded and recorded.
func (s *Store) UpdateChannelForwardWatermark(ctx context.Context, scheduleID string, lastMessageID int64) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE channel_forward_schedule SET last_message_id = ? WHERE id = ?`, lastMessageID, scheduleID)
		return errors.Wrap(err, "update channel forward watermark")
	})
}

// RecordChannelForwardStats appends a stats row for one schedule run.
func (s *Store) RecordChannelForwardStats(ctx context.Context, scheduleID string, messagesForwarded, filesForwarded, bytesForwarded int64) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO channel_forward_stats (schedule_id, run_at, messages_forwarded, files_forwarded, bytes_forwarded)
			VALUES (?, ?, ?, ?, ?)
		`, scheduleID, nowUnix(), messagesForwarded, filesForwarded, bytesForwarded)
		return errors.Wrap(err, "record channel forward stats")
	})
}

// AddFileForwardSchedule inserts a new file forward schedule and returns its
// generated id.
func (s *Store) AddFileForwardSchedule(ctx context.Context, sched FileForwardSchedule) (string, error) {
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	err := withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO file_forward_schedule (id, source_channel, destination_channel, cron_expr, mime_whitelist, min_size_bytes, max_size_bytes, enabled)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, sched.ID, sched.SourceChannel, nullableInt(sched.DestinationChannel), sched.CronExpr,
			strings.Join(sched.MIMEWhitelist, ","), sched.MinSizeBytes, sched.MaxSizeBytes, boolToInt(sched.Enabled))
		return errors.Wrap(err, "add file forward schedule")
	})
	return sched.ID, err
}

// ListFileForwardSchedules returns every enabled file forward schedule.
func (s *Store) ListFileForwardSchedules(ctx context.Context) ([]FileForwardSchedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_channel, destination_channel, cron_expr, mime_whitelist, min_size_bytes, max_size_bytes, enabled
		FROM file_forward_schedule WHERE enabled = 1
	`)
	if err != nil {
		return nil, errors.Wrap(err, "list file forward schedules")
	}
	defer rows.Close()

	var out []FileForwardSchedule
	for rows.Next() {
		var sc FileForwardSchedule
		var dest sql.NullInt64
		var whitelist string
		var enabled int
		if err := rows.Scan(&sc.ID, &sc.SourceChannel, &dest, &sc.CronExpr, &whitelist, &sc.MinSizeBytes, &sc.MaxSizeBytes, &enabled); err != nil {
			return nil, errors.Wrap(err, "scan file forward schedule")
		}
		sc.DestinationChannel = dest.Int64
		if whitelist != "" {
			sc.MIMEWhitelist = strings.Split(whitelist, ",")
		}
		sc.Enabled = enabled != 0
		out = append(out, sc)
	}
	return out, rows.Err()
}

// FileForwardScheduleByID returns the schedule row matching id, regardless
// of its enabled flag — ProcessFileForwardQueue's drain routine and a
// manually-triggered ForwardFilesBySchedule both need a schedule the
// scheduler itself may have already coalesced against.
func (s *Store) FileForwardScheduleByID(ctx context.Context, id string) (FileForwardSchedule, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_channel, destination_channel, cron_expr, mime_whitelist, min_size_bytes, max_size_bytes, enabled
		FROM file_forward_schedule WHERE id = ?
	`, id)

	var sc FileForwardSchedule
	var dest sql.NullInt64
	var whitelist string
	var enabled int
	if err := row.Scan(&sc.ID, &sc.SourceChannel, &dest, &sc.CronExpr, &whitelist, &sc.MinSizeBytes, &sc.MaxSizeBytes, &enabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FileForwardSchedule{}, false, nil
		}
		return FileForwardSchedule{}, false, errors.Wrap(err, "file forward schedule by id")
	}
	sc.DestinationChannel = dest.Int64
	if whitelist != "" {
		sc.MIMEWhitelist = strings.Split(whitelist, ",")
	}
	sc.Enabled = enabled != 0
	return sc, true, nil
}

// AddToFileForwardQueue enqueues one candidate file for later forwarding by
// the queue drain routine. priority breaks ties in favor of earlier message
// ids when equal.
func (s *Store) AddToFileForwardQueue(ctx context.Context, scheduleID string, messageID int64, fileID string, destination int64, priority int) (string, error) {
	id := uuid.NewString()
	now := nowUnix()
	err := withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO file_forward_queue (id, schedule_id, message_id, file_id, destination, priority, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, ?)
		`, id, scheduleID, messageID, fileID, nullableInt(destination), priority, now, now)
		return errors.Wrap(err, "add to file forward queue")
	})
	return id, err
}

// ListPendingQueueEntries returns pending rows in priority-then-id order,
// the order the drain routine (ProcessFileForwardQueue) must honor.
func (s *Store) ListPendingQueueEntries(ctx context.Context, limit int) ([]QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, schedule_id, message_id, file_id, destination, priority, status, created_at, updated_at
		FROM file_forward_queue
		WHERE status = 'pending'
		ORDER BY priority DESC, message_id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list pending queue entries")
	}
	defer rows.Close()

	var out []QueueEntry
	for rows.Next() {
		var qe QueueEntry
		var dest sql.NullInt64
		if err := rows.Scan(&qe.ID, &qe.ScheduleID, &qe.MessageID, &qe.FileID, &dest, &qe.Priority, &qe.Status, &qe.CreatedAt, &qe.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan queue entry")
		}
		qe.Destination = dest.Int64
		out = append(out, qe)
	}
	return out, rows.Err()
}

// UpdateQueueEntryStatus transitions a queue row to status ("success" or
// "error:<short>"). Cancellation leaves a row pending rather than calling
// this with a terminal status, per the cancellation contract.
func (s *Store) UpdateQueueEntryStatus(ctx context.Context, id, status string) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE file_forward_queue SET status = ?, updated_at = ? WHERE id = ?`, status, nowUnix(), id)
		return errors.Wrap(err, "update queue entry status")
	})
}

// RecordFileForwardStats appends a stats row for one schedule run.
func (s *Store) RecordFileForwardStats(ctx context.Context, scheduleID string, filesForwarded, bytesForwarded, errs int64) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO file_forward_stats (schedule_id, run_at, files_forwarded, bytes_forwarded, errors)
			VALUES (?, ?, ?, ?, ?)
		`, scheduleID, nowUnix(), filesForwarded, bytesForwarded, errs)
		return errors.Wrap(err, "record file forward stats")
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

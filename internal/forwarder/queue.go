package forwarder

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-faster/errors"

	"spectra-core/internal/dedup"
	"spectra-core/internal/recovery"
	"spectra-core/internal/storage"
	"spectra-core/internal/telegram/pool"
)

// ScheduleStore is the subset of *storage.Store the forwarder's scheduled
// verbs need: channel discovery for ForwardAllAccessibleChannels, and the
// file-forward schedule/queue tables for ForwardFilesBySchedule and
// ProcessFileForwardQueue.
type ScheduleStore interface {
	GetAllUniqueChannels(ctx context.Context) ([]storage.UniqueChannel, error)
	FileForwardScheduleByID(ctx context.Context, id string) (storage.FileForwardSchedule, bool, error)
	AddToFileForwardQueue(ctx context.Context, scheduleID string, messageID int64, fileID string, destination int64, priority int) (string, error)
	ListPendingQueueEntries(ctx context.Context, limit int) ([]storage.QueueEntry, error)
	UpdateQueueEntryStatus(ctx context.Context, id, status string) error
	RecordFileForwardStats(ctx context.Context, scheduleID string, filesForwarded, bytesForwarded, errs int64) error
	SaveCheckpoint(ctx context.Context, entity, ctxName string, lastID int64) error
	LatestCheckpoint(ctx context.Context, entity, ctxName string) (int64, bool, error)
}

const fileForwardQueueBatchSize = 200

// checkpointCtx is the SaveCheckpoint/LatestCheckpoint context name under
// which a file forward schedule's scan position is stored. Schedules are
// re-run on a cron, not once, so they need their own watermark the same
// way a long-running channel scan does, per §4.9's checkpoint contract.
func checkpointCtx(scheduleID string) string {
	return "file_forward_schedule:" + scheduleID
}

// ForwardFilesBySchedule scans sched's source channel for files matching its
// MIME/size filters since the schedule's last checkpoint, skips anything the
// dedup oracle already knows about, and enqueues the rest for
// ProcessFileForwardQueue to actually forward. It never forwards anything
// itself.
func (f *Forwarder) ForwardFilesBySchedule(ctx context.Context, scheduleID string) (int, error) {
	sched, ok, err := f.store.FileForwardScheduleByID(ctx, scheduleID)
	if err != nil {
		return 0, errors.Wrap(err, "load file forward schedule")
	}
	if !ok {
		return 0, errors.Errorf("forwarder: no file forward schedule %q", scheduleID)
	}

	client, err := f.pool.GetClient(ctx, "")
	if err != nil {
		return 0, errors.Wrap(err, "get client")
	}

	sourceHandle := strconv.FormatInt(sched.SourceChannel, 10)
	source, err := client.ResolveEntity(ctx, sourceHandle)
	if err != nil {
		return 0, errors.Wrap(err, "resolve source")
	}

	cpCtx := checkpointCtx(scheduleID)
	minID, _, err := f.store.LatestCheckpoint(ctx, sourceHandle, cpCtx)
	if err != nil {
		return 0, errors.Wrap(err, "load checkpoint")
	}

	whitelist := make(map[string]bool, len(sched.MIMEWhitelist))
	for _, mt := range sched.MIMEWhitelist {
		whitelist[mt] = true
	}

	it := client.IterMessages(source, pool.IterMessagesOptions{MinID: int(minID)})
	enqueued := 0
	highWatermark := minID
	for {
		msg, ok, err := it.Next(ctx)
		if err != nil {
			return enqueued, errors.Wrap(err, "iterate messages")
		}
		if !ok {
			break
		}
		if int64(msg.ID) > highWatermark {
			highWatermark = int64(msg.ID)
		}
		if !msg.HasMedia || msg.MediaID == "" {
			continue
		}
		if len(whitelist) > 0 && !whitelist[msg.MediaMIME] {
			continue
		}
		if msg.MediaBytes < sched.MinSizeBytes {
			continue
		}
		if sched.MaxSizeBytes > 0 && msg.MediaBytes > sched.MaxSizeBytes {
			continue
		}

		dup, err := f.isKnownDuplicate(ctx, client, source, msg)
		if err != nil || dup {
			continue
		}

		if _, err := f.store.AddToFileForwardQueue(ctx, scheduleID, int64(msg.ID), msg.MediaID, sched.DestinationChannel, 0); err != nil {
			continue
		}
		enqueued++
	}

	if highWatermark > minID {
		if err := f.store.SaveCheckpoint(ctx, sourceHandle, cpCtx, highWatermark); err != nil {
			return enqueued, errors.Wrap(err, "save checkpoint")
		}
	}
	return enqueued, nil
}

// isKnownDuplicate downloads msg's media to a scratch file purely to hash
// it against the oracle; it never records a hash, since a queued candidate
// is not yet forwarded and recording here would let a later-cancelled
// forward leave a file_hashes row for a file the archive never actually
// has a copy of.
func (f *Forwarder) isKnownDuplicate(ctx context.Context, client *pool.Client, origin pool.Entity, msg pool.Message) (bool, error) {
	if f.oracle == nil {
		return false, nil
	}
	path := filepath.Join(f.scratchDir, "queue-check-"+strconv.Itoa(msg.ID))
	if _, err := client.DownloadMedia(ctx, msg, path); err != nil {
		return false, nil
	}
	defer os.Remove(path)

	candidate := dedup.FileCandidate{
		FileID:    msg.MediaID,
		MIMEType:  msg.MediaMIME,
		LocalPath: path,
		ChannelID: origin.ID(),
		MessageID: int64(msg.ID),
		TopicID:   int64(msg.TopicID),
	}
	return f.oracle.IsDuplicate(ctx, []dedup.FileCandidate{candidate})
}

// ProcessFileForwardQueue drains up to a batch of pending queue rows in
// priority-then-id order, forwarding each via account and recording its
// outcome. A row's failure only marks that row as errored; it never stops
// the drain.
func (f *Forwarder) ProcessFileForwardQueue(ctx context.Context, account string) (int, error) {
	entries, err := f.store.ListPendingQueueEntries(ctx, fileForwardQueueBatchSize)
	if err != nil {
		return 0, errors.Wrap(err, "list pending queue entries")
	}
	if len(entries) == 0 {
		return 0, nil
	}

	client, err := f.pool.GetClient(ctx, account)
	if err != nil {
		return 0, errors.Wrap(err, "get client")
	}

	scheduleCache := map[string]storage.FileForwardSchedule{}
	statsByModule := map[string]*pool.Stats{}
	processed := 0

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			break // cancellation: remaining rows stay pending, per the cancellation contract
		}
		if err := f.processQueueEntry(ctx, client, entry, scheduleCache, statsByModule); err != nil {
			continue
		}
		processed++
	}

	for scheduleID, st := range statsByModule {
		_ = f.store.RecordFileForwardStats(ctx, scheduleID, int64(st.FilesForwarded), st.BytesForwarded, 0)
	}
	return processed, nil
}

func (f *Forwarder) processQueueEntry(ctx context.Context, client *pool.Client, entry storage.QueueEntry, scheduleCache map[string]storage.FileForwardSchedule, statsOut map[string]*pool.Stats) error {
	sched, ok := scheduleCache[entry.ScheduleID]
	if !ok {
		loaded, found, err := f.store.FileForwardScheduleByID(ctx, entry.ScheduleID)
		if err != nil || !found {
			_ = f.store.UpdateQueueEntryStatus(ctx, entry.ID, "error:schedule not found")
			return errors.New("schedule not found")
		}
		sched = loaded
		scheduleCache[entry.ScheduleID] = sched
	}

	destChannelID := entry.Destination
	if destChannelID == 0 {
		destChannelID = sched.DestinationChannel
	}

	source, err := client.ResolveEntity(ctx, strconv.FormatInt(sched.SourceChannel, 10))
	if err != nil {
		_ = f.store.UpdateQueueEntryStatus(ctx, entry.ID, "error:"+shortError(err))
		return err
	}
	destination, err := client.ResolveEntity(ctx, strconv.FormatInt(destChannelID, 10))
	if err != nil {
		_ = f.store.UpdateQueueEntryStatus(ctx, entry.ID, "error:"+shortError(err))
		return err
	}

	if err := client.ForwardMessages(ctx, source, destination, []int{int(entry.MessageID)}, 0); err != nil {
		_ = f.store.UpdateQueueEntryStatus(ctx, entry.ID, "error:"+shortError(err))
		return err
	}

	bytesForwarded := f.recordQueueEntryFile(ctx, client, source, entry)

	if err := f.store.UpdateQueueEntryStatus(ctx, entry.ID, "success"); err != nil {
		return err
	}

	st := statsOut[entry.ScheduleID]
	if st == nil {
		st = &pool.Stats{}
		statsOut[entry.ScheduleID] = st
	}
	st.FilesForwarded++
	st.BytesForwarded += bytesForwarded

	f.throttle(ctx, bytesForwarded)
	return nil
}

// recordQueueEntryFile re-fetches the queued message, downloads its media
// once more to compute the durable hash, and records it with the oracle now
// that the forward actually succeeded. Any failure here is swallowed: the
// forward itself already happened and must not be reverted over a recording
// problem.
func (f *Forwarder) recordQueueEntryFile(ctx context.Context, client *pool.Client, source pool.Entity, entry storage.QueueEntry) int64 {
	if f.oracle == nil {
		return 0
	}
	msgs, err := client.GetMessages(ctx, source, []int{int(entry.MessageID)})
	if err != nil || len(msgs) == 0 || !msgs[0].HasMedia {
		return 0
	}
	msg := msgs[0]

	path := filepath.Join(f.scratchDir, "queue-record-"+strconv.Itoa(msg.ID))
	if _, err := client.DownloadMedia(ctx, msg, path); err != nil {
		return msg.MediaBytes
	}
	defer os.Remove(path)

	candidate := dedup.FileCandidate{
		FileID:    msg.MediaID,
		MIMEType:  msg.MediaMIME,
		LocalPath: path,
		ChannelID: source.ID(),
		MessageID: int64(msg.ID),
		TopicID:   int64(msg.TopicID),
	}
	_ = f.oracle.Record(ctx, []dedup.FileCandidate{candidate}, source.ID())
	return msg.MediaBytes
}

// throttle blocks long enough to keep the drain routine's aggregate byte
// rate under the configured bandwidth cap, per §4.8's "file.size /
// (bandwidth_limit_kbps * 1024) seconds" rule: bwLimiter's token bucket is
// sized to exactly that rate, so draining it by bytesForwarded tokens
// reproduces the same sleep the formula describes. A transfer larger than
// one second's worth of tokens is drained in bucket-sized chunks rather
// than rejected. A nil limiter (bandwidth_limit_kbps <= 0) disables
// throttling entirely.
func (f *Forwarder) throttle(ctx context.Context, bytesForwarded int64) {
	if f.bwLimiter == nil || bytesForwarded <= 0 {
		return
	}
	burst := int64(f.bwLimiter.Burst())
	remaining := bytesForwarded
	for remaining > 0 {
		n := remaining
		if n > burst {
			n = burst
		}
		if err := f.bwLimiter.WaitN(ctx, int(n)); err != nil {
			return
		}
		remaining -= n
	}
}

// shortError renders err as a compact string safe to store as a queue row's
// status: redacted first, since this string is persisted, then truncated so
// one oversized RPC error message cannot blow out a status column.
func shortError(err error) string {
	s := recovery.Redact(err.Error())
	const max = 200
	if len(s) > max {
		return s[:max]
	}
	return s
}

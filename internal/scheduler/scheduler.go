// Package scheduler is the cron-driven work queue (C8): it fires
// ForwardFilesBySchedule and channel-to-channel forwarding runs on their
// configured schedules, coalesces overlapping fires per schedule, bounds
// total in-flight forwards, and drains the persistent file forward queue.
package scheduler

import (
	"context"
	"strconv"
	"sync"

	"github.com/go-faster/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"spectra-core/internal/forwarder"
	"spectra-core/internal/storage"
	"spectra-core/internal/telemetry/logger"
)

// Forwarder is the subset of *forwarder.Forwarder the scheduler drives.
type Forwarder interface {
	ForwardMessages(ctx context.Context, origin, destination string, opts forwarder.Options) (forwarder.Result, error)
	ForwardFilesBySchedule(ctx context.Context, scheduleID string) (int, error)
	ProcessFileForwardQueue(ctx context.Context, account string) (int, error)
}

// Store is the subset of *storage.Store the scheduler reads schedules from
// and writes watermarks/stats back to.
type Store interface {
	ListChannelForwardSchedules(ctx context.Context) ([]storage.ChannelForwardSchedule, error)
	UpdateChannelForwardWatermark(ctx context.Context, scheduleID string, lastMessageID int64) error
	RecordChannelForwardStats(ctx context.Context, scheduleID string, messagesForwarded, filesForwarded, bytesForwarded int64) error
	ListFileForwardSchedules(ctx context.Context) ([]storage.FileForwardSchedule, error)
}

// Scheduler owns one robfig/cron instance, a per-schedule advisory lock
// map (coalescing overlapping fires, per §5's locking model) and a
// semaphore bounding total concurrent forwards across every schedule.
type Scheduler struct {
	cron    *cron.Cron
	fwd     Forwarder
	store   Store
	sem     *semaphore.Weighted
	account string
	log     *zap.Logger

	mu      sync.Mutex
	running map[string]bool
}

// New builds a Scheduler. account selects which pool identity drives
// schedule-triggered runs; maxConcurrent bounds total in-flight forwards
// across every schedule, per scheduler.max_concurrent_forwards.
func New(fwd Forwarder, store Store, maxConcurrent int, account string, log *zap.Logger) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Scheduler{
		cron:    cron.New(),
		fwd:     fwd,
		store:   store,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		account: account,
		log:     log,
		running: make(map[string]bool),
	}
}

// Start drains any file forward queue rows left pending from a previous
// run, registers every enabled schedule's cron entry, and starts firing.
// Per §4.8, the startup drain happens before any new cron trigger is
// accepted.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.fwd.ProcessFileForwardQueue(ctx, s.account); err != nil {
		s.log.Warn("startup queue drain failed", logger.RedactedError(err))
	}

	channelScheds, err := s.store.ListChannelForwardSchedules(ctx)
	if err != nil {
		return errors.Wrap(err, "list channel forward schedules")
	}
	for _, sc := range channelScheds {
		sc := sc
		if _, err := s.cron.AddFunc(sc.CronExpr, func() { s.runChannelSchedule(ctx, sc) }); err != nil {
			s.log.Warn("invalid channel schedule cron expression", zap.String("schedule_id", sc.ID), logger.RedactedError(err))
		}
	}

	fileScheds, err := s.store.ListFileForwardSchedules(ctx)
	if err != nil {
		return errors.Wrap(err, "list file forward schedules")
	}
	for _, sc := range fileScheds {
		sc := sc
		if _, err := s.cron.AddFunc(sc.CronExpr, func() { s.runFileSchedule(ctx, sc) }); err != nil {
			s.log.Warn("invalid file schedule cron expression", zap.String("schedule_id", sc.ID), logger.RedactedError(err))
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron clock and waits for any in-flight run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// tryLock acquires schedule_id's advisory lock, reporting false if another
// fire is already running it — the coalescing behavior §4.8/§5 require.
func (s *Scheduler) tryLock(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[id] {
		return false
	}
	s.running[id] = true
	return true
}

func (s *Scheduler) unlock(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, id)
}

func (s *Scheduler) runChannelSchedule(ctx context.Context, sc storage.ChannelForwardSchedule) {
	if !sc.Enabled || !s.tryLock(sc.ID) {
		return
	}
	defer s.unlock(sc.ID)
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	origin := strconv.FormatInt(sc.OriginChannel, 10)
	destination := strconv.FormatInt(sc.DestinationChannel, 10)
	result, err := s.fwd.ForwardMessages(ctx, origin, destination, forwarder.Options{
		Account:        s.account,
		StartMessageID: int(sc.LastMessageID),
	})
	if err != nil {
		s.log.Warn("channel forward schedule run failed", zap.String("schedule_id", sc.ID), logger.RedactedError(err))
		return
	}

	// Watermark only moves forward past what was actually forwarded and
	// recorded, per §4.7's "written only after a full group has been
	// forwarded and recorded" rule.
	if int64(result.NewLastID) > sc.LastMessageID {
		if err := s.store.UpdateChannelForwardWatermark(ctx, sc.ID, int64(result.NewLastID)); err != nil {
			s.log.Warn("update channel forward watermark failed", zap.String("schedule_id", sc.ID), logger.RedactedError(err))
		}
	}
	if err := s.store.RecordChannelForwardStats(ctx, sc.ID, int64(result.Stats.MessagesForwarded), int64(result.Stats.FilesForwarded), result.Stats.BytesForwarded); err != nil {
		s.log.Warn("record channel forward stats failed", zap.String("schedule_id", sc.ID), logger.RedactedError(err))
	}
}

func (s *Scheduler) runFileSchedule(ctx context.Context, sc storage.FileForwardSchedule) {
	if !sc.Enabled || !s.tryLock(sc.ID) {
		return
	}
	defer s.unlock(sc.ID)
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	if _, err := s.fwd.ForwardFilesBySchedule(ctx, sc.ID); err != nil {
		s.log.Warn("file forward schedule enqueue failed", zap.String("schedule_id", sc.ID), logger.RedactedError(err))
		return
	}
	if _, err := s.fwd.ProcessFileForwardQueue(ctx, s.account); err != nil {
		s.log.Warn("file forward queue drain failed", zap.String("schedule_id", sc.ID), logger.RedactedError(err))
	}
}

package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"spectra-core/internal/forwarder"
	"spectra-core/internal/storage"
)

type fakeForwarder struct {
	mu               sync.Mutex
	channelRuns      int32
	fileScheduleRuns int32
	queueDrains      int32
	blockChannelRun  chan struct{}
	forwardResult    forwarder.Result
	forwardErr       error
}

func (f *fakeForwarder) ForwardMessages(ctx context.Context, origin, destination string, opts forwarder.Options) (forwarder.Result, error) {
	atomic.AddInt32(&f.channelRuns, 1)
	if f.blockChannelRun != nil {
		<-f.blockChannelRun
	}
	return f.forwardResult, f.forwardErr
}

func (f *fakeForwarder) ForwardFilesBySchedule(ctx context.Context, scheduleID string) (int, error) {
	atomic.AddInt32(&f.fileScheduleRuns, 1)
	return 0, nil
}

func (f *fakeForwarder) ProcessFileForwardQueue(ctx context.Context, account string) (int, error) {
	atomic.AddInt32(&f.queueDrains, 1)
	return 0, nil
}

type fakeStore struct {
	channelScheds []storage.ChannelForwardSchedule
	fileScheds    []storage.FileForwardSchedule

	mu               sync.Mutex
	watermarkUpdates []int64
	statsRecorded    int
}

func (s *fakeStore) ListChannelForwardSchedules(ctx context.Context) ([]storage.ChannelForwardSchedule, error) {
	return s.channelScheds, nil
}

func (s *fakeStore) UpdateChannelForwardWatermark(ctx context.Context, scheduleID string, lastMessageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarkUpdates = append(s.watermarkUpdates, lastMessageID)
	return nil
}

func (s *fakeStore) RecordChannelForwardStats(ctx context.Context, scheduleID string, messagesForwarded, filesForwarded, bytesForwarded int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statsRecorded++
	return nil
}

func (s *fakeStore) ListFileForwardSchedules(ctx context.Context) ([]storage.FileForwardSchedule, error) {
	return s.fileScheds, nil
}

func TestRunChannelScheduleUpdatesWatermarkOnSuccess(t *testing.T) {
	fwd := &fakeForwarder{forwardResult: forwarder.Result{NewLastID: 42}}
	store := &fakeStore{}
	s := New(fwd, store, 4, "acct1", zap.NewNop())

	sc := storage.ChannelForwardSchedule{ID: "sched-1", OriginChannel: 1, DestinationChannel: 2, Enabled: true, LastMessageID: 10}
	s.runChannelSchedule(context.Background(), sc)

	if atomic.LoadInt32(&fwd.channelRuns) != 1 {
		t.Fatalf("channelRuns = %d, want 1", fwd.channelRuns)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.watermarkUpdates) != 1 || store.watermarkUpdates[0] != 42 {
		t.Fatalf("watermarkUpdates = %v, want [42]", store.watermarkUpdates)
	}
	if store.statsRecorded != 1 {
		t.Fatalf("statsRecorded = %d, want 1", store.statsRecorded)
	}
}

func TestRunChannelScheduleSkipsDisabled(t *testing.T) {
	fwd := &fakeForwarder{}
	store := &fakeStore{}
	s := New(fwd, store, 4, "acct1", zap.NewNop())

	sc := storage.ChannelForwardSchedule{ID: "sched-1", Enabled: false}
	s.runChannelSchedule(context.Background(), sc)

	if atomic.LoadInt32(&fwd.channelRuns) != 0 {
		t.Fatalf("channelRuns = %d, want 0 for a disabled schedule", fwd.channelRuns)
	}
}

func TestRunChannelScheduleDoesNotMoveWatermarkBackward(t *testing.T) {
	fwd := &fakeForwarder{forwardResult: forwarder.Result{NewLastID: 5}}
	store := &fakeStore{}
	s := New(fwd, store, 4, "acct1", zap.NewNop())

	sc := storage.ChannelForwardSchedule{ID: "sched-1", Enabled: true, LastMessageID: 10}
	s.runChannelSchedule(context.Background(), sc)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.watermarkUpdates) != 0 {
		t.Fatalf("watermarkUpdates = %v, want none when NewLastID did not advance", store.watermarkUpdates)
	}
}

func TestOverlappingFiresForSameScheduleAreCoalesced(t *testing.T) {
	block := make(chan struct{})
	fwd := &fakeForwarder{blockChannelRun: block}
	store := &fakeStore{}
	s := New(fwd, store, 4, "acct1", zap.NewNop())

	sc := storage.ChannelForwardSchedule{ID: "sched-1", Enabled: true}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runChannelSchedule(context.Background(), sc)
	}()

	// Give the first fire time to acquire the advisory lock before firing
	// a second, overlapping trigger for the same schedule.
	time.Sleep(20 * time.Millisecond)
	s.runChannelSchedule(context.Background(), sc)

	close(block)
	wg.Wait()

	if got := atomic.LoadInt32(&fwd.channelRuns); got != 1 {
		t.Fatalf("channelRuns = %d, want 1 (second fire should have been coalesced)", got)
	}
}

func TestRunFileScheduleEnqueuesThenDrains(t *testing.T) {
	fwd := &fakeForwarder{}
	store := &fakeStore{}
	s := New(fwd, store, 4, "acct1", zap.NewNop())

	sc := storage.FileForwardSchedule{ID: "file-sched-1", Enabled: true}
	s.runFileSchedule(context.Background(), sc)

	if atomic.LoadInt32(&fwd.fileScheduleRuns) != 1 {
		t.Fatalf("fileScheduleRuns = %d, want 1", fwd.fileScheduleRuns)
	}
	if atomic.LoadInt32(&fwd.queueDrains) != 1 {
		t.Fatalf("queueDrains = %d, want 1", fwd.queueDrains)
	}
}

func TestStartDrainsQueueBeforeRegisteringSchedules(t *testing.T) {
	fwd := &fakeForwarder{}
	store := &fakeStore{
		channelScheds: []storage.ChannelForwardSchedule{{ID: "c1", CronExpr: "@every 1h", Enabled: true}},
	}
	s := New(fwd, store, 4, "acct1", zap.NewNop())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	if atomic.LoadInt32(&fwd.queueDrains) != 1 {
		t.Fatalf("queueDrains = %d, want 1 from the startup drain", fwd.queueDrains)
	}
}

func TestTryLockAndUnlock(t *testing.T) {
	s := New(&fakeForwarder{}, &fakeStore{}, 1, "acct1", zap.NewNop())

	if !s.tryLock("a") {
		t.Fatal("tryLock() = false on first acquisition, want true")
	}
	if s.tryLock("a") {
		t.Fatal("tryLock() = true while already held, want false")
	}
	s.unlock("a")
	if !s.tryLock("a") {
		t.Fatal("tryLock() = false after unlock, want true")
	}
}

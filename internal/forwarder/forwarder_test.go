package forwarder

import (
	"strings"
	"testing"

	"spectra-core/internal/telegram/pool"
)

func TestReverseMessagesOrdersAscendingByID(t *testing.T) {
	newestFirst := []pool.Message{{ID: 30}, {ID: 20}, {ID: 10}}

	got := reverseMessages(newestFirst)

	want := []int{10, 20, 30}
	for i, m := range got {
		if m.ID != want[i] {
			t.Fatalf("reverseMessages()[%d].ID = %d, want %d", i, m.ID, want[i])
		}
	}
	// newestFirst must be untouched.
	if newestFirst[0].ID != 30 {
		t.Fatalf("reverseMessages mutated its input")
	}
}

func TestReverseMessagesEmpty(t *testing.T) {
	if got := reverseMessages(nil); len(got) != 0 {
		t.Fatalf("reverseMessages(nil) = %v, want empty", got)
	}
}

func TestTallyGroupCountsOnlyMediaMessages(t *testing.T) {
	group := []pool.Message{
		{ID: 1, HasMedia: true, MediaBytes: 100},
		{ID: 2, HasMedia: false},
		{ID: 3, HasMedia: true, MediaBytes: 250},
	}

	outcome := tallyGroup(group)

	if outcome.filesForwarded != 2 {
		t.Fatalf("filesForwarded = %d, want 2", outcome.filesForwarded)
	}
	if outcome.bytesForwarded != 350 {
		t.Fatalf("bytesForwarded = %d, want 350", outcome.bytesForwarded)
	}
	if outcome.forwarded {
		t.Fatalf("tallyGroup must leave forwarded false; caller sets it")
	}
}

func TestTallyGroupNoMedia(t *testing.T) {
	group := []pool.Message{{ID: 1}, {ID: 2}}

	outcome := tallyGroup(group)

	if outcome.filesForwarded != 0 || outcome.bytesForwarded != 0 {
		t.Fatalf("tallyGroup() = %+v, want zero counts", outcome)
	}
}

func TestCheckpointCtxIsStableAndScopedPerSchedule(t *testing.T) {
	a := checkpointCtx("schedule-a")
	b := checkpointCtx("schedule-b")

	if a == b {
		t.Fatalf("checkpointCtx must differ per schedule id, got %q twice", a)
	}
	if !strings.Contains(a, "schedule-a") {
		t.Fatalf("checkpointCtx(%q) = %q, want it to contain the schedule id", "schedule-a", a)
	}
}

func TestShortErrorPassesThroughShortMessages(t *testing.T) {
	err := errString("rpc: CHAT_ADMIN_REQUIRED")
	if got := shortError(err); got != "rpc: CHAT_ADMIN_REQUIRED" {
		t.Fatalf("shortError() = %q, want unchanged short message", got)
	}
}

func TestShortErrorTruncatesLongMessages(t *testing.T) {
	long := strings.Repeat("x ", 250)
	got := shortError(errString(long))
	if len(got) != 200 {
		t.Fatalf("shortError() length = %d, want 200", len(got))
	}
}

type errString string

func (e errString) Error() string { return string(e) }

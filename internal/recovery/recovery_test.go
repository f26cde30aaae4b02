package recovery_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/gotd/td/tgerr"

	"spectra-core/internal/recovery"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		err         error
		wantCat     recovery.Category
		wantRecover bool
	}{
		{"channel private", recovery.ErrChannelPrivate, recovery.CategoryPermission, false},
		{"user banned", recovery.ErrUserBanned, recovery.CategoryPermission, false},
		{"admin required", recovery.ErrChatAdminRequired, recovery.CategoryPermission, false},
		{"auth key invalid", recovery.ErrAuthKeyInvalid, recovery.CategoryAuth, false},
		{"context deadline", context.DeadlineExceeded, recovery.CategoryNetwork, true},
		{"unknown", errors.New("something odd"), recovery.CategoryUnknown, true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := recovery.Classify(tc.err)
			if got.Category != tc.wantCat {
				t.Fatalf("Classify(%v).Category = %v, want %v", tc.err, got.Category, tc.wantCat)
			}
			if got.Recoverable != tc.wantRecover {
				t.Fatalf("Classify(%v).Recoverable = %v, want %v", tc.err, got.Recoverable, tc.wantRecover)
			}
		})
	}
}

func TestWrapRPCErrorMapsKnownTypes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		rpcType    string
		wantTarget error
	}{
		{"channel private", "CHANNEL_PRIVATE", recovery.ErrChannelPrivate},
		{"user banned", "USER_BANNED_IN_CHANNEL", recovery.ErrUserBanned},
		{"admin required", "CHAT_ADMIN_REQUIRED", recovery.ErrChatAdminRequired},
		{"auth key invalid", "AUTH_KEY_INVALID", recovery.ErrAuthKeyInvalid},
		{"forwards restricted", "CHAT_FORWARDS_RESTRICTED", recovery.ErrForwardsRestricted},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			raw := &tgerr.Error{Code: 400, Message: tc.rpcType, Type: tc.rpcType}
			wrapped := recovery.WrapRPCError(raw)
			if !errors.Is(wrapped, tc.wantTarget) {
				t.Fatalf("WrapRPCError(%v) = %v, want it to match %v", raw, wrapped, tc.wantTarget)
			}
			if !errors.Is(wrapped, raw) {
				t.Fatalf("WrapRPCError(%v) = %v, want the original RPC error preserved", raw, wrapped)
			}
		})
	}
}

func TestWrapRPCErrorLeavesUnrecognizedTypesAlone(t *testing.T) {
	t.Parallel()

	raw := &tgerr.Error{Code: 500, Message: "SOME_OTHER_ERROR", Type: "SOME_OTHER_ERROR"}
	if got := recovery.WrapRPCError(raw); got != error(raw) {
		t.Fatalf("WrapRPCError(%v) = %v, want unchanged", raw, got)
	}
}

func TestRetrierTreatsForwardsRestrictedAsNonRetryable(t *testing.T) {
	t.Parallel()

	r := recovery.New(recovery.WithRandom(func() float64 { return 0 }))
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return &tgerr.Error{Code: 400, Message: "CHAT_FORWARDS_RESTRICTED", Type: "CHAT_FORWARDS_RESTRICTED"}
	})
	if !errors.Is(err, recovery.ErrForwardsRestricted) {
		t.Fatalf("Do() error = %v, want ErrForwardsRestricted", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (restricted-forward errors must not retry)", calls)
	}
}

func TestRetrierStopsOnNonRecoverable(t *testing.T) {
	t.Parallel()

	r := recovery.New(recovery.WithRandom(func() float64 { return 0 }))
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return recovery.ErrChannelPrivate
	})
	if !errors.Is(err, recovery.ErrChannelPrivate) {
		t.Fatalf("Do() error = %v, want ErrChannelPrivate", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (non-recoverable errors must not retry)", calls)
	}
}

func TestRetrierExhaustsBudget(t *testing.T) {
	t.Parallel()

	r := recovery.New(recovery.WithMaxRetries(2), recovery.WithRandom(func() float64 { return 0 }))
	calls := 0
	boom := fmt.Errorf("boom: %w", io.EOF)
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	var maxErr *recovery.ErrMaxRetriesExceeded
	if !errors.As(err, &maxErr) {
		t.Fatalf("Do() error = %v, want *ErrMaxRetriesExceeded", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3 (1 initial + 2 retries)", calls)
	}
}

func TestRetrierSucceedsAfterTransientError(t *testing.T) {
	t.Parallel()

	r := recovery.New(recovery.WithRandom(func() float64 { return 0 }))
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestRetrierHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := recovery.New()
	err := r.Do(ctx, func(context.Context) error {
		return errors.New("network blip")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled (backoff sleep must respect cancellation)", err)
	}
}

func TestRedactStripsKnownPatterns(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
	}{
		{"password kv", "login failed: password=hunter2secret"},
		{"api hash kv", "dial error api_hash=0123456789abcdef0123456789abcdef"},
		{"bearer token", "request failed: Authorization: Bearer abc123DEF456.ghi789"},
		{"bot token", "webhook call to 1234567890:" + strings.Repeat("A", 35) + " failed"},
		{"base64 blob", "dumped blob: " + strings.Repeat("QUJDREVGR0hJSktMTU5PUFFSU1RVVldYWVo", 2)},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := recovery.Redact(tc.in)
			if !strings.Contains(got, "[REDACTED]") {
				t.Fatalf("Redact(%q) = %q, want a [REDACTED] placeholder", tc.in, got)
			}
		})
	}
}

func TestRetrierHonorsExplicitFloodWait(t *testing.T) {
	t.Parallel()

	// randomFn = 0.5 zeroes the signed jitter term (2*0.5-1 == 0), so the
	// sleep should land exactly on the flood-wait duration itself: a lower
	// bound for the ±20%-jittered window the spec's boundary scenario checks.
	r := recovery.New(recovery.WithRandom(func() float64 { return 0.5 }))
	calls := 0
	start := time.Now()
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return &tgerr.Error{Code: 420, Message: "FLOOD_WAIT_5", Type: "FLOOD_WAIT", Argument: 5}
		}
		return nil
	})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (one flood wait, then success)", calls)
	}
	if elapsed < 4*time.Second || elapsed > 7*time.Second {
		t.Fatalf("elapsed = %v, want within [4s,7s] for FloodWait(5) plus jitter", elapsed)
	}
}

func TestFloodWaitJitterIsFlooredForShortWaits(t *testing.T) {
	t.Parallel()

	// randomFn = 1 drives the jitter to its maximum positive magnitude. For a
	// 2s wait, floodJitterFrac of wait is only 0.4s, below floodJitterMin, so
	// the magnitude is floored to 1s and the sleep comes to 3s.
	r := recovery.New(recovery.WithRandom(func() float64 { return 1 }))
	calls := 0
	start := time.Now()
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return &tgerr.Error{Code: 420, Message: "FLOOD_WAIT_2", Type: "FLOOD_WAIT", Argument: 2}
		}
		return nil
	})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	// wait=2s, floodJitterFrac=0.2 => jitter magnitude floored to 1s (min),
	// so total sleep should be within [2s, 3.5s].
	if elapsed < 2*time.Second || elapsed > 3500*time.Millisecond {
		t.Fatalf("elapsed = %v, want within [2s,3.5s] for FloodWait(2) plus floored jitter", elapsed)
	}
}

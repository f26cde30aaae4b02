package recovery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gotd/td/tgerr"
)

// Retry policy constants (§4.9): exponential backoff with base=1s, capped at
// 300s, jitter ±30% applied symmetrically, at most 3 retries per logical
// operation by default.
const (
	backoffBase       = 1 * time.Second
	backoffCap        = 300 * time.Second
	jitterFraction    = 0.3
	defaultMaxRetries = 3
	floodJitterFrac   = 0.2
	floodJitterMin    = 1 * time.Second
)

// ErrMaxRetriesExceeded wraps the last error once the retry budget for a
// logical operation is spent.
type ErrMaxRetriesExceeded struct {
	Attempts int
	Last     error
}

func (e *ErrMaxRetriesExceeded) Error() string {
	return fmt.Sprintf("recovery: max retries exceeded (%d attempts): %v", e.Attempts, e.Last)
}

func (e *ErrMaxRetriesExceeded) Unwrap() error { return e.Last }

// Retrier wraps a call to an upstream verb with flood-wait honoring,
// jittered exponential backoff, and error classification. One Retrier
// instance is safe for concurrent use by multiple goroutines; it holds no
// per-call state.
type Retrier struct {
	maxRetries int
	randomFn   func() float64
	mu         sync.Mutex
}

// Option customizes a Retrier.
type Option func(*Retrier)

// WithMaxRetries overrides the default retry budget. n<=0 means unlimited.
func WithMaxRetries(n int) Option {
	return func(r *Retrier) { r.maxRetries = n }
}

// WithRandom overrides the jitter source; used by tests for determinism.
func WithRandom(fn func() float64) Option {
	return func(r *Retrier) {
		if fn != nil {
			r.randomFn = fn
		}
	}
}

// New creates a Retrier with the §4.9 default policy.
func New(opts ...Option) *Retrier {
	r := &Retrier{maxRetries: defaultMaxRetries, randomFn: rand.Float64}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do invokes fn, sleeping through FloodWait errors (the requested wait plus
// floodJitter), and retrying Network/Unknown recoverable errors with jittered
// exponential backoff up to the configured retry budget. Permission and Auth
// errors (and any classification with Recoverable=false) are returned
// immediately, per §7's propagation policy. An Unknown error is retried once
// before being treated as exhausted, matching the "reclassified as fatal"
// rule in §7.
func (r *Retrier) Do(ctx context.Context, fn func(context.Context) error) error {
	attempt := 0
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		err = WrapRPCError(err)

		if wait, ok := tgerr.AsFloodWait(err); ok {
			if sleepErr := r.sleep(ctx, wait+r.floodJitter(wait)); sleepErr != nil {
				return sleepErr
			}
			continue // flood waits do not consume the retry budget
		}

		class := Classify(err)
		if !class.Recoverable {
			return err
		}
		if class.Category == CategoryUnknown && attempt >= 1 {
			return &ErrMaxRetriesExceeded{Attempts: attempt + 1, Last: err}
		}

		if r.maxRetries > 0 && attempt >= r.maxRetries {
			return &ErrMaxRetriesExceeded{Attempts: attempt + 1, Last: err}
		}

		delay := r.backoff(attempt)
		attempt++
		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
}

// backoff computes base*2^attempt seconds, capped at backoffCap, multiplied
// by a symmetric jitter in [1-jitterFraction, 1+jitterFraction].
func (r *Retrier) backoff(attempt int) time.Duration {
	seconds := float64(backoffBase) * math.Pow(2, float64(attempt))
	if seconds > float64(backoffCap) {
		seconds = float64(backoffCap)
	}
	jitter := 1 + (r.random()*2-1)*jitterFraction
	return time.Duration(seconds * jitter)
}

// floodJitter returns a signed jitter of up to ±floodJitterFrac of wait, so
// concurrent workers forced to the same mandatory flood-wait do not all wake
// up and retry in lockstep. The jitter magnitude is floored at floodJitterMin
// so short waits still get some spread.
func (r *Retrier) floodJitter(wait time.Duration) time.Duration {
	magnitude := time.Duration(float64(wait) * floodJitterFrac)
	if magnitude < floodJitterMin {
		magnitude = floodJitterMin
	}
	return time.Duration(float64(magnitude) * (2*r.random() - 1))
}

func (r *Retrier) random() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.randomFn()
}

func (r *Retrier) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

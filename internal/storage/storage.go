// Package storage is the archive's single writer (C2): a relational store,
// WAL-mode, with all mutating operations idempotent on primary key. Every
// other component reads through queries and writes through the operations
// declared here; nothing outside this package opens the database file.
package storage

import (
	"context"
	"database/sql"
	"math/rand/v2"
	"time"

	"github.com/go-faster/errors"
	_ "github.com/mattn/go-sqlite3"
)

// contentionBackoff is the retry schedule that implements the engine's
// fixed 3-retry / 1s-2s-4s policy on SQLITE_BUSY-class contention. This is
// deliberately not the recovery.Retrier: retries here are bounded and
// schedule-fixed by design, not jittered-exponential against an arbitrary
// upstream.
var contentionBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// Store owns the single *sql.DB handle for the archive.
type Store struct {
	db *sql.DB
}

// Open creates (if necessary) and opens the archive at path, enabling WAL
// journaling and foreign-key enforcement, and creates any missing table from
// schema. Schema creation is itself idempotent and safe to run on every
// start.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	db.SetMaxOpenConns(1) // single logical writer; sqlite3 serializes regardless
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// isBusy reports whether err looks like SQLITE_BUSY/SQLITE_LOCKED contention
// worth retrying. go-sqlite3's error type isn't imported directly to keep
// this check import-light; the driver surfaces these as plain string errors
// under some build tags, so a substring check is the portable option here.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return contains(msg, "database is locked") || contains(msg, "SQLITE_BUSY") || contains(msg, "SQLITE_LOCKED")
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

// withRetry runs fn, retrying up to len(contentionBackoff) times with the
// fixed 1s/2s/4s schedule when fn fails with write contention. jitter is
// added within each fixed step so concurrent writers across processes don't
// all wake in lockstep.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		if attempt >= len(contentionBackoff) {
			return errors.Wrap(err, "write contention exceeded retry budget")
		}
		delay := contentionBackoff[attempt] + time.Duration(rand.Float64()*200)*time.Millisecond
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func nowUnix() int64 { return time.Now().Unix() }

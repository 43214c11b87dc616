package tilestore

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/atlastiles/tilegen/internal/timeutil"
)

// ErrNotFound is returned by Get when no record exists for the key.
var ErrNotFound = errors.New("tilestore: record not found")

// StoreError wraps a storage-layer failure. Transient errors (lock
// contention, timeouts) are safe to retry with backoff; anything else
// means the store can no longer be trusted and the run must abort.
type StoreError struct {
	Op        string
	Err       error
	Transient bool
}

func (e *StoreError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("tilestore: %s (%s): %v", e.Op, kind, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable store error.
func IsTransient(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Transient
}

// wrapErr classifies a database error. sql.ErrNoRows and context errors
// pass through untouched so callers can branch on them directly.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &StoreError{Op: op, Err: err, Transient: transient(err)}
}

func transient(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// RetryTransient runs fn, retrying transient store errors with jittered
// exponential backoff. Fatal store errors and non-store errors return
// immediately.
func RetryTransient(ctx context.Context, clock timeutil.Clock, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	delay := 50 * time.Millisecond
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !IsTransient(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		// Full jitter keeps concurrent workers from retrying in lockstep.
		sleep := time.Duration(rand.Int64N(int64(delay)) + int64(delay)/2)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(sleep):
		}
		if delay < 2*time.Second {
			delay *= 2
		}
	}
	return err
}

package httputil

import (
	"context"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/atlastiles/tilegen/internal/timeutil"
)

// Backoff is a jittered exponential backoff policy. The zero value is not
// usable; take DefaultBackoff and adjust.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int
}

// DefaultBackoff suits the tile provider and upload API: both answer 429
// well before these limits matter for a batch tool.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:       time.Second,
		Max:        60 * time.Second,
		MaxRetries: 15,
	}
}

// Delay returns the sleep before retry attempt (0-based), with full
// jitter so parallel workers spread out after a shared 429.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base << uint(attempt)
	if d > b.Max || d <= 0 {
		d = b.Max
	}
	return time.Duration(rand.Int64N(int64(d)) + int64(d)/2)
}

// Wait sleeps for the attempt's delay, honoring cancellation.
func (b Backoff) Wait(ctx context.Context, clock timeutil.Clock, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(b.Delay(attempt)):
		return nil
	}
}

// Retryable reports whether an HTTP status is worth retrying: 429 and the
// 5xx family (the provider occasionally answers 509 on bandwidth caps).
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

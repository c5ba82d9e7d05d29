package netutil

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrRetryWindowExhausted is returned once the next backoff delay would
// exceed the retry window.
var ErrRetryWindowExhausted = errors.New("retry window exhausted")

// Backoff computes exponentially growing delays with random jitter.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter adds up to Jitter*delay of random extra delay. 0 disables it.
	Jitter float64
}

// Delay returns the delay before retry number attempt (0-based). Without a
// Max the delay saturates at the largest time.Duration.
func (b Backoff) Delay(attempt int) time.Duration {
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	limit := float64(math.MaxInt64)
	if b.Max > 0 {
		limit = float64(b.Max)
	}
	d := float64(b.Base) * math.Pow(mult, float64(attempt))
	if math.IsNaN(d) {
		// zero Base times an overflowed power
		d = 0
	}
	d = min(d, limit)
	if b.Jitter > 0 {
		d = min(d+d*b.Jitter*rand.Float64(), limit)
	}
	if d >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Retrier runs an operation until it succeeds, fails permanently, or the
// accumulated backoff would exceed Window.
type Retrier struct {
	Backoff Backoff
	Window  time.Duration
	Clock   clock.Clock

	// OnRetry, if set, is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Do calls fn until it returns nil or a non-retryable error. Errors from a
// cancelled ctx are returned as is.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	clk := r.Clock
	if clk == nil {
		clk = clock.New()
	}
	var spent time.Duration
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsRetryable(err) {
			return err
		}

		delay := r.Backoff.Delay(attempt)
		if delay > r.Window-spent {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetryWindowExhausted, attempt+1, err)
		}
		spent += delay
		if r.OnRetry != nil {
			r.OnRetry(attempt, delay, err)
		}

		timer := clk.Timer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// IsRetryable classifies fetch errors. Cancellation, request setup errors
// and client errors other than 408/429 are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}

	var nonRetryable *NonRetryableError
	return !errors.As(err, &nonRetryable)
}

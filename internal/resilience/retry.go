package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Observer is told about every retry before the backoff sleep. attempt is
// the 1-based number of the retry about to happen. It cannot change control
// flow; it exists for logging.
type Observer func(err error, attempt int, delay time.Duration)

// Policy configures Retry. The zero value performs a single attempt.
type Policy struct {
	// Retries is the number of retries after the first attempt.
	Retries int

	// BaseDelay is the backoff unit: the delay after failed attempt k
	// (0-indexed) is BaseDelay * 2^k plus jitter.
	BaseDelay time.Duration

	// MaxDelay caps the exponential part when > 0.
	MaxDelay time.Duration

	// MaxJitter bounds the random jitter added to every delay: [0, MaxJitter).
	MaxJitter time.Duration

	// Retryable decides whether an error is worth another attempt.
	// nil retries everything except context cancellation.
	Retryable func(error) bool

	// After returns a server-advised wait for err (e.g. Retry-After). A
	// positive value replaces the computed backoff.
	After func(error) time.Duration

	// OnRetry is invoked before each retry sleep.
	OnRetry Observer

	// Sleep waits for d or until ctx is done. nil uses a real timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy is the budget used for vision and reasoning calls:
// 3 retries (4 attempts) starting at 500ms.
func DefaultPolicy() Policy {
	return Policy{
		Retries:   3,
		BaseDelay: 500 * time.Millisecond,
		MaxJitter: 250 * time.Millisecond,
	}
}

// PollPolicy is the budget for slow background jobs: 6 attempts starting at 2s.
func PollPolicy() Policy {
	return Policy{
		Retries:   5,
		BaseDelay: 2 * time.Second,
		MaxJitter: 250 * time.Millisecond,
	}
}

// Retry runs op until it succeeds, returns a non-retryable error, or the
// retry budget is spent. On exhaustion the last error is returned as-is.
// Each call starts with a fresh budget.
func Retry[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T

	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		if attempt >= p.Retries || !p.retryable(err) {
			return zero, err
		}

		delay := p.Delay(attempt)
		if p.After != nil {
			if d := p.After(err); d > 0 {
				delay = d
			}
		}
		if p.OnRetry != nil {
			p.OnRetry(err, attempt+1, delay)
		}
		if serr := p.sleep(ctx, delay); serr != nil {
			return zero, serr
		}
	}
}

// Delay returns the backoff before the retry that follows failed attempt k.
func (p Policy) Delay(attempt int) time.Duration {
	wait := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if p.MaxDelay > 0 && wait > float64(p.MaxDelay) {
		wait = float64(p.MaxDelay)
	}

	d := time.Duration(wait)
	if p.MaxJitter > 0 {
		d += time.Duration(rand.Int64N(int64(p.MaxJitter)))
	}
	return d
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/sheetsolver/internal/fault"
)

// fakeClock records requested sleeps without waiting.
type fakeClock struct {
	slept []time.Duration
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	return ctx.Err()
}

func failNTimes(n int, err error) (func(context.Context) (string, error), *int32) {
	var calls int32
	return func(context.Context) (string, error) {
		c := atomic.AddInt32(&calls, 1)
		if int(c) <= n {
			return "", err
		}
		return "ok", nil
	}, &calls
}

func TestRetry_SucceedsAfterKFailures(t *testing.T) {
	for k := 0; k <= 3; k++ {
		clock := &fakeClock{}
		p := DefaultPolicy()
		p.Sleep = clock.Sleep

		op, calls := failNTimes(k, errors.New("flaky"))
		v, err := Retry(context.Background(), p, op)
		require.NoError(t, err, "k=%d", k)
		assert.Equal(t, "ok", v)
		assert.EqualValues(t, k+1, *calls)
		assert.Len(t, clock.slept, k)
	}
}

func TestRetry_ExhaustionReturnsLastErrorUnchanged(t *testing.T) {
	clock := &fakeClock{}
	p := DefaultPolicy()
	p.Sleep = clock.Sleep

	last := fault.New(fault.UpstreamUnavailable, "reasoning", "503")
	var calls int
	_, err := Retry(context.Background(), p, func(context.Context) (int, error) {
		calls++
		if calls == p.Retries+1 {
			return 0, last
		}
		return 0, errors.New("earlier failure")
	})
	require.Error(t, err)
	assert.Same(t, last, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, fault.UpstreamUnavailable, fault.KindOf(err))
}

func TestRetry_DelaysGrowExponentiallyWithBoundedJitter(t *testing.T) {
	clock := &fakeClock{}
	p := Policy{Retries: 3, BaseDelay: 100 * time.Millisecond, MaxJitter: 250 * time.Millisecond, Sleep: clock.Sleep}

	op, _ := failNTimes(10, errors.New("down"))
	_, err := Retry(context.Background(), p, op)
	require.Error(t, err)
	require.Len(t, clock.slept, 3)

	for k, d := range clock.slept {
		base := p.BaseDelay * time.Duration(1<<k)
		assert.GreaterOrEqual(t, d, base, "delay %d", k)
		assert.Less(t, d, base+p.MaxJitter, "delay %d", k)
	}
}

func TestRetry_ObserverSeesEveryRetry(t *testing.T) {
	clock := &fakeClock{}
	var attempts []int
	var delays []time.Duration
	p := Policy{
		Retries:   2,
		BaseDelay: time.Millisecond,
		Sleep:     clock.Sleep,
		OnRetry: func(err error, attempt int, delay time.Duration) {
			assert.EqualError(t, err, "nope")
			attempts = append(attempts, attempt)
			delays = append(delays, delay)
		},
	}

	op, _ := failNTimes(5, errors.New("nope"))
	_, _ = Retry(context.Background(), p, op)

	assert.Equal(t, []int{1, 2}, attempts)
	assert.Equal(t, clock.slept, delays)
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	terminal := fault.New(fault.UpstreamProcessingFailed, "poll", "job failed")
	p := DefaultPolicy()
	p.Sleep = (&fakeClock{}).Sleep
	p.Retryable = func(err error) bool { return !fault.Is(err, fault.UpstreamProcessingFailed) }

	op, calls := failNTimes(10, terminal)
	_, err := Retry(context.Background(), p, op)
	assert.Same(t, terminal, err)
	assert.EqualValues(t, 1, *calls)
}

func TestRetry_ContextErrorsNotRetried(t *testing.T) {
	p := DefaultPolicy()
	p.Sleep = (&fakeClock{}).Sleep

	op, calls := failNTimes(10, context.DeadlineExceeded)
	_, err := Retry(context.Background(), p, op)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, *calls)
}

func TestRetry_CancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{Retries: 3, BaseDelay: time.Hour}
	op, calls := failNTimes(10, errors.New("down"))
	_, err := Retry(ctx, p, op)
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 1, *calls)
}

func TestWithTimeout_ReturnsValue(t *testing.T) {
	v, err := WithTimeout(context.Background(), time.Second, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestWithTimeout_NeverResolvingOperation(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	start := time.Now()
	_, err := WithTimeout(context.Background(), 50*time.Millisecond, func(context.Context) (int, error) {
		<-block // ignores its context on purpose
		return 0, nil
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, fault.Timeout, fault.KindOf(err))
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestWithTimeout_CancelsUnderlyingContext(t *testing.T) {
	cancelled := make(chan struct{})
	_, err := WithTimeout(context.Background(), 20*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		close(cancelled)
		return 0, ctx.Err()
	})
	assert.Equal(t, fault.Timeout, fault.KindOf(err))

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("operation context was not cancelled")
	}
}

func TestWithTimeout_ParentCancellationPassesThrough(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WithTimeout(ctx, time.Second, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEqual(t, fault.Timeout, fault.KindOf(err))
}

func TestWithTimeout_ZeroDisablesBound(t *testing.T) {
	v, err := WithTimeout(context.Background(), 0, func(ctx context.Context) (string, error) {
		_, hasDeadline := ctx.Deadline()
		assert.False(t, hasDeadline)
		return "unbounded", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "unbounded", v)
}

func TestRetry_AdvisedDelayOverridesBackoff(t *testing.T) {
	clock := &fakeClock{}
	p := Policy{
		Retries:   2,
		BaseDelay: time.Second,
		MaxJitter: 250 * time.Millisecond,
		Sleep:     clock.Sleep,
		After: func(err error) time.Duration {
			if err.Error() == "slow down" {
				return 7 * time.Millisecond
			}
			return 0
		},
	}

	op, _ := failNTimes(1, errors.New("slow down"))
	_, err := Retry(context.Background(), p, op)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{7 * time.Millisecond}, clock.slept)
}

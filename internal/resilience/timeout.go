// Package resilience provides the bounded-time and retrying execution
// wrappers used by every network-calling stage.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abhisek/sheetsolver/internal/fault"
)

var errDeadline = errors.New("stage deadline reached")

// WithTimeout runs op with a context that is cancelled after d. The caller
// gets control back at the deadline even if op ignores its context; in that
// case op keeps running in the background and its result is discarded.
//
// A deadline hit surfaces as a fault.Timeout error. Cancellation of the
// parent context is returned unchanged. d <= 0 disables the bound.
func WithTimeout[T any](ctx context.Context, d time.Duration, op func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return op(ctx)
	}

	var zero T
	ctx, cancel := context.WithTimeoutCause(ctx, d, errDeadline)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := op(ctx)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(context.Cause(ctx), errDeadline) {
			return zero, timeoutError(d, r.err)
		}
		return r.v, r.err
	case <-ctx.Done():
		if errors.Is(context.Cause(ctx), errDeadline) {
			return zero, timeoutError(d, nil)
		}
		return zero, ctx.Err()
	}
}

func timeoutError(d time.Duration, cause error) error {
	if cause != nil {
		return &fault.Error{Kind: fault.Timeout, Err: fmt.Errorf("exceeded %s: %w", d, cause)}
	}
	return &fault.Error{Kind: fault.Timeout, Err: fmt.Errorf("exceeded %s", d)}
}

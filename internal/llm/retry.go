package llm

import (
	"context"
	"errors"
	"time"

	"github.com/abhisek/sheetsolver/internal/fault"
	"github.com/abhisek/sheetsolver/internal/resilience"
)

// RetryProvider is a decorator that retries transient errors with
// exponential backoff and jitter.
type RetryProvider struct {
	inner  Provider
	policy resilience.Policy
}

// WithRetry wraps a Provider with retry logic. The policy's Retryable, when
// set, is consulted in addition to the provider error rules.
func WithRetry(p Provider, policy resilience.Policy) Provider {
	return &RetryProvider{inner: p, policy: policy}
}

func (r *RetryProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	// The invalid-response allowance is per call, so the policy is copied.
	policy := r.policy
	invalidRetried := false
	custom := r.policy.Retryable
	policy.Retryable = func(err error) bool {
		if !shouldRetry(err, &invalidRetried) {
			return false
		}
		return custom == nil || custom(err)
	}
	if policy.After == nil {
		policy.After = retryAfter
	}

	return resilience.Retry(ctx, policy, func(ctx context.Context) (*Response, error) {
		return r.inner.Generate(ctx, req)
	})
}

func (r *RetryProvider) ModelID() string {
	return r.inner.ModelID()
}

// shouldRetry determines if an error is retryable.
func shouldRetry(err error, invalidRetried *bool) bool {
	// Configuration problems never improve on retry.
	var maxTok *ErrMaxTokensExceeded
	if errors.As(err, &maxTok) || fault.Is(err, fault.PreconditionFailed) || fault.Is(err, fault.MissingConfiguration) {
		return false
	}

	// An empty answer surfaces as UpstreamEmptyResponse right away.
	var empty *ErrEmptyResponse
	if errors.As(err, &empty) {
		return false
	}

	// Invalid response gets one retry.
	var invResp *ErrInvalidResponse
	if errors.As(err, &invResp) {
		if *invalidRetried {
			return false
		}
		*invalidRetried = true
		return true
	}

	// Rate limits, outages and plain network errors are treated as transient.
	return true
}

// retryAfter honours the provider's advised wait on rate limits.
func retryAfter(err error) time.Duration {
	var rl *ErrRateLimit
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

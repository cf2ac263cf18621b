package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nelani/payment-gateway/internal/payment/domain"
)

// RetryPolicy bounds repeated provider calls: MaxAttempts tries, with
// BaseDelay*Multiplier^(n-1) between them, only while Retryable(err) holds.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  int
	Retryable   func(error) bool

	// Sleep is swapped out in tests. Nil means a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy matches the provider contract: 3 attempts, 1s base
// delay doubling each attempt, retrying temporary failures only.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		Retryable:   func(err error) bool { return errors.Is(err, ErrTemporary) },
	}
}

// Do runs fn under the policy. Once attempts are exhausted the last error
// is surfaced as ErrUnavailable; a retried request is never dropped
// silently.
func (rp RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) (*SessionResult, error)) (*SessionResult, error) {
	sleep := rp.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}

	var lastErr error
	delay := rp.BaseDelay
	for attempt := 1; attempt <= rp.MaxAttempts; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		if rp.Retryable == nil || !rp.Retryable(err) {
			return nil, err
		}
		lastErr = err
		if attempt == rp.MaxAttempts {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			break
		}
		delay *= time.Duration(rp.Multiplier)
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryingAdapter wraps an adapter so CreateSession and ResumeSession run
// under the shared retry policy. Webhook parsing is never retried.
type retryingAdapter struct {
	inner  Adapter
	policy RetryPolicy
}

// WithRetry decorates a, applying policy uniformly to both session calls.
func WithRetry(a Adapter, policy RetryPolicy) Adapter {
	return &retryingAdapter{inner: a, policy: policy}
}

func (r *retryingAdapter) Identify() domain.Provider { return r.inner.Identify() }

func (r *retryingAdapter) SupportsResume() bool { return r.inner.SupportsResume() }

func (r *retryingAdapter) CreateSession(ctx context.Context, p *domain.Payment) (*SessionResult, error) {
	return r.policy.Do(ctx, func(ctx context.Context) (*SessionResult, error) {
		return r.inner.CreateSession(ctx, p)
	})
}

func (r *retryingAdapter) ResumeSession(ctx context.Context, p *domain.Payment) (*SessionResult, error) {
	return r.policy.Do(ctx, func(ctx context.Context) (*SessionResult, error) {
		return r.inner.ResumeSession(ctx, p)
	})
}

func (r *retryingAdapter) VerifyAndParseWebhook(payload []byte, signature string) (*Event, error) {
	return r.inner.VerifyAndParseWebhook(payload, signature)
}

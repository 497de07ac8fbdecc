package promptforge

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// RetryPolicy bounds how the call wrapper retries transient provider failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the backoff before the first retry; it doubles on each
	// further retry (base, 2*base, 4*base, ...).
	BaseDelay time.Duration

	// Jitter randomizes each delay by up to ±20% to avoid retry alignment.
	Jitter bool
}

// DefaultRetryPolicy matches the reference behavior: 3 total attempts with
// exponential backoff starting at one second.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	Jitter:      true,
}

// RetryOption configures the retrying wrapper.
type RetryOption func(*retryProvider)

// WithRateLimiter paces every attempt through the limiter. The provider
// endpoint is itself rate-limited, so outbound pacing keeps retries from
// amplifying pressure.
func WithRateLimiter(l *rate.Limiter) RetryOption {
	return func(p *retryProvider) { p.limiter = l }
}

// WithRetryLogger sets the logger used for per-attempt warnings.
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(p *retryProvider) { p.logger = logger }
}

// WithRetry wraps a provider so transient upstream failures are retried with
// exponential backoff. Rejected and unknown failures surface immediately.
// Each in-flight call sleeps independently; the wrapper holds no state
// across calls.
func WithRetry(inner Provider, policy RetryPolicy, opts ...RetryOption) Provider {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	p := &retryProvider{
		inner:  inner,
		policy: policy,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type retryProvider struct {
	inner   Provider
	policy  RetryPolicy
	limiter *rate.Limiter
	logger  *slog.Logger
}

func (p *retryProvider) Name() string { return p.inner.Name() }

func (p *retryProvider) Close() error { return p.inner.Close() }

func (p *retryProvider) ChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var lastErr error

	for attempt := 1; attempt <= p.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := p.sleep(ctx, p.delay(attempt-1)); err != nil {
				return ChatResponse{}, err
			}
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return ChatResponse{}, err
			}
		}

		resp, err := p.inner.ChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}

		if !IsUpstreamTransient(err) {
			return ChatResponse{}, err
		}

		lastErr = err
		p.logger.Warn("upstream call failed",
			"provider", p.inner.Name(),
			"attempt", attempt,
			"max_attempts", p.policy.MaxAttempts,
			"error", err,
		)
	}

	return ChatResponse{}, &UpstreamError{
		Kind:   UpstreamTransient,
		Detail: "retries exhausted",
		Err:    lastErr,
	}
}

// delay computes the backoff before retry number n (1-based).
func (p *retryProvider) delay(n int) time.Duration {
	d := p.policy.BaseDelay << (n - 1)
	if p.policy.Jitter {
		// ±20%
		f := 0.8 + 0.4*rand.Float64()
		d = time.Duration(float64(d) * f)
	}
	return d
}

func (p *retryProvider) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
